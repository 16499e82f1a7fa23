package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/ratingsync/internal/kv"
	"github.com/roach88/ratingsync/internal/rating"
	"github.com/roach88/ratingsync/internal/testutil"
)

// createTestStore creates a new temp-dir store driven by a fake clock.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.DefaultStart)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clk))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// createTestProfile opens a kv store in a temp dir.
func createTestProfile(t *testing.T) *kv.Store {
	t.Helper()
	p, err := kv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("kv.Open() failed: %v", err)
	}
	return p
}

// createTestRating returns a minimal valid rating.
func createTestRating(identifier string, value int) rating.Record {
	return rating.Record{
		Identifier: identifier,
		Rating:     value,
		DeviceID:   "tablet_test",
	}
}
