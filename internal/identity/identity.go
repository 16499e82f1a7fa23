// Package identity manages the opaque per-profile device identifier and the
// externally configured tablet number attached to outgoing records.
package identity

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/ratingsync/internal/kv"
)

const (
	// DevicePrefix starts every generated device id.
	DevicePrefix = "tablet_"

	// DefaultTabletNumber is reported when no tablet number is configured.
	DefaultTabletNumber = "0"

	randomLen = 13
)

// DeviceID returns the persisted device id, generating and persisting a new
// one on first use. The id is stable for the life of the profile.
func DeviceID(store *kv.Store) (string, error) {
	if id, ok := store.Get(kv.KeyDeviceID); ok && id != "" {
		return id, nil
	}

	var id string
	err := store.Update(kv.KeyDeviceID, func(current string) (string, error) {
		if current != "" {
			id = current
			return current, nil
		}
		id = NewDeviceID()
		return id, nil
	})
	if err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// NewDeviceID generates a fresh id of the form tablet_<13 base36 chars>.
func NewDeviceID() string {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	s := n.Text(36)
	if len(s) < randomLen {
		s = strings.Repeat("0", randomLen-len(s)) + s
	}
	return DevicePrefix + s[:randomLen]
}

// TabletNumber returns the configured tablet number or DefaultTabletNumber.
func TabletNumber(store *kv.Store) string {
	return store.GetDefault(kv.KeyTabletNumber, DefaultTabletNumber)
}

// SetTabletNumber persists the tablet number. Empty resets to the default.
func SetTabletNumber(store *kv.Store, n string) error {
	if n == "" {
		return store.Delete(kv.KeyTabletNumber)
	}
	return store.Set(kv.KeyTabletNumber, n)
}
