package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/ratingsync/internal/bus"
	"github.com/roach88/ratingsync/internal/connectivity"
	"github.com/roach88/ratingsync/internal/engine"
	"github.com/roach88/ratingsync/internal/kv"
	"github.com/roach88/ratingsync/internal/rating"
	"github.com/roach88/ratingsync/internal/store"
	"github.com/roach88/ratingsync/internal/testutil"
)

// DeviceID is stamped on every record a scenario saves.
const DeviceID = "tablet_harness000000"

// Start is the fake clock's time when a scenario begins.
var Start = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// Remote is the fake rating server a scenario delivers to.
// *testutil.Endpoint implements it.
type Remote interface {
	APIBase() string
	FailNext(n, status int)
	FailAlways(status int)
	Recover()
	Count() int
}

// Harness holds the live components of one scenario run.
type Harness struct {
	records *store.Records
	profile *kv.Store
	engine  *engine.Engine
	coord   *connectivity.Coordinator
	remote  Remote
	clock   *testutil.FakeClock
	events  *bus.Subscription
	cfg     engine.Config
}

// Run executes a scenario in a fresh data directory and returns the result.
// The error is non-nil only when the scenario could not be executed; failed
// expectations and assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, remote Remote) (*Result, error) {
	dir, err := os.MkdirTemp("", "ratingsync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h, err := setup(dir, scenario, remote)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Kind(), err)
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func setup(dir string, scenario *Scenario, remote Remote) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := testutil.NewFakeClock(Start)

	profile, err := kv.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}

	b := bus.New()
	var primary *store.Store
	if scenario.Storage != StorageFallback {
		primary, err = store.Open(filepath.Join(dir, "ratings.db"), store.WithClock(clk))
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}
	records := store.NewRecords(primary, profile, DeviceID,
		store.WithNotifier(func() { b.Notify(bus.NewData) }),
		store.WithRecordsClock(clk),
		store.WithLogger(logger))

	cfg := engine.DefaultConfig()
	if r := scenario.Retry; r != nil {
		cfg.MaxRetries = r.MaxRetries
		cfg.InitialBackoff = r.InitialBackoff
		cfg.MaxBackoff = r.MaxBackoff
	}

	coord := connectivity.New(nil, connectivity.WithBus(b), connectivity.WithLogger(logger))
	eng := engine.New(records, engine.NewClient(remote.APIBase(), DeviceID),
		engine.WithConfig(cfg),
		engine.WithBus(b),
		engine.WithClock(clk),
		engine.WithOnline(coord.IsOnline),
		engine.WithPassIDs(&sequentialIDs{}),
		engine.WithLogger(logger))

	return &Harness{
		records: records,
		profile: profile,
		engine:  eng,
		coord:   coord,
		remote:  remote,
		clock:   clk,
		events:  b.Subscribe(),
		cfg:     cfg,
	}, nil
}

func (h *Harness) close() {
	h.events.Close()
	h.coord.Close()
	h.records.Close()
}

// execute runs one step, traces it and the bus messages it caused, and
// checks its expect clause.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	kind := step.Kind()
	var args, res map[string]any

	switch kind {
	case "save":
		args = map[string]any{
			"identifier": step.Save.Identifier,
			"rating":     step.Save.Rating,
		}
		if step.Save.Comments != "" {
			args["comments"] = step.Save.Comments
		}
		id, err := h.records.SaveRating(ctx, rating.Record{
			Identifier: step.Save.Identifier,
			Rating:     step.Save.Rating,
			Comments:   step.Save.Comments,
		})
		if err != nil {
			return err
		}
		res = map[string]any{"id": id, "fallback": id < 0}

	case "sync", "force_sync":
		run := h.engine.SyncData
		if kind == "force_sync" {
			run = h.engine.ForceSync
		}
		sum, err := run(ctx)
		if err != nil {
			return err
		}
		res = summaryResult(sum)

	case "online", "offline":
		online := kind == "online"
		changed := h.coord.SetOnline(online)
		res = map[string]any{"online": online, "changed": changed}
		h.record(kind, nil, res, result)
		h.check(index, kind, step.Expect, res, result)
		if online && changed {
			// Reconnecting flushes the queue once the state settles.
			sum, err := h.engine.SyncData(ctx)
			if err != nil {
				return err
			}
			h.record("reconnect_sync", nil, summaryResult(sum), result)
		}
		return nil

	case "advance":
		now := h.clock.Advance(step.Advance)
		args = map[string]any{"by": step.Advance.String()}
		res = map[string]any{"now": rating.FormatTime(now)}

	case "remote":
		r := step.Remote
		status := r.Status
		if status == 0 {
			status = 500
		}
		args = map[string]any{}
		switch {
		case r.Recover:
			h.remote.Recover()
			args["recover"] = true
		case r.FailAlways:
			h.remote.FailAlways(status)
			args["fail_always"] = true
			args["status"] = status
		default:
			h.remote.FailNext(r.FailNext, status)
			args["fail_next"] = r.FailNext
			args["status"] = status
		}
	}

	h.record(kind, args, res, result)
	h.check(index, kind, step.Expect, res, result)
	return nil
}

// record appends a step and then every bus message it published.
func (h *Harness) record(kind string, args, res map[string]any, result *Result) {
	result.add(EventStep, kind, args, res)
	for {
		msg, ok := h.events.TryNext()
		if !ok {
			return
		}
		result.add(EventBus, string(msg.Type), nil, messageResult(msg))
	}
}

func (h *Harness) check(index int, kind string, expect, res map[string]any, result *Result) {
	if len(expect) == 0 {
		return
	}
	if diff := subsetDiff(res, expect); diff != "" {
		result.AddError(fmt.Sprintf("steps[%d] (%s): %s", index, kind, diff))
	}
}

// snapshot captures the "ratings" and "counts" tables.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	var recs []rating.Record
	if primary := h.records.Primary(); primary != nil {
		rows, err := primary.ListRecent(ctx, 10000)
		if err != nil {
			return err
		}
		recs = append(recs, rows...)
	}
	var fb []rating.Record
	if _, err := h.profile.GetJSON(kv.KeyOfflineRatings, &fb); err != nil {
		return err
	}
	for i := range fb {
		fb[i].Source = rating.SourceFallback
	}
	recs = append(recs, fb...)
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		}
		return abs(recs[i].ID) < abs(recs[j].ID)
	})

	rows := make([]map[string]any, 0, len(recs))
	abandoned := 0
	for _, rec := range recs {
		rows = append(rows, recordRow(rec))
		if !rec.Synced && rec.SyncAttempts >= h.cfg.MaxRetries {
			abandoned++
		}
	}
	pending, err := h.records.CountUnsynced(ctx)
	if err != nil {
		return err
	}

	result.State[TableRatings] = rows
	result.State[TableCounts] = map[string]any{
		"pending":   pending,
		"abandoned": abandoned,
		"fallback":  h.records.FallbackCount(),
		"requests":  h.remote.Count(),
	}
	return nil
}

func recordRow(rec rating.Record) map[string]any {
	source := string(rec.Source)
	if source == "" {
		source = "primary"
	}
	return map[string]any{
		"id":            rec.ID,
		"identifier":    rec.Identifier,
		"rating":        rec.Rating,
		"synced":        rec.Synced,
		"sync_attempts": rec.SyncAttempts,
		"source":        source,
	}
}

func summaryResult(sum engine.Summary) map[string]any {
	res := map[string]any{
		"outcome":   string(sum.Outcome),
		"success":   sum.Success,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
		"abandoned": sum.Abandoned,
	}
	if sum.PassID != "" {
		res["pass_id"] = sum.PassID
	}
	if sum.Forced {
		res["forced"] = true
	}
	return res
}

func messageResult(msg bus.Message) map[string]any {
	switch {
	case msg.Online != nil:
		return map[string]any{"online": *msg.Online}
	case msg.Version != "":
		return map[string]any{"version": msg.Version}
	}
	if sum, ok := msg.Summary.(engine.Summary); ok {
		return summaryResult(sum)
	}
	return nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// sequentialIDs yields pass-1, pass-2, ...
type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("pass-%d", g.n)
}

// describe renders a step for error messages.
func describe(e TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s %s", e.Seq, e.Type, e.Action)
	if len(e.Args) > 0 {
		fmt.Fprintf(&b, " args=%v", e.Args)
	}
	if len(e.Result) > 0 {
		fmt.Fprintf(&b, " result=%v", e.Result)
	}
	return b.String()
}
