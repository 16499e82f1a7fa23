package engine

import (
	"log/slog"
	"time"
)

// Outcome tells whether a SyncData call actually ran a pass.
type Outcome string

const (
	// OutcomeCompleted means a pass visited every unsynced record.
	OutcomeCompleted Outcome = "completed"

	// OutcomeBusy means another pass was already running; the call was a no-op.
	OutcomeBusy Outcome = "busy"

	// OutcomeOffline means the device was offline; the call was a no-op.
	OutcomeOffline Outcome = "offline"

	// OutcomeCancelled means the context ended mid-pass. Unvisited records
	// stay unsynced and untouched.
	OutcomeCancelled Outcome = "cancelled"
)

// Summary aggregates the per-record results of one sync pass.
type Summary struct {
	PassID    string        `json:"passId,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Forced    bool          `json:"forced,omitempty"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Abandoned int           `json:"abandoned"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Errors    []string      `json:"errors,omitempty"`
}

// Ran reports whether a pass was executed.
func (s Summary) Ran() bool {
	return s.Outcome == OutcomeCompleted || s.Outcome == OutcomeCancelled
}

// Visited returns the number of records the pass looked at.
func (s Summary) Visited() int {
	return s.Success + s.Failed + s.Skipped + s.Abandoned
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("pass_id", s.PassID),
		slog.String("outcome", string(s.Outcome)),
		slog.Duration("duration", s.Duration),
		slog.Int("success", s.Success),
		slog.Int("failed", s.Failed),
		slog.Int("skipped", s.Skipped),
		slog.Int("abandoned", s.Abandoned),
	)
}
