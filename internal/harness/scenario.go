package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage modes a scenario can run under.
const (
	StorageSQLite   = "sqlite"
	StorageFallback = "fallback"
)

// Sync modes for a sync step.
const (
	SyncNormal = "normal"
	SyncForce  = "force"
)

// Scenario defines a delivery scenario: a sequence of steps and assertions
// on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Storage selects the record store. Empty means sqlite.
	Storage string `yaml:"storage,omitempty"`

	// Retry overrides the engine retry policy.
	Retry *RetryPolicy `yaml:"retry,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// RetryPolicy mirrors the engine retry settings.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Step is one scenario action. Exactly one action field is set.
type Step struct {
	Save    *SaveStep      `yaml:"save,omitempty"`
	Sync    string         `yaml:"sync,omitempty"`
	Online  *bool          `yaml:"online,omitempty"`
	Offline *bool          `yaml:"offline,omitempty"`
	Advance time.Duration  `yaml:"advance,omitempty"`
	Remote  *RemoteStep    `yaml:"remote,omitempty"`
	Expect  map[string]any `yaml:"expect,omitempty"`
}

// SaveStep saves one rating.
type SaveStep struct {
	Identifier string `yaml:"identifier"`
	Rating     int    `yaml:"rating"`
	Comments   string `yaml:"comments,omitempty"`
}

// RemoteStep changes how the fake server answers.
type RemoteStep struct {
	FailNext   int  `yaml:"fail_next,omitempty"`
	FailAlways bool `yaml:"fail_always,omitempty"`
	Recover    bool `yaml:"recover,omitempty"`
	Status     int  `yaml:"status,omitempty"`
}

// Kind returns the trace name of the step's action.
func (s Step) Kind() string {
	switch {
	case s.Save != nil:
		return "save"
	case s.Sync == SyncForce:
		return "force_sync"
	case s.Sync != "":
		return "sync"
	case s.Online != nil && *s.Online, s.Offline != nil && !*s.Offline:
		return "online"
	case s.Online != nil, s.Offline != nil:
		return "offline"
	case s.Advance != 0:
		return "advance"
	case s.Remote != nil:
		return "remote"
	}
	return ""
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Save != nil, s.Sync != "", s.Online != nil, s.Offline != nil,
		s.Advance != 0, s.Remote != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Action is a step kind or bus event type.
	Action string `yaml:"action,omitempty"`

	// Result is a subset of the step or event result (trace_contains).
	Result map[string]any `yaml:"result,omitempty"`

	// Table is "ratings" or "counts" (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects rows of the ratings table (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset of the selected row (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// State tables for final_state assertions.
const (
	TableRatings = "ratings"
	TableCounts  = "counts"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	switch s.Storage {
	case "", StorageSQLite, StorageFallback:
	default:
		return fmt.Errorf("unknown storage %q", s.Storage)
	}
	if r := s.Retry; r != nil {
		if r.MaxRetries < 1 || r.InitialBackoff <= 0 || r.MaxBackoff < r.InitialBackoff {
			return fmt.Errorf("retry policy must have max_retries >= 1 and 0 < initial_backoff <= max_backoff")
		}
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
		}
		if step.Save != nil && (step.Save.Identifier == "" || step.Save.Rating == 0) {
			return fmt.Errorf("steps[%d]: save needs identifier and rating", i)
		}
		if step.Sync != "" && step.Sync != SyncNormal && step.Sync != SyncForce {
			return fmt.Errorf("steps[%d]: unknown sync mode %q", i, step.Sync)
		}
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", i)
		}
		if r := step.Remote; r != nil && r.FailNext == 0 && !r.FailAlways && !r.Recover {
			return fmt.Errorf("steps[%d]: remote needs fail_next, fail_always or recover", i)
		}
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table != TableRatings && a.Table != TableCounts {
			return fmt.Errorf("assertions[%d]: table must be %q or %q", index, TableRatings, TableCounts)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
