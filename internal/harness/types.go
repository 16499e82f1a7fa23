package harness

// Trace event types.
const (
	EventStep = "step"
	EventBus  = "event"
)

// TraceEvent is one executed step or one bus message observed after it.
type TraceEvent struct {
	Type   string         `json:"type"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Seq    int64          `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps and bus events in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// State holds the final tables: "ratings" rows and "counts".
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(typ, action string, args, result map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   typ,
		Action: action,
		Args:   args,
		Result: result,
		Seq:    int64(len(r.Trace) + 1),
	})
}

// Steps returns the trace entries for steps of the given kind.
func (r *Result) Steps(kind string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventStep && e.Action == kind {
			out = append(out, e)
		}
	}
	return out
}
