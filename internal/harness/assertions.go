package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", describe(event))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertTraceContains checks that a step or event with the given action has
// a result matching the expected subset.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Action == a.Action && subsetDiff(event.Result, a.Result) == "" {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s with result %v", a.Action, a.Result),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the actions appear in
// order. Other entries may come between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Action]; !seen {
			positions[event.Action] = i + 1
		}
	}

	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action == a.Action {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the counts table, or every ratings row matching
// Where. At least one row must match.
func assertFinalState(state map[string]any, a Assertion) error {
	switch a.Table {
	case TableCounts:
		counts, _ := state[TableCounts].(map[string]any)
		if diff := subsetDiff(counts, a.Expect); diff != "" {
			return &AssertionError{Type: AssertFinalState, Expected: "counts " + formatMap(a.Expect), Actual: diff}
		}
		return nil

	case TableRatings:
		rows, _ := state[TableRatings].([]map[string]any)
		matched := 0
		for _, row := range rows {
			if subsetDiff(row, a.Where) != "" {
				continue
			}
			matched++
			if diff := subsetDiff(row, a.Expect); diff != "" {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("rating %s to have %s", formatMap(a.Where), formatMap(a.Expect)),
					Actual:   diff,
				}
			}
		}
		if matched == 0 {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("a rating matching %s", formatMap(a.Where)),
				Actual:   fmt.Sprintf("no match among %d ratings", len(rows)),
			}
		}
		return nil
	}
	return fmt.Errorf("unknown table %q", a.Table)
}

// subsetDiff returns "" when every key of want is in got with an equal
// value, or a description of the first mismatches. Values compare by their
// printed form so YAML ints match int64 ids.
func subsetDiff(got, want map[string]any) string {
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diffs []string
	for _, k := range keys {
		g, ok := got[k]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("%s missing", k))
			continue
		}
		if fmt.Sprint(g) != fmt.Sprint(want[k]) {
			diffs = append(diffs, fmt.Sprintf("%s=%v, want %v", k, g, want[k]))
		}
	}
	return strings.Join(diffs, "; ")
}

func formatMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, m[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}
