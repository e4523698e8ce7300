package workflow

import (
	"fmt"
	"strings"
)

// Status function a step's `if:` is built from.
type statusFunc string

const (
	fnSuccess   statusFunc = "success()"
	fnAlways    statusFunc = "always()"
	fnFailure   statusFunc = "failure()"
	fnCancelled statusFunc = "cancelled()"
)

// Condition is a parsed `if:` expression: a status function, optionally
// negated with `!`.
type Condition struct {
	fn     statusFunc
	negate bool
}

// JobState is what conditions are evaluated against.
type JobState struct {
	// Failed is set once any executed step failed.
	Failed bool
	// Cancelled is set once the run's context is done.
	Cancelled bool
}

// ParseCondition accepts `success()`, `always()`, `failure()`, `cancelled()`,
// each optionally negated and optionally wrapped in `${{ }}`. An empty
// expression means success().
func ParseCondition(expr string) (Condition, error) {
	s := strings.TrimSpace(expr)
	if inner, ok := strings.CutPrefix(s, "${{"); ok {
		inner, ok = strings.CutSuffix(inner, "}}")
		if !ok {
			return Condition{}, fmt.Errorf("unterminated expression %q", expr)
		}
		s = strings.TrimSpace(inner)
	}
	if s == "" {
		return Condition{fn: fnSuccess}, nil
	}

	var c Condition
	if rest, ok := strings.CutPrefix(s, "!"); ok {
		c.negate = true
		s = strings.TrimSpace(rest)
	}

	switch fn := statusFunc(strings.ReplaceAll(s, " ", "")); fn {
	case fnSuccess, fnAlways, fnFailure, fnCancelled:
		c.fn = fn
		return c, nil
	default:
		return Condition{}, fmt.Errorf("unsupported condition %q", expr)
	}
}

// Eval reports whether a step guarded by c runs in state st.
func (c Condition) Eval(st JobState) bool {
	var v bool
	switch c.fn {
	case fnAlways:
		v = true
	case fnFailure:
		v = st.Failed && !st.Cancelled
	case fnCancelled:
		v = st.Cancelled
	default:
		v = !st.Failed && !st.Cancelled
	}
	if c.negate {
		return !v
	}
	return v
}

func (c Condition) String() string {
	fn := c.fn
	if fn == "" {
		fn = fnSuccess
	}
	if c.negate {
		return "!" + string(fn)
	}
	return string(fn)
}
