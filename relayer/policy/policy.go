// Package policy holds the failure policy injected into components that have
// a diagnostics-only escape hatch around their normal fail-closed behavior.
package policy

import (
	"fmt"
	"strings"
)

// Mode selects how a component reacts when its primary source of truth is
// unusable.
type Mode int

const (
	// FailClosed surfaces the failure to the caller. Production default.
	FailClosed Mode = iota

	// FallbackValue substitutes a conservative fallback value and marks the
	// result as degraded. Never enable where correctness matters.
	FallbackValue
)

// String implements fmt.Stringer
func (m Mode) String() string {
	switch m {
	case FailClosed:
		return "fail_closed"
	case FallbackValue:
		return "fallback_value"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Parse converts a config string into a Mode. Empty input yields FailClosed.
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail_closed":
		return FailClosed, nil
	case "fallback_value":
		return FallbackValue, nil
	default:
		return FailClosed, fmt.Errorf("unknown failure policy %q (want fail_closed or fallback_value)", s)
	}
}
