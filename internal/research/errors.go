package research

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed job input or an unresolvable property.
// It is returned before any scheduling happens.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("research: invalid input: %v", e.Err)
	}
	return fmt.Sprintf("research: invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SchedulingError reports a worker graph that cannot be executed: a cycle,
// or a dependency on an unknown or disabled worker. The job stays PENDING.
type SchedulingError struct {
	Reason  string
	Workers []string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("research: %s: %s", e.Reason, strings.Join(e.Workers, ", "))
}
