package plan

import (
	"fmt"
	"strings"
)

// StepResult names a step and the reason it ended the way it did.
type StepResult struct {
	Name   string
	Reason string
	// BlockedBy is the failed step behind a dependency-failed skip.
	BlockedBy string
}

func (r StepResult) describe() string {
	if r.BlockedBy != "" {
		return r.Reason + ": " + r.BlockedBy
	}
	return r.Reason
}

// FailedError is returned by Execute when at least one step failed. Skipped
// lists every step that did not run because of a failure or cancellation.
type FailedError struct {
	Description string
	Failed      []StepResult
	Skipped     []StepResult
}

func (e *FailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %q failed: %d step(s) failed", e.Description, len(e.Failed))
	for i, f := range e.Failed {
		sep := ", "
		if i == 0 {
			sep = ": "
		}
		fmt.Fprintf(&b, "%s%s (%s)", sep, f.Name, f.Reason)
	}
	if len(e.Skipped) > 0 {
		fmt.Fprintf(&b, "; %d step(s) skipped", len(e.Skipped))
		for i, s := range e.Skipped {
			sep := ", "
			if i == 0 {
				sep = ": "
			}
			fmt.Fprintf(&b, "%s%s (%s)", sep, s.Name, s.describe())
		}
	}
	return b.String()
}
