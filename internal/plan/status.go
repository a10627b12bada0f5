package plan

import "fmt"

// Code orders step states. Codes only move forward while a step runs.
type Code int

const (
	Pending Code = iota
	Submitted
	Complete
	Skipped
	Failed
)

func (c Code) String() string {
	switch c {
	case Pending:
		return "pending"
	case Submitted:
		return "submitted"
	case Complete:
		return "complete"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Well-known reasons.
const (
	ReasonNoChange         = "nochange"
	ReasonDisabled         = "disabled"
	ReasonLocked           = "locked"
	ReasonDoesNotExist     = "does not exist in cloudformation"
	ReasonDependencyFailed = "dependency has failed"
	ReasonCanceled         = "canceled execution"
	ReasonDryRun           = "dry run"
)

type Status struct {
	Code   Code
	Reason string
}

func (s Status) String() string {
	if s.Reason == "" {
		return s.Code.String()
	}
	return s.Code.String() + " (" + s.Reason + ")"
}

// Done reports a terminal state.
func (s Status) Done() bool {
	return s.Code == Complete || s.Code == Skipped || s.Code == Failed
}

// OK reports a terminal state that does not block dependents.
func (s Status) OK() bool {
	return s.Code == Complete || s.Code == Skipped
}

func PendingStatus() Status               { return Status{Code: Pending} }
func SubmittedStatus(reason string) Status { return Status{Code: Submitted, Reason: reason} }
func CompleteStatus(reason string) Status  { return Status{Code: Complete, Reason: reason} }
func SkippedStatus(reason string) Status   { return Status{Code: Skipped, Reason: reason} }
func FailedStatus(reason string) Status    { return Status{Code: Failed, Reason: reason} }

var (
	DidNotChange   = SkippedStatus(ReasonNoChange)
	NotSubmitted   = SkippedStatus(ReasonDisabled)
	NotUpdated     = SkippedStatus(ReasonLocked)
	DoesNotExist   = SkippedStatus(ReasonDoesNotExist)
	DependencyFail = SkippedStatus(ReasonDependencyFailed)
)
