// File: internal/action/provider.go
// Brief: Provider capability and stack status classification.

package action

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrStackNotFound is returned by DescribeStack for unknown stacks.
	ErrStackNotFound = errors.New("stack does not exist")
	// ErrNoChange is returned by UpdateStack when nothing would change.
	ErrNoChange = errors.New("no updates are to be performed")
)

// Provider performs stack operations against the infrastructure API.
type Provider interface {
	DescribeStack(ctx context.Context, fqn string) (*StackState, error)
	CreateStack(ctx context.Context, in *StackInput) error
	UpdateStack(ctx context.Context, in *StackInput) error
	// DestroyStack deletes a stack. With force, termination protection is
	// turned off first.
	DestroyStack(ctx context.Context, fqn string, force bool) error
	Outputs(ctx context.Context, fqn string) (map[string]string, error)
}

// StackInput is the desired state of one stack.
type StackInput struct {
	FQN                   string
	TemplateBody          string
	Parameters            map[string]string
	Tags                  map[string]string
	TerminationProtection bool
}

// StackState is the deployed state of one stack.
type StackState struct {
	Name                  string
	Status                string
	Reason                string
	Parameters            map[string]string
	Outputs               map[string]string
	TerminationProtection bool
}

const (
	statusDeleting = "DELETE_IN_PROGRESS"
	statusDeleted  = "DELETE_COMPLETE"
	statusReview   = "REVIEW_IN_PROGRESS"
)

var (
	inProgressStatuses = []string{
		"CREATE_IN_PROGRESS",
		"IMPORT_IN_PROGRESS",
		"UPDATE_IN_PROGRESS",
		"DELETE_IN_PROGRESS",
		"UPDATE_COMPLETE_CLEANUP_IN_PROGRESS",
	}
	rollingBackStatuses = []string{
		"ROLLBACK_IN_PROGRESS",
		"IMPORT_ROLLBACK_IN_PROGRESS",
		"UPDATE_ROLLBACK_IN_PROGRESS",
	}
	// UPDATE_ROLLBACK_COMPLETE is both failed and complete; callers check
	// Failed first.
	failedStatuses = []string{
		"CREATE_FAILED",
		"ROLLBACK_FAILED",
		"ROLLBACK_COMPLETE",
		"DELETE_FAILED",
		"IMPORT_ROLLBACK_FAILED",
		"UPDATE_ROLLBACK_FAILED",
		"UPDATE_ROLLBACK_COMPLETE",
	}
	completeStatuses = []string{
		"CREATE_COMPLETE",
		"DELETE_COMPLETE",
		"IMPORT_COMPLETE",
		"UPDATE_COMPLETE",
		"IMPORT_ROLLBACK_COMPLETE",
		"UPDATE_ROLLBACK_COMPLETE",
	}
	recreateStatuses = []string{"CREATE_FAILED", "ROLLBACK_FAILED", "ROLLBACK_COMPLETE"}
)

func (s *StackState) InProgress() bool     { return slices.Contains(inProgressStatuses, s.Status) }
func (s *StackState) RollingBack() bool    { return slices.Contains(rollingBackStatuses, s.Status) }
func (s *StackState) Failed() bool         { return slices.Contains(failedStatuses, s.Status) }
func (s *StackState) Completed() bool      { return slices.Contains(completeStatuses, s.Status) }
func (s *StackState) Destroyed() bool      { return s.Status == statusDeleted }
func (s *StackState) BeingDestroyed() bool { return s.Status == statusDeleting }
func (s *StackState) InReview() bool       { return s.Status == statusReview }

// Recreatable reports a stack that can only be fixed by deleting it and
// creating it again.
func (s *StackState) Recreatable() bool {
	return s.InReview() || slices.Contains(recreateStatuses, s.Status)
}
