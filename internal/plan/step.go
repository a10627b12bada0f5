// File: internal/plan/step.go
// Brief: Per-stack state machine driven by a StepFunc.

package plan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// ErrCancelExecution may be returned by a StepFunc to skip the step instead
// of failing it.
var ErrCancelExecution = errors.New("canceled execution")

// StepFunc performs one round of work for a step. It is called again while
// it keeps returning a Submitted status, so long running operations report
// Submitted until the provider settles.
type StepFunc func(ctx context.Context, s *Step) (Status, error)

// Action names used by the persistent graph hook and outline.
const (
	ActionBuild   = "build"
	ActionDestroy = "destroy"
	ActionDiff    = "diff"
	ActionNoop    = "noop"
)

type Step struct {
	Name     string
	Requires []string
	Action   string
	Fn       StepFunc

	// Stack is the caller's payload (stack definition, target, ...).
	Stack any

	Logger logr.Logger

	mu          sync.Mutex
	status      Status
	lastUpdated time.Time
	attempts    int
	onChange    func(*Step, Status)
}

func NewStep(name, action string, fn StepFunc, stack any, requires ...string) *Step {
	return &Step{
		Name:        name,
		Requires:    append([]string(nil), requires...),
		Action:      action,
		Fn:          fn,
		Stack:       stack,
		lastUpdated: time.Now(),
	}
}

func (s *Step) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Step) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

// Attempts is the number of times Fn has been invoked.
func (s *Step) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// SetStatus records a transition. Terminal states are final and codes never
// move backwards; such transitions are ignored and reported as false.
func (s *Step) SetStatus(st Status) bool {
	s.mu.Lock()
	cur := s.status
	if cur.Done() || st.Code < cur.Code || st == cur {
		s.mu.Unlock()
		return false
	}
	s.status = st
	s.lastUpdated = time.Now()
	hook := s.onChange
	s.mu.Unlock()

	s.Logger.V(1).Info("step status changed", "status", st.Code.String(), "reason", st.Reason)
	if hook != nil {
		hook(s, st)
	}
	return true
}

func (s *Step) Complete() bool { return s.SetStatus(CompleteStatus("")) }
func (s *Step) Skip() bool     { return s.SetStatus(SkippedStatus("")) }
func (s *Step) Submit() bool   { return s.SetStatus(SubmittedStatus("")) }

// run invokes Fn until the step reaches a terminal state.
func (s *Step) run(ctx context.Context, poll time.Duration) Status {
	if s.Fn == nil {
		s.SetStatus(CompleteStatus(""))
		return s.Status()
	}
	for {
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()

		st, err := s.Fn(ctx, s)
		switch {
		case errors.Is(err, ErrCancelExecution):
			st = SkippedStatus(ReasonCanceled)
		case err != nil:
			s.Logger.Error(err, "step failed")
			st = FailedStatus(err.Error())
		}
		s.SetStatus(st)
		cur := s.Status()
		if cur.Done() {
			return cur
		}
		if st.Code == Pending {
			// A function that makes no progress would spin forever.
			s.SetStatus(FailedStatus("step returned pending"))
			return s.Status()
		}
		if poll > 0 {
			t := time.NewTimer(poll)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
}
