package action

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// fakeProvider settles every operation on the next describe.
type fakeProvider struct {
	mu      sync.Mutex
	stacks  map[string]*StackState
	calls   []string
	outputs map[string]map[string]string

	// script queues statuses returned by DescribeStack before the stored one.
	script     map[string][]string
	failCreate map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		stacks:     map[string]*StackState{},
		outputs:    map[string]map[string]string{},
		script:     map[string][]string{},
		failCreate: map[string]error{},
	}
}

func (f *fakeProvider) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeProvider) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProvider) deploy(fqn, status string, params map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stacks[fqn] = &StackState{Name: fqn, Status: status, Parameters: maps.Clone(params), Outputs: f.outputs[fqn]}
}

func (f *fakeProvider) DescribeStack(_ context.Context, fqn string) (*StackState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stacks[fqn]
	if !ok {
		return nil, ErrStackNotFound
	}
	cp := *st
	if q := f.script[fqn]; len(q) > 0 {
		cp.Status = q[0]
		f.script[fqn] = q[1:]
	}
	return &cp, nil
}

func (f *fakeProvider) CreateStack(_ context.Context, in *StackInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create:" + in.FQN)
	if err := f.failCreate[in.FQN]; err != nil {
		return err
	}
	f.stacks[in.FQN] = &StackState{
		Name:                  in.FQN,
		Status:                "CREATE_COMPLETE",
		Parameters:            maps.Clone(in.Parameters),
		Outputs:               f.outputs[in.FQN],
		TerminationProtection: in.TerminationProtection,
	}
	return nil
}

func (f *fakeProvider) UpdateStack(_ context.Context, in *StackInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stacks[in.FQN]
	if !ok {
		return ErrStackNotFound
	}
	if maps.Equal(st.Parameters, in.Parameters) {
		return ErrNoChange
	}
	f.record("update:" + in.FQN)
	st.Parameters = maps.Clone(in.Parameters)
	st.Status = "UPDATE_COMPLETE"
	return nil
}

func (f *fakeProvider) DestroyStack(_ context.Context, fqn string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stacks[fqn]
	if !ok {
		return ErrStackNotFound
	}
	if st.TerminationProtection && !force {
		return errors.New("termination protection is enabled")
	}
	f.record("destroy:" + fqn)
	delete(f.stacks, fqn)
	return nil
}

func (f *fakeProvider) Outputs(_ context.Context, fqn string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stacks[fqn]
	if !ok {
		return nil, ErrStackNotFound
	}
	return maps.Clone(st.Outputs), nil
}
