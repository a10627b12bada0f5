// File: cmd/stackctl/confirm.go
// Brief: Interactive approval for changes to protected stacks.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/example/stackctl/internal/action"
)

func isTerminalWriter(w io.Writer) bool {
	type fdProvider interface {
		Fd() uintptr
	}
	if v, ok := w.(fdProvider); ok {
		return term.IsTerminal(int(v.Fd()))
	}
	return false
}

func isTerminalReader(r io.Reader) bool {
	if f, ok := r.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// approvedFromEnv reads STACKCTL_YES for unattended runs.
func approvedFromEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("STACKCTL_YES"))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// newApprover prompts on out and reads the answer from in. Prompts are
// serialized since stacks in a level run in parallel. Non-interactive runs
// decline unless approved up front.
func newApprover(in io.Reader, out io.Writer, approved, interactive bool) action.ApproveFunc {
	var mu sync.Mutex
	reader := bufio.NewReader(in)
	return func(ctx context.Context, stack string, changes []action.ParamChange) (bool, error) {
		if approved {
			return true, nil
		}
		if !interactive {
			fmt.Fprintf(out, "%s is protected; refusing to update without a terminal (set STACKCTL_YES=1 to approve)\n", stack)
			return false, nil
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "Changes to protected stack %s:\n", stack)
		for _, c := range changes {
			if c.Kind == action.Unmodified {
				continue
			}
			for _, line := range c.Lines() {
				fmt.Fprintf(out, "  %s\n", line)
			}
		}
		fmt.Fprint(out, "Execute the above changes? [y/N] ")

		type result struct {
			line string
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- result{line, err}
		}()
		var res result
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false, ctx.Err()
		case res = <-ch:
		}
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return false, res.err
		}
		switch strings.ToLower(strings.TrimSpace(res.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
