// File: cmd/stackctl/state.go
// Brief: lock, unlock and persistent-graph subcommands.

package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/persistgraph"
)

var errNoPersistentGraph = errors.New("persistent graph is not configured (set persistent_graph_key and a state backend)")

// persistentStore resolves the persistent graph store for the default region.
func (s *session) persistentStore() (*persistgraph.Store, error) {
	sc, err := s.regionContext(s.opts.Region)
	if err != nil {
		return nil, err
	}
	store := sc.PersistentGraphStore()
	if store == nil {
		return nil, errNoPersistentGraph
	}
	return store, nil
}

func newLockCommand(opts *config.Options, logLevel *string) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock the persistent graph",
		Long:  "lock tags the persistent graph with a lock code so no other run can change it. The code is printed and is needed by unlock.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				store, err := s.persistentStore()
				if err != nil {
					return err
				}
				if code == "" {
					code = uuid.NewString()
				}
				if err := store.Ensure(cmd.Context()); err != nil {
					return err
				}
				if err := store.Lock(cmd.Context(), code); err != nil {
					return err
				}
				fmt.Fprintln(s.out, code)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Lock code to use (random when empty)")
	return cmd
}

func newUnlockCommand(opts *config.Options, logLevel *string) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Release the persistent graph lock",
		Long:  "unlock removes the lock tag when --code matches the holder. With --force the lock is dropped whoever holds it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				store, err := s.persistentStore()
				if err != nil {
					return err
				}
				if opts.Force {
					return store.ForceUnlock(cmd.Context())
				}
				if code == "" {
					return errors.New("--code is required unless --force is set")
				}
				return store.Unlock(cmd.Context(), code)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Lock code printed by lock or held by a stuck run")
	return cmd
}

func newPersistentGraphCommand(opts *config.Options, logLevel *string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "persistent-graph",
		Short: "Show the stored persistent graph and its lock state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				store, err := s.persistentStore()
				if err != nil {
					return err
				}
				g, err := store.Fetch(cmd.Context())
				if err != nil {
					return err
				}
				holder, locked, err := store.LockCode(cmd.Context())
				if err != nil && !errors.Is(err, persistgraph.ErrNotFound) {
					return err
				}
				if locked {
					fmt.Fprintf(s.errOut, "%s is locked by %s\n", store.Location(), holder)
				} else {
					fmt.Fprintf(s.errOut, "%s is unlocked\n", store.Location())
				}
				return writeGraph(s.out, g, format, false)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json|yaml|dot|mermaid")
	return cmd
}
