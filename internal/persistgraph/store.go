// File: internal/persistgraph/store.go
// Brief: Lockable persistent graph (tag based optimistic lock over an object store).

package persistgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/graph"
)

// LockTag is the object tag that carries the lock code.
const LockTag = "cfngin_lock_code"

// Store reads and writes one canonical graph at a fixed location.
//
// The expected workflow is Lock -> mutate in memory -> Put -> Unlock. Store
// remembers the code it locked with so a Put can recreate an object that an
// earlier empty Put removed during the same session.
type Store struct {
	objects ObjectStore
	loc     Location
	log     logr.Logger

	mu   sync.Mutex
	held string
}

func New(objects ObjectStore, loc Location, log logr.Logger) *Store {
	return &Store{objects: objects, loc: loc, log: log}
}

func (s *Store) Location() Location { return s.loc }

// Fetch returns the stored graph, or an empty graph when nothing is stored.
func (s *Store) Fetch(ctx context.Context) (*graph.Graph, error) {
	body, err := s.objects.GetObject(ctx, s.loc)
	if errors.Is(err, ErrNotFound) {
		s.log.V(1).Info("persistent graph not found", "location", s.loc.String())
		return graph.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch persistent graph %s: %w", s.loc, err)
	}
	g := graph.New()
	if len(body) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(body, g); err != nil {
		return nil, fmt.Errorf("decode persistent graph %s: %w", s.loc, err)
	}
	return g, nil
}

// Ensure creates an empty placeholder object so a lock tag can be attached
// on first use.
func (s *Store) Ensure(ctx context.Context) error {
	_, err := s.objects.GetTags(ctx, s.loc)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("ensure persistent graph %s: %w", s.loc, err)
	}
	s.log.Info("creating empty persistent graph", "location", s.loc.String())
	return s.objects.PutObject(ctx, s.loc, []byte("{}"), s.putOptions(nil))
}

// LockCode returns the current lock code, if any.
func (s *Store) LockCode(ctx context.Context) (string, bool, error) {
	tags, err := s.objects.GetTags(ctx, s.loc)
	if err != nil {
		return "", false, err
	}
	code, ok := tags[LockTag]
	return code, ok, nil
}

// Locked reports whether the object carries a lock tag. A missing object is
// reported as unlocked.
func (s *Store) Locked(ctx context.Context) (bool, error) {
	_, ok, err := s.LockCode(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return ok, err
}

// Lock tags the stored object with code. Locking twice with the same code is
// a no-op.
func (s *Store) Lock(ctx context.Context, code string) error {
	tags, err := s.objects.GetTags(ctx, s.loc)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s does not exist", ErrCannotLock, s.loc)
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.loc, err)
	}
	if current, ok := tags[LockTag]; ok {
		if current != code {
			return &LockedError{Location: s.loc, Holder: current}
		}
		s.remember(code)
		return nil
	}
	if tags == nil {
		tags = map[string]string{}
	}
	tags[LockTag] = code
	if err := s.objects.PutTags(ctx, s.loc, tags); err != nil {
		return fmt.Errorf("lock %s: %w", s.loc, err)
	}
	s.remember(code)
	s.log.Info("locked persistent graph", "location", s.loc.String(), "code", code)
	return nil
}

// Unlock removes the lock tag when it matches code. A missing object counts
// as already unlocked.
func (s *Store) Unlock(ctx context.Context, code string) error {
	tags, err := s.objects.GetTags(ctx, s.loc)
	if errors.Is(err, ErrNotFound) {
		s.forget()
		return nil
	}
	if err != nil {
		return fmt.Errorf("unlock %s: %w", s.loc, err)
	}
	current, ok := tags[LockTag]
	if !ok {
		return fmt.Errorf("%w: %w", ErrCannotUnlock, ErrUnlocked)
	}
	if current != code {
		return fmt.Errorf("%w: %w", ErrCannotUnlock, &LockCodeMismatchError{Location: s.loc, Want: current, Got: code})
	}
	delete(tags, LockTag)
	if len(tags) == 0 {
		err = s.objects.DeleteTags(ctx, s.loc)
	} else {
		err = s.objects.PutTags(ctx, s.loc, tags)
	}
	if err != nil {
		return fmt.Errorf("unlock %s: %w", s.loc, err)
	}
	s.forget()
	s.log.Info("unlocked persistent graph", "location", s.loc.String())
	return nil
}

// ForceUnlock drops the lock tag regardless of holder.
func (s *Store) ForceUnlock(ctx context.Context) error {
	err := s.objects.DeleteTags(ctx, s.loc)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err == nil {
		s.log.Info("force unlocked persistent graph", "location", s.loc.String())
	}
	return err
}

// Put replaces the stored graph. The store must be locked with code. An
// empty graph deletes the object instead of storing "{}".
func (s *Store) Put(ctx context.Context, g *graph.Graph, code string) error {
	tags, err := s.objects.GetTags(ctx, s.loc)
	switch {
	case errors.Is(err, ErrNotFound):
		if code == "" || !s.holds(code) {
			return fmt.Errorf("put %s: %w", s.loc, ErrUnlocked)
		}
		tags = map[string]string{}
	case err != nil:
		return fmt.Errorf("put %s: %w", s.loc, err)
	default:
		current, ok := tags[LockTag]
		if !ok {
			return fmt.Errorf("put %s: %w", s.loc, ErrUnlocked)
		}
		if current != code {
			return &LockCodeMismatchError{Location: s.loc, Want: current, Got: code}
		}
	}

	if g == nil || g.Len() == 0 {
		s.log.Info("persistent graph is empty, deleting", "location", s.loc.String())
		if err := s.objects.DeleteObject(ctx, s.loc); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete %s: %w", s.loc, err)
		}
		return nil
	}
	body, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode persistent graph: %w", err)
	}
	if tags == nil {
		tags = map[string]string{}
	}
	tags[LockTag] = code
	if err := s.objects.PutObject(ctx, s.loc, body, s.putOptions(tags)); err != nil {
		return fmt.Errorf("put %s: %w", s.loc, err)
	}
	s.log.V(1).Info("updated persistent graph", "location", s.loc.String(), "nodes", g.Len())
	return nil
}

func (s *Store) putOptions(tags map[string]string) PutOptions {
	return PutOptions{
		Tags:        tags,
		ContentType: "application/json",
		SSE:         "AES256",
		ACL:         "bucket-owner-full-control",
	}
}

func (s *Store) remember(code string) {
	s.mu.Lock()
	s.held = code
	s.mu.Unlock()
}

func (s *Store) forget() {
	s.mu.Lock()
	s.held = ""
	s.mu.Unlock()
}

func (s *Store) holds(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held == code
}
