package persistgraph

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

type memoryObject struct {
	body []byte
	tags map[string]string
}

// MemoryStore keeps objects in process. Used for tests and dry local runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[Location]*memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[Location]*memoryObject{}}
}

func (m *MemoryStore) GetObject(_ context.Context, loc Location) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[loc]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", loc, ErrNotFound)
	}
	return append([]byte(nil), obj.body...), nil
}

func (m *MemoryStore) PutObject(_ context.Context, loc Location, body []byte, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[loc] = &memoryObject{
		body: append([]byte(nil), body...),
		tags: maps.Clone(opts.Tags),
	}
	return nil
}

func (m *MemoryStore) DeleteObject(_ context.Context, loc Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, loc)
	return nil
}

func (m *MemoryStore) GetTags(_ context.Context, loc Location) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[loc]
	if !ok {
		return nil, fmt.Errorf("get tags %s: %w", loc, ErrNotFound)
	}
	out := maps.Clone(obj.tags)
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

func (m *MemoryStore) PutTags(_ context.Context, loc Location, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[loc]
	if !ok {
		return fmt.Errorf("put tags %s: %w", loc, ErrNotFound)
	}
	obj.tags = maps.Clone(tags)
	return nil
}

func (m *MemoryStore) DeleteTags(_ context.Context, loc Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[loc]
	if !ok {
		return fmt.Errorf("delete tags %s: %w", loc, ErrNotFound)
	}
	obj.tags = nil
	return nil
}
