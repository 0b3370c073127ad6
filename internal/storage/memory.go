// internal/storage/memory.go
package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// memory implements the Store interface using an in-process map.
// It's intended for development and testing purposes.
type memory struct {
	mu    sync.RWMutex     // Protects nodes
	nodes map[string]*Node // Map of path to node
	clock int64            // Last version handed out, across all paths
	now   func() time.Time // Clock used for UpdatedAt
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		nodes: make(map[string]*Node),
		now:   time.Now,
	}
}

func (m *memory) Get(ctx context.Context, path string) (Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[path]
	if !ok {
		return Node{}, ErrNotFound
	}
	return cloneNode(n), nil
}

func (m *memory) Put(ctx context.Context, path string, value json.RawMessage, expectedVersion int64) (Node, error) {
	if err := ctx.Err(); err != nil {
		return Node{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.nodes[path]
	switch {
	case expectedVersion == 0 && ok:
		return Node{}, ErrConflict
	case expectedVersion != 0 && !ok:
		return Node{}, ErrVersionMismatch
	case ok && existing.Version != expectedVersion:
		return Node{}, ErrVersionMismatch
	}

	m.clock++
	n := &Node{
		Path:      path,
		Value:     append(json.RawMessage(nil), value...),
		Version:   m.clock,
		UpdatedAt: m.now().UTC(),
	}
	m.nodes[path] = n
	return cloneNode(n), nil
}

func (m *memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[path]; !ok {
		return ErrNotFound
	}
	delete(m.nodes, path)
	return nil
}

func (m *memory) DeletePrefix(ctx context.Context, prefix string) error {
	p := childPrefix(prefix)
	if p == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for path := range m.nodes {
		if strings.HasPrefix(path, p) {
			delete(m.nodes, path)
		}
	}
	return nil
}

func (m *memory) List(ctx context.Context, prefix string) ([]Node, error) {
	return m.scan(prefix, func(*Node) bool { return true }), nil
}

func (m *memory) ListWhere(ctx context.Context, prefix, field, value string) ([]Node, error) {
	return m.scan(prefix, func(n *Node) bool { return fieldEquals(n.Value, field, value) }), nil
}

func (m *memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *memory) Close() error { return nil }

// scan collects matching nodes below prefix in path order.
func (m *memory) scan(prefix string, keep func(*Node) bool) []Node {
	p := childPrefix(prefix)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Node, 0)
	for path, n := range m.nodes {
		if strings.HasPrefix(path, p) && keep(n) {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func cloneNode(n *Node) Node {
	c := *n
	c.Value = append(json.RawMessage(nil), n.Value...)
	return c
}
