// internal/storage/store.go
// Package storage provides the hierarchical key-value tree the case service
// persists into. Every node is a JSON document carrying a version number that
// is bumped on each write, which is what the optimistic transactions in this
// package compare against. Implementations exist for memory, PostgreSQL and SQLite.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound         = errors.New("not found")                            // Node does not exist
	ErrConflict         = errors.New("conflict")                             // Create-only write hit an existing node
	ErrVersionMismatch  = errors.New("version mismatch")                     // Compare-and-set lost against a concurrent writer
	ErrConcurrentUpdate = errors.New("concurrent update: retries exhausted") // Transaction could not commit
	ErrAbort            = errors.New("transaction aborted")                  // Returned by a TxnFunc to stop without writing
)

// Node is a single document in the tree.
type Node struct {
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store is the storage contract shared by all backends.
type Store interface {
	// Get returns the node at path or ErrNotFound.
	Get(ctx context.Context, path string) (Node, error)

	// Put writes value at path. An expectedVersion of 0 creates the node and
	// fails with ErrConflict if it already exists; any other value must match
	// the stored version or the write fails with ErrVersionMismatch.
	// Versions grow across the whole store, so a node deleted and created
	// again never repeats a version a stale reader could still hold.
	Put(ctx context.Context, path string, value json.RawMessage, expectedVersion int64) (Node, error)

	// Delete removes the node at path or returns ErrNotFound.
	Delete(ctx context.Context, path string) error

	// DeletePrefix removes every node below prefix. Missing prefixes are not an error.
	DeletePrefix(ctx context.Context, prefix string) error

	// List returns every node below prefix ordered by path.
	List(ctx context.Context, prefix string) ([]Node, error)

	// ListWhere returns the nodes below prefix whose top-level JSON field equals value.
	ListWhere(ctx context.Context, prefix, field, value string) ([]Node, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Key joins path segments, escaping each so user supplied ids cannot
// introduce extra levels into the tree.
func Key(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// Segments splits a path produced by Key back into its unescaped parts.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if u, err := url.PathUnescape(p); err == nil {
			parts[i] = u
		}
	}
	return parts
}

// childPrefix normalises a List prefix so "cases" never matches "cases_archive/x".
func childPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// namespace returns the first path segment, used as a low-cardinality metric label.
func namespace(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// fieldEquals reports whether the top-level field of a JSON object renders as value.
func fieldEquals(raw json.RawMessage, field, value string) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	v, ok := doc[field]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s == value
	}
	return strings.TrimSpace(string(v)) == value
}
