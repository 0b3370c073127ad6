// internal/storage/txn.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roadcase/roadcase-go/internal/metrics"
)

// DefaultMaxAttempts bounds how often Transaction re-reads and retries a node
// before giving up with ErrConcurrentUpdate.
const DefaultMaxAttempts = 25

// TxnFunc receives the current value of a node (nil when it does not exist)
// and returns the value to write. It may run several times and must not have
// side effects outside its own closure.
type TxnFunc func(current []byte, exists bool) ([]byte, error)

// Transaction performs an optimistic read-modify-write against a single node.
// A concurrent writer that changes the node between the read and the write
// causes the whole cycle to run again. Errors returned by fn are passed
// through unchanged, including ErrAbort.
func Transaction(ctx context.Context, s Store, path string, maxAttempts int, fn TxnFunc) (Node, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	m := metrics.NewMetrics()
	ns := namespace(path)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Node{}, err
		}

		current, err := s.Get(ctx, path)
		exists := true
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return Node{}, err
			}
			exists = false
			current = Node{Path: path}
		}

		next, err := fn(current.Value, exists)
		if err != nil {
			return current, err
		}

		node, err := s.Put(ctx, path, next, current.Version)
		if err == nil {
			m.StorageTransactionTotal.WithLabelValues(ns, "committed").Inc()
			return node, nil
		}
		if !errors.Is(err, ErrVersionMismatch) && !errors.Is(err, ErrConflict) {
			m.StorageTransactionTotal.WithLabelValues(ns, "error").Inc()
			return Node{}, err
		}

		m.StorageTransactionRetries.WithLabelValues(ns).Inc()
		slog.Debug("transaction retry", "path", path, "attempt", attempt)
	}

	m.StorageTransactionTotal.WithLabelValues(ns, "exhausted").Inc()
	return Node{}, fmt.Errorf("%s: %w", path, ErrConcurrentUpdate)
}
