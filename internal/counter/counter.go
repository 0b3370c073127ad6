// internal/counter/counter.go
// Package counter implements the integer counters behind engagement statistics.
// Each counter is a bare JSON number stored at its own path and adjusted with
// an optimistic transaction, so concurrent increments are never lost.
package counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roadcase/roadcase-go/internal/metrics"
	"github.com/roadcase/roadcase-go/internal/storage"
)

// Store adjusts and reads counters.
type Store struct {
	kv          storage.Store
	maxAttempts int
}

// New returns a counter store. maxAttempts <= 0 uses storage.DefaultMaxAttempts.
func New(kv storage.Store, maxAttempts int) *Store {
	return &Store{kv: kv, maxAttempts: maxAttempts}
}

// PerformanceKey is the path of a global total.
func PerformanceKey(field string) string {
	return storage.Key("performance", field)
}

// DailyKey is the path of a per-day counter.
func DailyKey(date, field string) string {
	return storage.Key("daily_stats", date, field)
}

// PointsKey is the path of a user's reward points.
func PointsKey(userID string) string {
	return storage.Key("users", userID, "points")
}

// Adjust adds delta to the counter at key and returns the new value.
// A missing counter starts at zero.
func (s *Store) Adjust(ctx context.Context, key string, delta int64) (int64, error) {
	var next int64
	_, err := storage.Transaction(ctx, s.kv, key, s.maxAttempts, func(cur []byte, exists bool) ([]byte, error) {
		var v int64
		if exists {
			var err error
			if v, err = decode(cur); err != nil {
				return nil, fmt.Errorf("counter %s: %w", key, err)
			}
		}
		next = v + delta
		return []byte(strconv.FormatInt(next, 10)), nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// AdjustBestEffort applies delta for statistics that must not fail the
// operation that triggered them. A failure is logged and counted only.
func (s *Store) AdjustBestEffort(ctx context.Context, key string, delta int64) {
	if _, err := s.Adjust(ctx, key, delta); err != nil {
		metrics.NewMetrics().CounterAdjustErrors.WithLabelValues(Label(key)).Inc()
		slog.Error("counter adjustment failed", "key", key, "delta", delta, "error", err)
	}
}

// Label reduces a counter path to a bounded metric label by dropping the
// date of daily counters and the user of per-user ones.
func Label(key string) string {
	segs := storage.Segments(key)
	if len(segs) == 3 && (segs[0] == "daily_stats" || segs[0] == "users") {
		return segs[0] + "/" + segs[2]
	}
	return strings.Join(segs, "/")
}

// Get returns the current value, zero when the counter has never been written.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return decode(n.Value)
}

// Snapshot returns every counter below prefix keyed by its path relative to prefix.
// Nodes that are not numbers are skipped.
func (s *Store) Snapshot(ctx context.Context, prefix string) (map[string]int64, error) {
	nodes, err := s.kv.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	base := strings.Trim(prefix, "/") + "/"
	out := make(map[string]int64, len(nodes))
	for _, n := range nodes {
		v, err := decode(n.Value)
		if err != nil {
			continue
		}
		rel := strings.TrimPrefix(n.Path, base)
		segs := storage.Segments(rel)
		out[strings.Join(segs, "/")] = v
	}
	return out, nil
}

func decode(raw []byte) (int64, error) {
	var f json.Number
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	if v, err := f.Int64(); err == nil {
		return v, nil
	}
	// older writers stored floats
	fl, err := f.Float64()
	if err != nil {
		return 0, err
	}
	return int64(fl), nil
}
