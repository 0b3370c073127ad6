// internal/counter/counter_test.go
package counter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roadcase/roadcase-go/internal/storage"
)

// contended loses every compare-and-set below performance/.
type contended struct{ storage.Store }

func (c contended) Put(ctx context.Context, path string, v json.RawMessage, ver int64) (storage.Node, error) {
	if strings.HasPrefix(path, "performance/") {
		return storage.Node{}, storage.ErrVersionMismatch
	}
	return c.Store.Put(ctx, path, v, ver)
}

// adjustErrors reads counter_adjust_errors_total for label from the default registry.
func adjustErrors(t *testing.T, label string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "counter_adjust_errors_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "counter" && lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestAdjustConcurrent(t *testing.T) {
	s := New(storage.NewMemory(), 100)
	ctx := context.Background()
	key := PerformanceKey("totalPageViews")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Adjust(ctx, key, 1); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
}

func TestAdjustNegativeAndMissing(t *testing.T) {
	s := New(storage.NewMemory(), 0)
	ctx := context.Background()

	if v, _ := s.Get(ctx, PointsKey("u1")); v != 0 {
		t.Errorf("missing counter = %d", v)
	}
	if v, err := s.Adjust(ctx, PointsKey("u1"), 3); err != nil || v != 3 {
		t.Fatalf("Adjust = %d, %v", v, err)
	}
	if v, err := s.Adjust(ctx, PointsKey("u1"), -1); err != nil || v != 2 {
		t.Fatalf("Adjust = %d, %v", v, err)
	}
}

func TestSnapshot(t *testing.T) {
	kv := storage.NewMemory()
	s := New(kv, 0)
	ctx := context.Background()

	s.Adjust(ctx, DailyKey("2024-05-02", "pageViews"), 4)
	s.Adjust(ctx, DailyKey("2024-05-01", "pageViews"), 2)
	s.Adjust(ctx, DailyKey("2024-05-01", "loginCount"), 1)
	kv.Put(ctx, storage.Key("daily_stats", "junk"), json.RawMessage(`{"x":1}`), 0)

	snap, err := s.Snapshot(ctx, "daily_stats")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 3 {
		t.Fatalf("snapshot = %v", snap)
	}
	if snap["2024-05-01/pageViews"] != 2 || snap["2024-05-02/pageViews"] != 4 {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestDecodeLegacyFloat(t *testing.T) {
	v, err := decode([]byte(`12.0`))
	if err != nil || v != 12 {
		t.Errorf("decode = %d, %v", v, err)
	}
}

func TestAdjustConcurrentUpdateExhausted(t *testing.T) {
	kv := storage.NewMemory()
	s := New(contended{kv}, 3)
	ctx := context.Background()
	key := PerformanceKey("totalLikes")

	if _, err := s.Adjust(ctx, key, 1); !errors.Is(err, storage.ErrConcurrentUpdate) {
		t.Fatalf("got %v, want ErrConcurrentUpdate", err)
	}
	if _, err := kv.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("failed adjustment wrote: %v", err)
	}

	// other namespaces are unaffected
	if v, err := s.Adjust(ctx, PointsKey("u1"), 2); err != nil || v != 2 {
		t.Errorf("Adjust points = %d, %v", v, err)
	}
}

func TestAdjustBestEffortCountsFailure(t *testing.T) {
	s := New(contended{storage.NewMemory()}, 2)
	ctx := context.Background()
	key := PerformanceKey("totalPageViews")

	before := adjustErrors(t, "performance/totalPageViews")
	s.AdjustBestEffort(ctx, key, 1)
	s.AdjustBestEffort(ctx, key, 1)
	if got := adjustErrors(t, "performance/totalPageViews") - before; got != 2 {
		t.Errorf("counter_adjust_errors_total grew by %v, want 2", got)
	}

	before = adjustErrors(t, "users/points")
	s.AdjustBestEffort(ctx, PointsKey("u1"), 5)
	if got := adjustErrors(t, "users/points") - before; got != 0 {
		t.Errorf("successful adjustment counted as failure: %v", got)
	}
	if v, _ := s.Get(ctx, PointsKey("u1")); v != 5 {
		t.Errorf("points = %d, want 5", v)
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{
		PerformanceKey("totalLikes"):        "performance/totalLikes",
		DailyKey("2024-05-01", "pageViews"): "daily_stats/pageViews",
		PointsKey("user 7"):                 "users/points",
	}
	for key, want := range tests {
		if got := Label(key); got != want {
			t.Errorf("Label(%q) = %q, want %q", key, got, want)
		}
	}
}
