// internal/dashboard/dashboard.go
// Package dashboard assembles the admin overview from counters and a full case scan.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/geo"
	"github.com/roadcase/roadcase-go/internal/model"
)

// HotspotLimit caps the number of cells returned.
const HotspotLimit = 10

// CaseLister lists every case.
type CaseLister interface {
	List(ctx context.Context) ([]model.Case, error)
}

type Aggregator struct {
	cases    CaseLister
	counters *counter.Store
}

func New(cases CaseLister, counters *counter.Store) *Aggregator {
	return &Aggregator{cases: cases, counters: counters}
}

// Get builds the dashboard. Likes by category are recomputed from every case
// on each call.
func (a *Aggregator) Get(ctx context.Context) (model.Dashboard, error) {
	perf, err := a.counters.Snapshot(ctx, "performance")
	if err != nil {
		return model.Dashboard{}, fmt.Errorf("performance counters: %w", err)
	}
	daily, err := a.counters.Snapshot(ctx, "daily_stats")
	if err != nil {
		return model.Dashboard{}, fmt.Errorf("daily counters: %w", err)
	}
	all, err := a.cases.List(ctx)
	if err != nil {
		return model.Dashboard{}, fmt.Errorf("list cases: %w", err)
	}

	d := model.Dashboard{
		TotalLikes:       perf[model.FieldTotalLikes],
		TotalPageViews:   perf[model.FieldTotalPageViews],
		TotalUniqueUsers: perf[model.FieldTotalUniqueUsers],
		TotalLoginCount:  perf[model.FieldTotalLoginCount],
		CasesByStatus:    make(map[model.Status]int),
		DailyUsers:       series(daily, model.FieldUniqueUsers),
		DailyPageViews:   series(daily, model.FieldPageViews),
		DailyLogins:      series(daily, model.FieldLoginCount),
	}

	likes := make(map[string]int)
	agg := geo.NewAggregator(geo.HotspotLevel)
	for _, c := range all {
		likes[c.Category] += c.Likes
		d.CasesByStatus[c.Status]++
		if geo.Valid(c.Latitude, c.Longitude) {
			agg.Add(c.Latitude, c.Longitude, c.Status.Open())
		}
	}

	d.LikesByCategory = make([]model.CategoryLikes, 0, len(likes))
	for cat, n := range likes {
		d.LikesByCategory = append(d.LikesByCategory, model.CategoryLikes{Category: cat, Likes: n})
	}
	sort.Slice(d.LikesByCategory, func(i, j int) bool {
		return d.LikesByCategory[i].Category < d.LikesByCategory[j].Category
	})

	cells := agg.Top(HotspotLimit)
	d.Hotspots = make([]model.Hotspot, len(cells))
	for i, c := range cells {
		d.Hotspots[i] = model.Hotspot{
			CellToken: c.Token,
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			Cases:     c.Count,
			Open:      c.Open,
		}
	}
	return d, nil
}

// series extracts one field from a "{date}/{field}" snapshot sorted by date.
func series(snap map[string]int64, field string) []model.DatePoint {
	out := make([]model.DatePoint, 0)
	for k, v := range snap {
		date, f, ok := strings.Cut(k, "/")
		if !ok || f != field {
			continue
		}
		out = append(out, model.DatePoint{Date: date, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
