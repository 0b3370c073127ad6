// internal/dashboard/dashboard_test.go
package dashboard

import (
	"context"
	"testing"

	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/model"
	"github.com/roadcase/roadcase-go/internal/storage"
)

type staticCases []model.Case

func (s staticCases) List(context.Context) ([]model.Case, error) { return s, nil }

func TestGet(t *testing.T) {
	ctx := context.Background()
	ctr := counter.New(storage.NewMemory(), 0)

	ctr.Adjust(ctx, counter.PerformanceKey(model.FieldTotalLikes), 7)
	ctr.Adjust(ctx, counter.PerformanceKey(model.FieldTotalPageViews), 40)
	ctr.Adjust(ctx, counter.DailyKey("2024-05-02", model.FieldPageViews), 30)
	ctr.Adjust(ctx, counter.DailyKey("2024-04-30", model.FieldPageViews), 10)
	ctr.Adjust(ctx, counter.DailyKey("2024-05-02", model.FieldUniqueUsers), 3)

	cs := staticCases{
		{CaseID: "A000001", Category: "道路養護", Likes: 3, Status: model.StatusUnprocessed, Latitude: 25.0330, Longitude: 121.5654},
		{CaseID: "A000002", Category: "道路養護", Likes: 2, Status: model.StatusProcessed, Latitude: 25.0330, Longitude: 121.5654},
		{CaseID: "B000001", Category: "人行環境", Likes: 2, Status: model.StatusInProgress, Latitude: 22.6273, Longitude: 120.3014},
	}

	d, err := New(cs, ctr).Get(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if d.TotalLikes != 7 || d.TotalPageViews != 40 {
		t.Errorf("totals = %d likes, %d views", d.TotalLikes, d.TotalPageViews)
	}
	if len(d.DailyPageViews) != 2 || d.DailyPageViews[0].Date != "2024-04-30" || d.DailyPageViews[1].Count != 30 {
		t.Errorf("DailyPageViews = %+v", d.DailyPageViews)
	}
	if len(d.DailyUsers) != 1 || len(d.DailyLogins) != 0 {
		t.Errorf("DailyUsers = %+v DailyLogins = %+v", d.DailyUsers, d.DailyLogins)
	}

	want := map[string]int{"道路養護": 5, "人行環境": 2}
	if len(d.LikesByCategory) != len(want) {
		t.Fatalf("LikesByCategory = %+v", d.LikesByCategory)
	}
	for _, cl := range d.LikesByCategory {
		if want[cl.Category] != cl.Likes {
			t.Errorf("%s likes = %d, want %d", cl.Category, cl.Likes, want[cl.Category])
		}
	}

	if d.CasesByStatus[model.StatusUnprocessed] != 1 || d.CasesByStatus[model.StatusProcessed] != 1 {
		t.Errorf("CasesByStatus = %v", d.CasesByStatus)
	}
	if len(d.Hotspots) != 2 || d.Hotspots[0].Cases != 2 || d.Hotspots[0].Open != 1 {
		t.Errorf("Hotspots = %+v", d.Hotspots)
	}
}
