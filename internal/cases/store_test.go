// internal/cases/store_test.go
package cases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/roadcase/roadcase-go/internal/model"
	"github.com/roadcase/roadcase-go/internal/storage"
)

func ptr(f float64) *float64 { return &f }

func newCase(category, user string) model.NewCase {
	return model.NewCase{
		ImageURL:  "https://img.example/1.jpg",
		UserID:    user,
		Latitude:  ptr(25.0330),
		Longitude: ptr(121.5654),
		Category:  category,
	}
}

func TestCreateAndUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	c, err := s.Create(ctx, newCase("道路養護", "u1"))
	if err != nil {
		t.Fatal(err)
	}
	if c.CaseID != "A000001" || c.Status != model.StatusUnprocessed {
		t.Fatalf("created %s with status %s", c.CaseID, c.Status)
	}
	if c.CellToken == "" {
		t.Error("cell token not set")
	}

	report := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	meta := &model.CompletionMeta{ReportTime: &report, RepairVendor: "ACME Paving"}
	if _, err := s.UpdateStatus(ctx, c.CaseID, model.StatusProcessed, meta); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, c.CaseID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusProcessed || got.RepairVendor != "ACME Paving" {
		t.Errorf("status=%s vendor=%q", got.Status, got.RepairVendor)
	}
	if got.ReportTime == nil || !got.ReportTime.Equal(report) {
		t.Errorf("reportTime = %v", got.ReportTime)
	}

	// metadata is ignored for non-terminal statuses
	if _, err := s.UpdateStatus(ctx, c.CaseID, model.StatusInProgress, &model.CompletionMeta{RepairVendor: "other"}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, c.CaseID)
	if got.RepairVendor != "ACME Paving" {
		t.Errorf("vendor overwritten on IN_PROGRESS: %q", got.RepairVendor)
	}
}

func TestCreateValidation(t *testing.T) {
	s := New(storage.NewMemory())
	in := newCase("道路養護", "")
	in.Latitude = nil

	_, err := s.Create(context.Background(), in)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}

	in = newCase("道路養護", "u1")
	in.Latitude = ptr(123)
	if _, err := s.Create(context.Background(), in); !errors.Is(err, ErrValidation) {
		t.Fatalf("out of range: got %v, want ErrValidation", err)
	}
}

func TestCreateConcurrentSameCategoryUnique(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	const n = 10
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.Create(ctx, newCase("人行環境", fmt.Sprintf("u%d", i)))
			if err != nil {
				t.Error(err)
				return
			}
			ids <- c.CaseID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("created %d unique ids, want %d", len(seen), n)
	}
}

func TestCreateSkipsTakenIDAfterDelete(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, newCase("交通工程", "u1")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Delete(ctx, "C000001"); err != nil {
		t.Fatal(err)
	}

	// count is now 2 so the generator proposes C000003, which is still live
	c, err := s.Create(ctx, newCase("交通工程", "u1"))
	if err != nil {
		t.Fatal(err)
	}
	if c.CaseID != "C000004" {
		t.Errorf("id = %s, want C000004", c.CaseID)
	}
}

func TestCreateAfterManyLowDeletes(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	for i := 0; i < 20; i++ {
		if _, err := s.Create(ctx, newCase("道路養護", "u1")); err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i <= 5; i++ {
		if err := s.Delete(ctx, fmt.Sprintf("A%06d", i)); err != nil {
			t.Fatal(err)
		}
	}

	// count+1 is A000016 and A000016..A000020 are all live
	for _, want := range []string{"A000021", "A000022"} {
		c, err := s.Create(ctx, newCase("道路養護", "u1"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if c.CaseID != want {
			t.Errorf("id = %s, want %s", c.CaseID, want)
		}
	}
}

func TestUnknownCategoriesShareFallbackPrefix(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		c, err := s.Create(ctx, newCase(fmt.Sprintf("其他%d", i), "u1"))
		if err != nil {
			t.Fatalf("category %d: %v", i, err)
		}
		if c.CaseID[0] != 'Z' || seen[c.CaseID] {
			t.Errorf("category %d got id %s", i, c.CaseID)
		}
		seen[c.CaseID] = true
	}
	if !seen["Z000008"] {
		t.Errorf("ids = %v, want Z000001..Z000008", seen)
	}
}

func TestCreateConcurrentUnknownCategories(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	const n = 10
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.Create(ctx, newCase(fmt.Sprintf("misc-%d", i), "u1"))
			if err != nil {
				t.Error(err)
				return
			}
			ids <- c.CaseID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("created %d unique ids, want %d", len(seen), n)
	}
}

func TestAppendPhotoConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	c, err := s.Create(ctx, newCase("道路養護", "u1"))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, url := range []string{"https://img.example/a.jpg", "https://img.example/b.jpg"} {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if _, err := s.AppendPhoto(ctx, c.CaseID, model.PhotoEntry{ImageURL: url, Description: "after"}); err != nil {
				t.Error(err)
			}
		}(url)
	}
	wg.Wait()

	got, _ := s.Get(ctx, c.CaseID)
	if len(got.AdditionalImageURLs) != 2 {
		t.Fatalf("photos = %+v", got.AdditionalImageURLs)
	}
	urls := map[string]bool{}
	for _, p := range got.AdditionalImageURLs {
		urls[p.ImageURL] = true
		if p.UploadTime.IsZero() {
			t.Error("upload time not set")
		}
	}
	if !urls["https://img.example/a.jpg"] || !urls["https://img.example/b.jpg"] {
		t.Errorf("photos = %v", urls)
	}
}

func TestMissingCase(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	if _, err := s.AppendPhoto(ctx, "A999999", model.PhotoEntry{ImageURL: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AppendPhoto: got %v", err)
	}
	if _, err := s.UpdateStatus(ctx, "A999999", model.StatusProcessed, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateStatus: got %v", err)
	}
	if err := s.Delete(ctx, "A999999"); err != nil {
		t.Errorf("Delete of missing case: %v", err)
	}
}

func TestRevertDefaultsToUnprocessed(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	c, _ := s.Create(ctx, newCase("道路養護", "u1"))
	s.UpdateStatus(ctx, c.CaseID, model.StatusProcessed, nil)

	got, err := s.Revert(ctx, c.CaseID, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusUnprocessed {
		t.Errorf("status = %s", got.Status)
	}
}

func TestListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := New(storage.NewMemory(), WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	s.Create(ctx, newCase("道路養護", "u1"))
	s.Create(ctx, newCase("人行環境", "u2"))
	s.Create(ctx, newCase("交通工程", "u1"))

	got, err := s.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].CaseID != "C000001" || got[1].CaseID != "A000001" {
		t.Errorf("ListByUser = %+v", got)
	}

	open, _ := s.ListByStatus(ctx, model.Status.Open)
	if len(open) != 3 {
		t.Errorf("open cases = %d", len(open))
	}
}

func TestSaveARI(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	c, _ := s.Create(ctx, newCase("道路養護", "u1"))

	m := model.ARIMeasurement{ARI: 3.2, TotalDistance: 120, BadRoadSegments: []model.ARISegment{{StartARI: 4, EndARI: 5, Distance: 12}}}
	if _, err := s.SaveARI(ctx, c.CaseID, m); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, c.CaseID)
	if got.ARI == nil || got.ARI.ARI != 3.2 || len(got.ARISegments) != 1 {
		t.Errorf("ari = %+v segments = %+v", got.ARI, got.ARISegments)
	}
}

func TestUploadLock(t *testing.T) {
	l := NewUploadLock()
	release, ok := l.TryAcquire("A000001")
	if !ok {
		t.Fatal("first acquire failed")
	}
	if _, ok := l.TryAcquire("A000001"); ok {
		t.Fatal("second acquire succeeded")
	}
	release()
	if l.Held("A000001") {
		t.Error("still held after release")
	}
}
