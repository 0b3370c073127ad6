// internal/cases/store.go
// Package cases persists case records and implements their lifecycle operations.
package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roadcase/roadcase-go/internal/caseid"
	"github.com/roadcase/roadcase-go/internal/geo"
	"github.com/roadcase/roadcase-go/internal/keylock"
	"github.com/roadcase/roadcase-go/internal/metrics"
	"github.com/roadcase/roadcase-go/internal/model"
	"github.com/roadcase/roadcase-go/internal/storage"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrUploadInProgress = errors.New("upload already in progress")
)

// Store is the case record store.
type Store struct {
	kv          storage.Store
	gen         *caseid.Generator
	creating    *keylock.Map
	maxAttempts int
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxAttempts bounds the optimistic retries of each case transaction.
func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

func New(kv storage.Store, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		gen:      caseid.NewGenerator(caseid.StoreCounter{KV: kv}),
		creating: keylock.New(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func key(caseID string) string {
	return storage.Key("cases", caseID)
}

// Create validates and persists a new case with status UNPROCESSED.
// Creation is serialized per id prefix and the record is written create-only,
// so two reports never share an id. When count+1 is already taken (a deleted
// case left a gap, or several categories share the fallback prefix) the case
// gets the highest live sequence of its prefix plus one.
func (s *Store) Create(ctx context.Context, in model.NewCase) (model.Case, error) {
	var missing []string
	if in.Latitude == nil {
		missing = append(missing, "latitude")
	}
	if in.Longitude == nil {
		missing = append(missing, "longitude")
	}
	if strings.TrimSpace(in.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(in.Category) == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return model.Case{}, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if !geo.Valid(*in.Latitude, *in.Longitude) {
		return model.Case{}, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}

	prefix := caseid.Prefix(in.Category)
	unlock, err := s.creating.Lock(ctx, prefix)
	if err != nil {
		return model.Case{}, err
	}
	defer unlock()

	id, err := s.gen.Generate(ctx, in.Category)
	if err != nil {
		return model.Case{}, err
	}
	seq, _ := caseid.Sequence(id)

	c := model.Case{
		ImageURL:      in.ImageURL,
		Status:        model.StatusUnprocessed,
		UploadTime:    s.now().UTC(),
		UserID:        in.UserID,
		Latitude:      *in.Latitude,
		Longitude:     *in.Longitude,
		Category:      in.Category,
		Subcategory:   in.Subcategory,
		NewFormOption: in.NewFormOption,
		DetailOption:  in.DetailOption,
		ExtraDetails:  in.ExtraDetails,
		Address:       in.Address,
		CellToken:     geo.CellToken(*in.Latitude, *in.Longitude),
		UserLikes:     model.LikeSet{},
	}

	attempts := s.maxAttempts
	if attempts <= 0 {
		attempts = storage.DefaultMaxAttempts
	}
	m := metrics.NewMetrics()
	for attempt := 1; ; attempt++ {
		c.CaseID = caseid.Format(prefix, seq)
		doc, err := json.Marshal(c)
		if err != nil {
			return model.Case{}, err
		}
		_, err = s.kv.Put(ctx, key(c.CaseID), doc, 0)
		if err == nil {
			m.CasesCreatedTotal.WithLabelValues(prefix).Inc()
			return c, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return model.Case{}, fmt.Errorf("create case %s: %w", c.CaseID, err)
		}
		if attempt >= attempts {
			break
		}

		m.CaseIDProbesTotal.Inc()
		last, err := s.highestSequence(ctx, prefix)
		if err != nil {
			return model.Case{}, fmt.Errorf("allocate %s case id: %w", prefix, err)
		}
		slog.Warn("case id taken, allocating after highest",
			"case_id", c.CaseID, "category", in.Category, "next", caseid.Format(prefix, last+1))
		seq = last + 1
	}
	// Only another process creating cases with this prefix gets here.
	return model.Case{}, fmt.Errorf("allocate %s case id: %w", prefix, storage.ErrConcurrentUpdate)
}

// highestSequence returns the largest sequence among live case ids with prefix.
func (s *Store) highestSequence(ctx context.Context, prefix string) (int, error) {
	nodes, err := s.kv.List(ctx, "cases")
	if err != nil {
		return 0, err
	}
	last := 0
	for _, n := range nodes {
		seg := storage.Segments(n.Path)
		id := seg[len(seg)-1]
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if seq, ok := caseid.Sequence(id); ok && seq > last {
			last = seq
		}
	}
	return last, nil
}

// Get returns a case or an error wrapping storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, caseID string) (model.Case, error) {
	n, err := s.kv.Get(ctx, key(caseID))
	if err != nil {
		return model.Case{}, fmt.Errorf("case %s: %w", caseID, err)
	}
	var c model.Case
	if err := json.Unmarshal(n.Value, &c); err != nil {
		return model.Case{}, fmt.Errorf("decode case %s: %w", caseID, err)
	}
	return c, nil
}

// Update applies fn to the case inside a single-record transaction. fn may
// run more than once and sees a freshly decoded case each time.
func (s *Store) Update(ctx context.Context, caseID string, fn func(*model.Case) error) (model.Case, error) {
	var out model.Case
	_, err := storage.Transaction(ctx, s.kv, key(caseID), s.maxAttempts, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, storage.ErrNotFound
		}
		var c model.Case
		if err := json.Unmarshal(cur, &c); err != nil {
			return nil, fmt.Errorf("decode case: %w", err)
		}
		if err := fn(&c); err != nil {
			return nil, err
		}
		out = c
		return json.Marshal(c)
	})
	if err != nil {
		return model.Case{}, fmt.Errorf("case %s: %w", caseID, err)
	}
	return out, nil
}

// UpdateStatus overwrites the status. Any transition is accepted. Completion
// metadata is only recorded when the new status is PROCESSED.
func (s *Store) UpdateStatus(ctx context.Context, caseID string, status model.Status, meta *model.CompletionMeta) (model.Case, error) {
	c, err := s.Update(ctx, caseID, func(c *model.Case) error {
		c.Status = status
		if status == model.StatusProcessed && meta != nil {
			if meta.ReportTime != nil {
				c.ReportTime = meta.ReportTime
			}
			if meta.ResponseTime != nil {
				c.ResponseTime = meta.ResponseTime
			}
			if meta.RepairVendor != "" {
				c.RepairVendor = meta.RepairVendor
			}
			if meta.RepairImageURL != "" {
				c.RepairImageURL = meta.RepairImageURL
			}
		}
		return nil
	})
	if err != nil {
		return model.Case{}, err
	}
	metrics.NewMetrics().StatusChangesTotal.WithLabelValues(string(status)).Inc()
	return c, nil
}

// Revert moves a case back to an earlier status, UNPROCESSED when status is empty.
func (s *Store) Revert(ctx context.Context, caseID string, status model.Status) (model.Case, error) {
	if status == "" {
		status = model.StatusUnprocessed
	}
	return s.UpdateStatus(ctx, caseID, status, nil)
}

// AppendPhoto adds a follow-up photo. Concurrent appends to one case all survive.
func (s *Store) AppendPhoto(ctx context.Context, caseID string, photo model.PhotoEntry) (model.Case, error) {
	if photo.UploadTime.IsZero() {
		photo.UploadTime = s.now().UTC()
	}
	return s.Update(ctx, caseID, func(c *model.Case) error {
		c.AdditionalImageURLs = append(c.AdditionalImageURLs, photo)
		return nil
	})
}

// SaveARI attaches a roughness-index measurement to a case.
func (s *Store) SaveARI(ctx context.Context, caseID string, m model.ARIMeasurement) (model.Case, error) {
	return s.Update(ctx, caseID, func(c *model.Case) error {
		c.ARI = &m
		c.ARISegments = m.BadRoadSegments
		return nil
	})
}

// Delete removes the case record only. Comments stay behind and a missing
// case is not an error.
func (s *Store) Delete(ctx context.Context, caseID string) error {
	err := s.kv.Delete(ctx, key(caseID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete case %s: %w", caseID, err)
	}
	return nil
}

// List returns every case ordered by id.
func (s *Store) List(ctx context.Context) ([]model.Case, error) {
	nodes, err := s.kv.List(ctx, "cases")
	if err != nil {
		return nil, err
	}
	return decodeAll(nodes), nil
}

// ListByStatus returns the cases whose status satisfies keep.
func (s *Store) ListByStatus(ctx context.Context, keep func(model.Status) bool) ([]model.Case, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Case, 0, len(all))
	for _, c := range all {
		if keep(c.Status) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListByUser returns a user's cases newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]model.Case, error) {
	nodes, err := s.kv.ListWhere(ctx, "cases", "userId", userID)
	if err != nil {
		return nil, err
	}
	out := decodeAll(nodes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadTime.After(out[j].UploadTime) })
	return out, nil
}

// CountByCategory counts cases whose category matches exactly.
func (s *Store) CountByCategory(ctx context.Context, category string) (int, error) {
	return caseid.StoreCounter{KV: s.kv}.CountByCategory(ctx, category)
}

func decodeAll(nodes []storage.Node) []model.Case {
	out := make([]model.Case, 0, len(nodes))
	for _, n := range nodes {
		var c model.Case
		if err := json.Unmarshal(n.Value, &c); err != nil {
			slog.Warn("skipping undecodable case", "path", n.Path, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out
}
