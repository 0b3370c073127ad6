// internal/tracking/tracker.go
// Package tracking counts logins and page views for the dashboard.
// Logins are deduplicated per user within 30-minute buckets; page views go
// through a short-lived in-memory key set.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/model"
	"github.com/roadcase/roadcase-go/internal/storage"
)

const (
	// BucketMillis is the login dedup window.
	BucketMillis = 1_800_000
	// ViewTTL is how long a page view key is remembered.
	ViewTTL = 5 * time.Minute
)

var ErrValidation = errors.New("validation failed")

// Bucket returns the half-hour bucket of a unix millisecond timestamp.
func Bucket(ms int64) int64 {
	return ms / BucketMillis
}

// Date formats the UTC day of t.
func Date(t time.Time) string {
	return t.UTC().Format(model.DateLayout)
}

// Tracker records logins and page views.
type Tracker struct {
	kv          storage.Store
	counters    *counter.Store
	views       *ExpiringCache
	maxAttempts int
	now         func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now for both the tracker and its view cache.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithMaxAttempts(n int) Option {
	return func(t *Tracker) { t.maxAttempts = n }
}

func New(kv storage.Store, counters *counter.Store, opts ...Option) *Tracker {
	t := &Tracker{kv: kv, counters: counters, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	t.views = NewExpiringCache(ViewTTL, t.now)
	return t
}

func profileKey(userID string) string {
	return storage.Key("users", userID, "profile")
}

// RecordLogin registers a login for userID. Counters move only when the
// login falls in a different half-hour bucket than the previous one.
func (t *Tracker) RecordLogin(ctx context.Context, userID string) (model.LoginResult, error) {
	if userID == "" {
		return model.LoginResult{}, fmt.Errorf("%w: userId is required", ErrValidation)
	}

	now := t.now()
	nowMs := now.UnixMilli()
	date := Date(now)
	res := model.LoginResult{Date: date}

	var (
		prev    int64
		hadPrev bool
	)
	_, err := storage.Transaction(ctx, t.kv, profileKey(userID), t.maxAttempts, func(cur []byte, exists bool) ([]byte, error) {
		var p model.UserProfile
		hadPrev = false
		if exists {
			if err := json.Unmarshal(cur, &p); err != nil {
				return nil, err
			}
			hadPrev = p.LastLogin > 0
		}
		prev = p.LastLogin
		if hadPrev && Bucket(prev) == Bucket(nowMs) {
			return nil, storage.ErrAbort
		}
		p.LastLogin = nowMs
		return json.Marshal(p)
	})
	if errors.Is(err, storage.ErrAbort) {
		res.NewUser = !hadPrev || Date(time.UnixMilli(prev)) != date
		return res, nil
	}
	if err != nil {
		return model.LoginResult{}, fmt.Errorf("record login %s: %w", userID, err)
	}

	res.IsNewLogin = true
	res.NewUser = !hadPrev || Date(time.UnixMilli(prev)) != date

	t.bump(ctx, counter.DailyKey(date, model.FieldLoginCount))
	t.bump(ctx, counter.PerformanceKey(model.FieldTotalLoginCount))
	if res.NewUser {
		t.bump(ctx, counter.DailyKey(date, model.FieldUniqueUsers))
	}
	if !hadPrev {
		t.bump(ctx, counter.PerformanceKey(model.FieldTotalUniqueUsers))
	}
	return res, nil
}

func (t *Tracker) bump(ctx context.Context, key string) {
	t.counters.AdjustBestEffort(ctx, key, 1)
}

// RecordPageView counts a page view. The dedup key is the server receive
// time in milliseconds, so distinct requests are almost always counted.
func (t *Tracker) RecordPageView(ctx context.Context) (model.PageViewResult, error) {
	now := t.now()
	date := Date(now)
	key := strconv.FormatInt(now.UnixMilli(), 10)

	t.views.Sweep()
	if t.views.Contains(key) {
		return model.PageViewResult{Increment: false, Date: date}, nil
	}

	if _, err := t.counters.Adjust(ctx, counter.DailyKey(date, model.FieldPageViews), 1); err != nil {
		return model.PageViewResult{}, fmt.Errorf("record page view: %w", err)
	}
	t.bump(ctx, counter.PerformanceKey(model.FieldTotalPageViews))
	t.views.Add(key)
	return model.PageViewResult{Increment: true, Date: date}, nil
}
