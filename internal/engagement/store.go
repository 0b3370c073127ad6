// internal/engagement/store.go
// Package engagement handles likes and comments on cases.
package engagement

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/model"
	"github.com/roadcase/roadcase-go/internal/storage"
)

var ErrValidation = errors.New("validation failed")

// CaseUpdater is the slice of the case store engagement needs.
type CaseUpdater interface {
	Get(ctx context.Context, caseID string) (model.Case, error)
	Update(ctx context.Context, caseID string, fn func(*model.Case) error) (model.Case, error)
}

// Store implements case likes, comments and comment likes.
type Store struct {
	kv          storage.Store
	cases       CaseUpdater
	counters    *counter.Store
	maxAttempts int
	now         func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	// background counter adjustments
	pending sync.WaitGroup
}

func New(kv storage.Store, cases CaseUpdater, counters *counter.Store, maxAttempts int) *Store {
	return &Store{
		kv:          kv,
		cases:       cases,
		counters:    counters,
		maxAttempts: maxAttempts,
		now:         time.Now,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

func commentKey(caseID, commentID string) string {
	return storage.Key("comments", caseID, commentID)
}

func commentLikeKey(commentID, userID string) string {
	return storage.Key("comment_likes", commentID, userID)
}

// ToggleCaseLike flips userID's like on a case and returns the new like count.
// The case record is the source of truth; the global total is adjusted
// afterwards without blocking the caller.
func (s *Store) ToggleCaseLike(ctx context.Context, caseID, userID string) (int, error) {
	if caseID == "" || userID == "" {
		return 0, fmt.Errorf("%w: caseId and userId are required", ErrValidation)
	}

	var liked bool
	c, err := s.cases.Update(ctx, caseID, func(c *model.Case) error {
		if c.UserLikes.Contains(userID) {
			c.UserLikes.Remove(userID)
			liked = false
		} else {
			c.UserLikes.Add(userID)
			liked = true
		}
		c.Likes = c.UserLikes.Len()
		return nil
	})
	if err != nil {
		return 0, err
	}

	delta := int64(-1)
	if liked {
		delta = 1
	}
	s.adjustAsync(counter.PerformanceKey(model.FieldTotalLikes), delta)
	return c.Likes, nil
}

func (s *Store) adjustAsync(key string, delta int64) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.counters.AdjustBestEffort(ctx, key, delta)
	}()
}

// Wait blocks until background counter adjustments have finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

// AddComment stores a new comment and returns it.
func (s *Store) AddComment(ctx context.Context, caseID, userID, userName, text string) (model.Comment, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(text) == "" {
		return model.Comment{}, fmt.Errorf("%w: userId and text are required", ErrValidation)
	}
	if _, err := s.cases.Get(ctx, caseID); err != nil {
		return model.Comment{}, err
	}

	now := s.now().UTC()
	cm := model.Comment{
		ID:        s.newID(now),
		CaseID:    caseID,
		UserID:    userID,
		UserName:  userName,
		Text:      text,
		Timestamp: now,
	}
	doc, err := json.Marshal(cm)
	if err != nil {
		return model.Comment{}, err
	}
	if _, err := s.kv.Put(ctx, commentKey(caseID, cm.ID), doc, 0); err != nil {
		return model.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	return cm, nil
}

func (s *Store) newID(t time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// ListComments returns the comments of a case oldest first.
// A case without comments yields an empty slice.
func (s *Store) ListComments(ctx context.Context, caseID string) ([]model.Comment, error) {
	nodes, err := s.kv.List(ctx, storage.Key("comments", caseID))
	if err != nil {
		return nil, err
	}
	out := make([]model.Comment, 0, len(nodes))
	for _, n := range nodes {
		var cm model.Comment
		if err := json.Unmarshal(n.Value, &cm); err != nil {
			slog.Warn("skipping undecodable comment", "path", n.Path, "error", err)
			continue
		}
		out = append(out, cm)
	}
	return out, nil
}

// GetComment returns one comment or an error wrapping storage.ErrNotFound.
func (s *Store) GetComment(ctx context.Context, caseID, commentID string) (model.Comment, error) {
	n, err := s.kv.Get(ctx, commentKey(caseID, commentID))
	if err != nil {
		return model.Comment{}, fmt.Errorf("comment %s: %w", commentID, err)
	}
	var cm model.Comment
	if err := json.Unmarshal(n.Value, &cm); err != nil {
		return model.Comment{}, err
	}
	return cm, nil
}

// DeleteComment removes a comment and its like memberships. A missing comment is not an error.
func (s *Store) DeleteComment(ctx context.Context, caseID, commentID string) error {
	if err := s.kv.Delete(ctx, commentKey(caseID, commentID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	if err := s.kv.DeletePrefix(ctx, storage.Key("comment_likes", commentID)); err != nil {
		slog.Warn("comment like cleanup failed", "comment_id", commentID, "error", err)
	}
	return nil
}

// ToggleCommentLike flips userID's like on a comment. Membership changes are
// atomic per user; the comment's like counter is adjusted in a second step.
func (s *Store) ToggleCommentLike(ctx context.Context, caseID, commentID, userID string) (model.CommentLikeResult, error) {
	if userID == "" {
		return model.CommentLikeResult{}, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if _, err := s.GetComment(ctx, caseID, commentID); err != nil {
		return model.CommentLikeResult{}, err
	}

	action, err := s.flipMembership(ctx, commentID, userID)
	if err != nil {
		return model.CommentLikeResult{}, err
	}

	delta := 1
	if action == model.ActionRemoved {
		delta = -1
	}
	var likes int
	_, err = storage.Transaction(ctx, s.kv, commentKey(caseID, commentID), s.maxAttempts, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, storage.ErrNotFound
		}
		var cm model.Comment
		if err := json.Unmarshal(cur, &cm); err != nil {
			return nil, err
		}
		cm.Likes += delta
		if cm.Likes < 0 {
			cm.Likes = 0
		}
		likes = cm.Likes
		return json.Marshal(cm)
	})
	if err != nil {
		return model.CommentLikeResult{}, fmt.Errorf("comment %s likes: %w", commentID, err)
	}
	return model.CommentLikeResult{Action: action, Likes: likes}, nil
}

// flipMembership inserts the like record or, if present, removes it.
func (s *Store) flipMembership(ctx context.Context, commentID, userID string) (model.LikeAction, error) {
	path := commentLikeKey(commentID, userID)
	doc, err := json.Marshal(model.CommentLike{CommentID: commentID, UserID: userID, LikedAt: s.now().UTC()})
	if err != nil {
		return "", err
	}

	attempts := s.maxAttempts
	if attempts <= 0 {
		attempts = storage.DefaultMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		_, err := s.kv.Put(ctx, path, doc, 0)
		if err == nil {
			return model.ActionAdded, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return "", err
		}
		err = s.kv.Delete(ctx, path)
		if err == nil {
			return model.ActionRemoved, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}
		// removed by a concurrent toggle between our insert and delete
	}
	return "", fmt.Errorf("comment like %s: %w", path, storage.ErrConcurrentUpdate)
}
