// internal/model/engagement.go
package model

import "time"

// Comment is a user comment attached to one case.
type Comment struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"caseId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Likes     int       `json:"likes"`
}

// CommentLike is the membership record for one user liking one comment.
type CommentLike struct {
	CommentID string    `json:"commentId"`
	UserID    string    `json:"userId"`
	LikedAt   time.Time `json:"likedAt"`
}

// LikeAction is the outcome of a comment like toggle.
type LikeAction string

const (
	ActionAdded   LikeAction = "added"
	ActionRemoved LikeAction = "removed"
)

// CommentLikeResult is returned by a comment like toggle.
type CommentLikeResult struct {
	Action LikeAction `json:"action"`
	Likes  int        `json:"likes"`
}
