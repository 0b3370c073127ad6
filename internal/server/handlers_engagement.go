// internal/server/handlers_engagement.go
package server

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	errordefs "github.com/roadcase/roadcase-go/internal/errors"
	"github.com/roadcase/roadcase-go/internal/schema"
)

// handleLikeCase handles POST /api/like-case. Failures keep the
// {success:false, error} body existing clients read.
func (m *Mux) handleLikeCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CaseID string `json:"caseId"`
		UserID string `json:"userId"`
	}
	fail := func(err error) {
		code, msg := classify(err)
		m.markSpan(r.Context(), err)
		if errordefs.StatusFor(code) >= http.StatusInternalServerError {
			m.Logger.ErrorContext(r.Context(), "like toggle failed", "case_id", req.CaseID, "error", err)
		}
		m.writeJSON(w, errordefs.StatusFor(code), map[string]interface{}{"success": false, "error": msg})
	}

	if err := m.readJSON(w, r, schema.LikeCase, &req); err != nil {
		fail(err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("case.id", req.CaseID))

	likes, err := m.Engagement.ToggleCaseLike(r.Context(), req.CaseID, req.UserID)
	if err != nil {
		fail(err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "likes": likes})
}

// handleListComments handles GET /api/comments/{caseId}.
func (m *Mux) handleListComments(w http.ResponseWriter, r *http.Request) {
	list, err := m.Engagement.ListComments(r.Context(), r.PathValue("caseId"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, list)
}

// handleAddComment handles POST /api/comments/{caseId}.
func (m *Mux) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
		Text     string `json:"text"`
	}
	if err := m.readJSON(w, r, schema.Comment, &req); err != nil {
		m.writeError(w, r, err)
		return
	}

	caseID := r.PathValue("caseId")
	cm, err := m.Engagement.AddComment(r.Context(), caseID, req.UserID, req.UserName, req.Text)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if err := m.Events.PublishCommentAdded(r.Context(), cm); err != nil {
		m.Logger.WarnContext(r.Context(), "failed to publish comment added event", "case_id", caseID, "error", err)
	}

	m.writeJSON(w, http.StatusCreated, map[string]string{
		"commentId": cm.ID,
		"message":   "Comment added successfully",
	})
}

// handleLikeComment handles POST /api/comments/{caseId}/{commentId}/like.
func (m *Mux) handleLikeComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := m.readJSON(w, r, schema.CommentLike, &req); err != nil {
		m.writeError(w, r, err)
		return
	}

	res, err := m.Engagement.ToggleCommentLike(r.Context(), r.PathValue("caseId"), r.PathValue("commentId"), req.UserID)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, res)
}

// handleDeleteComment handles DELETE /api/comments/{caseId}/{commentId}.
func (m *Mux) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := m.Engagement.DeleteComment(r.Context(), r.PathValue("caseId"), r.PathValue("commentId")); err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]string{"message": "Comment deleted successfully"})
}
