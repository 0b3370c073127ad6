// internal/server/handlers_tracking.go
package server

import (
	"fmt"
	"net/http"

	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/schema"
)

// pointsMessage is sent to a user after each accepted report.
const pointsMessage = "感謝您回報道路狀況，成功集點一次，目前總點數：%d"

// handleRecordLogin handles POST /api/record-user-login.
func (m *Mux) handleRecordLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := m.readJSON(w, r, schema.Login, &req); err != nil {
		m.writeError(w, r, err)
		return
	}

	res, err := m.Tracker.RecordLogin(r.Context(), req.UserID)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "User login recorded successfully",
		"newUser":    res.NewUser,
		"date":       res.Date,
		"isNewLogin": res.IsNewLogin,
	})
}

// handleRecordPageView handles POST /api/record-page-view.
func (m *Mux) handleRecordPageView(w http.ResponseWriter, r *http.Request) {
	res, err := m.Tracker.RecordPageView(r.Context())
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	message, increment := "Page view already recorded", 0
	if res.Increment {
		message, increment = "Page view recorded successfully", 1
	}
	m.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   message,
		"increment": increment,
		"date":      res.Date,
	})
}

// handleDashboard handles GET /api/dashboard-data.
func (m *Mux) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := m.Dashboard.Get(r.Context())
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, d)
}

// handleSaveUploadInfo handles POST /api/save-upload-info: one point per
// report, followed by a best-effort notification.
func (m *Mux) handleSaveUploadInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := m.readJSON(w, r, schema.UploadInfo, &req); err != nil {
		m.writeError(w, r, err)
		return
	}

	points, err := m.Counters.Adjust(r.Context(), counter.PointsKey(req.UserID), 1)
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	if err := m.Notifier.Notify(r.Context(), req.UserID, fmt.Sprintf(pointsMessage, points)); err != nil {
		m.Logger.WarnContext(r.Context(), "points notification failed", "user_id", req.UserID, "error", err)
	}

	m.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"points":  points,
		"message": "已更新積分",
	})
}

// handleUserPoints handles GET /api/user-points/{userId}.
func (m *Mux) handleUserPoints(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	points, err := m.Counters.Get(r.Context(), counter.PointsKey(userID))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "points": points})
}
