// internal/server/handlers_cases.go
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roadcase/roadcase-go/internal/cases"
	errordefs "github.com/roadcase/roadcase-go/internal/errors"
	"github.com/roadcase/roadcase-go/internal/geo"
	"github.com/roadcase/roadcase-go/internal/media"
	"github.com/roadcase/roadcase-go/internal/model"
	"github.com/roadcase/roadcase-go/internal/schema"
)

// Localized details returned by /detect.
const (
	detailNoLocation    = "無法讀取圖片位置"
	detailMissingFields = "缺少必要欄位"
	detailNoAddress     = "無法取得地址資訊"
	detailUploaded      = "圖片上傳成功"
	detailUploadFailed  = "上傳處理失敗"
	detailBadImage      = "不支援的圖片格式"
	detailTooLarge      = "圖片檔案過大"

	msgStatusUpdated = "案件狀態已更新"
	msgCaseDeleted   = "案件已刪除"
	msgNoImage       = "沒有收到圖片文件"
)

// Time layouts accepted for reportTime and responseTime. The second is what
// an HTML datetime-local input submits.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// detectResponse is the body returned by /detect on success and failure.
type detectResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
	CaseID  string `json:"caseId,omitempty"`
}

func (m *Mux) detectFail(w http.ResponseWriter, status int, detail string) {
	m.writeJSON(w, status, detectResponse{Message: "Fail", Detail: detail})
}

// parseMultipart bounds the body and parses the form. The caller must call
// the returned cleanup func on every path.
func (m *Mux) parseMultipart(w http.ResponseWriter, r *http.Request) (func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, m.MaxMediaSize+multipartSlack)
	err := r.ParseMultipartForm(m.MaxMediaSize)
	cleanup := func() {
		if r.MultipartForm != nil {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				m.Logger.Warn("failed to remove multipart temp files", "error", err)
			}
		}
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return cleanup, err
		}
		return cleanup, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return cleanup, nil
}

// openImage returns the named file part when present and of an allowed type.
func (m *Mux) openImage(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	f, h, err := r.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	ct := h.Header.Get("Content-Type")
	if !slices.Contains(m.AllowedMimeTypes, ct) {
		f.Close()
		return nil, nil, fmt.Errorf("media type %q is not allowed", ct)
	}
	return f, h, nil
}

func parseCoordinate(s string) (*float64, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// handleDetect handles POST /detect: a citizen report with photo and location.
func (m *Mux) handleDetect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cleanup, err := m.parseMultipart(w, r)
	defer cleanup()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			m.detectFail(w, http.StatusRequestEntityTooLarge, detailTooLarge)
			return
		}
		m.detectFail(w, http.StatusBadRequest, detailMissingFields)
		return
	}

	lat, latOK := parseCoordinate(r.FormValue("latitude"))
	lon, lonOK := parseCoordinate(r.FormValue("longitude"))
	userID := strings.TrimSpace(r.FormValue("userId"))
	if !latOK || !lonOK || userID == "" || !geo.Valid(*lat, *lon) {
		m.detectFail(w, http.StatusBadRequest, detailNoLocation)
		return
	}
	category := strings.TrimSpace(r.FormValue("category"))
	if category == "" {
		m.detectFail(w, http.StatusBadRequest, detailMissingFields)
		return
	}

	file, header, err := m.openImage(r, "image_file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			m.detectFail(w, http.StatusBadRequest, detailMissingFields)
			return
		}
		m.detectFail(w, http.StatusBadRequest, detailBadImage)
		return
	}
	defer file.Close()

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("case.category", category),
		attribute.String("user.id", userID),
	)

	address, err := m.Geocoder.Reverse(ctx, *lat, *lon)
	if err != nil {
		m.Logger.WarnContext(ctx, "reverse geocoding failed", "error", err, "latitude", *lat, "longitude", *lon)
		m.markSpan(ctx, err)
		m.detectFail(w, errordefs.StatusFor(errordefs.CASE_UPSTREAM), detailNoAddress)
		return
	}

	ct := header.Header.Get("Content-Type")
	imageURL, err := m.Media.Store(ctx, media.ObjectKey("images", "", ct, m.Now()), ct, file, header.Size)
	if err != nil {
		m.Logger.ErrorContext(ctx, "image upload failed", "error", err)
		m.markSpan(ctx, err)
		m.detectFail(w, errordefs.StatusFor(errordefs.CASE_UPSTREAM), detailUploadFailed)
		return
	}

	c, err := m.Cases.Create(ctx, model.NewCase{
		ImageURL:      imageURL,
		UserID:        userID,
		Latitude:      lat,
		Longitude:     lon,
		Category:      category,
		Subcategory:   r.FormValue("subcategory"),
		NewFormOption: r.FormValue("newFormOption"),
		DetailOption:  r.FormValue("detailOption"),
		ExtraDetails:  r.FormValue("extraDetails"),
		Address:       address,
	})
	if err != nil {
		m.markSpan(ctx, err)
		if errors.Is(err, cases.ErrValidation) {
			m.detectFail(w, http.StatusBadRequest, detailMissingFields)
			return
		}
		m.Logger.ErrorContext(ctx, "case creation failed", "error", err)
		code, _ := classify(err)
		m.detectFail(w, errordefs.StatusFor(code), detailUploadFailed)
		return
	}

	if err := m.Events.PublishCaseCreated(ctx, c); err != nil {
		m.Logger.WarnContext(ctx, "failed to publish case created event", "case_id", c.CaseID, "error", err)
	}

	m.writeJSON(w, http.StatusOK, detectResponse{Message: "Success", Detail: detailUploaded, CaseID: c.CaseID})
}

// statusRequest is the body of POST /api/update-case-status.
type statusRequest struct {
	CaseID       string `json:"caseId"`
	Status       string `json:"status"`
	ReportTime   string `json:"reportTime,omitempty"`
	ResponseTime string `json:"responseTime,omitempty"`
	RepairVendor string `json:"repairVendor,omitempty"`
}

func parseTime(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q is not a valid time", cases.ErrValidation, field, s)
}

// handleUpdateCaseStatus handles POST /api/update-case-status. The body is JSON
// or, when a repair photo is attached, multipart.
func (m *Mux) handleUpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req statusRequest
	var repairPhoto bool
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		cleanup, err := m.parseMultipart(w, r)
		defer cleanup()
		if err != nil {
			m.writeError(w, r, err)
			return
		}
		req = statusRequest{
			CaseID:       r.FormValue("caseId"),
			Status:       r.FormValue("status"),
			ReportTime:   r.FormValue("reportTime"),
			ResponseTime: r.FormValue("responseTime"),
			RepairVendor: r.FormValue("repairVendor"),
		}
		body, _ := json.Marshal(req)
		if err := m.Validator.Validate(schema.CaseStatus, body); err != nil {
			m.writeError(w, r, err)
			return
		}
		repairPhoto = len(r.MultipartForm.File["repairImage"]) > 0
	} else if err := m.readJSON(w, r, schema.CaseStatus, &req); err != nil {
		m.writeError(w, r, err)
		return
	}

	status, ok := model.ParseStatus(req.Status)
	if !ok {
		m.writeError(w, r, fmt.Errorf("%w: unknown status %q", cases.ErrValidation, req.Status))
		return
	}
	reportTime, err := parseTime("reportTime", req.ReportTime)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	responseTime, err := parseTime("responseTime", req.ResponseTime)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("case.id", req.CaseID),
		attribute.String("case.status", string(status)),
	)

	before, err := m.Cases.Get(ctx, req.CaseID)
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	meta := &model.CompletionMeta{
		ReportTime:   reportTime,
		ResponseTime: responseTime,
		RepairVendor: req.RepairVendor,
	}
	if repairPhoto {
		file, header, err := m.openImage(r, "repairImage")
		if err != nil {
			m.writeErrorDef(w, r, errordefs.New(errordefs.CASE_MEDIA_TYPE, err.Error(), correlationID(r)))
			return
		}
		defer file.Close()
		ct := header.Header.Get("Content-Type")
		url, err := m.Media.Store(ctx, media.ObjectKey("repairs", req.CaseID, ct, m.Now()), ct, file, header.Size)
		if err != nil {
			m.writeError(w, r, err)
			return
		}
		meta.RepairImageURL = url
	}

	if _, err := m.Cases.UpdateStatus(ctx, req.CaseID, status, meta); err != nil {
		m.writeError(w, r, err)
		return
	}
	if err := m.Events.PublishStatusChanged(ctx, req.CaseID, before.Status, status); err != nil {
		m.Logger.WarnContext(ctx, "failed to publish status changed event", "case_id", req.CaseID, "error", err)
	}

	m.writeJSON(w, http.StatusOK, map[string]string{"message": msgStatusUpdated})
}

// handleRevertCaseStatus handles POST /api/revert-case-status.
func (m *Mux) handleRevertCaseStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CaseID string `json:"caseId"`
		Status string `json:"status"`
	}
	if err := m.readJSON(w, r, schema.RevertStatus, &req); err != nil {
		m.writeError(w, r, err)
		return
	}

	var status model.Status
	if req.Status != "" {
		st, ok := model.ParseStatus(req.Status)
		if !ok {
			m.writeError(w, r, fmt.Errorf("%w: unknown status %q", cases.ErrValidation, req.Status))
			return
		}
		status = st
	}

	before, err := m.Cases.Get(r.Context(), req.CaseID)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	c, err := m.Cases.Revert(r.Context(), req.CaseID, status)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if err := m.Events.PublishStatusChanged(r.Context(), req.CaseID, before.Status, c.Status); err != nil {
		m.Logger.WarnContext(r.Context(), "failed to publish status changed event", "case_id", req.CaseID, "error", err)
	}
	m.writeJSON(w, http.StatusOK, map[string]string{"message": msgStatusUpdated})
}

// handleDeleteCase handles POST /api/delete-case. Comments of the case are kept.
func (m *Mux) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CaseID string `json:"caseId"`
	}
	if err := m.readJSON(w, r, schema.DeleteCase, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	if err := m.Cases.Delete(r.Context(), req.CaseID); err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]string{"message": msgCaseDeleted})
}

// handleUploadCasePhoto handles POST /api/upload-case-photo. Only one upload
// per case may be in flight; a second one is refused with 409.
func (m *Mux) handleUploadCasePhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cleanup, err := m.parseMultipart(w, r)
	defer cleanup()
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	caseID := strings.TrimSpace(r.FormValue("caseId"))
	if caseID == "" {
		m.writeError(w, r, fmt.Errorf("%w: caseId is required", cases.ErrValidation))
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("case.id", caseID))

	release, ok := m.Uploads.TryAcquire(caseID)
	if !ok {
		m.Logger.InfoContext(ctx, "upload already in progress", "case_id", caseID)
		m.writeError(w, r, cases.ErrUploadInProgress)
		return
	}
	defer release()

	file, header, err := m.openImage(r, "image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			m.writeErrorDef(w, r, errordefs.New(errordefs.CASE_VALIDATION, msgNoImage, correlationID(r)))
			return
		}
		m.writeErrorDef(w, r, errordefs.New(errordefs.CASE_MEDIA_TYPE, err.Error(), correlationID(r)))
		return
	}
	defer file.Close()

	if _, err := m.Cases.Get(ctx, caseID); err != nil {
		m.writeError(w, r, err)
		return
	}

	now := m.Now().UTC()
	ct := header.Header.Get("Content-Type")
	url, err := m.Media.Store(ctx, media.ObjectKey("case-photos", caseID, ct, now), ct, file, header.Size)
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	photo := model.PhotoEntry{ImageURL: url, Description: r.FormValue("description"), UploadTime: now}
	if _, err := m.Cases.AppendPhoto(ctx, caseID, photo); err != nil {
		m.writeError(w, r, err)
		return
	}
	if err := m.Events.PublishPhotoAppended(ctx, caseID, photo); err != nil {
		m.Logger.WarnContext(ctx, "failed to publish photo appended event", "case_id", caseID, "error", err)
	}

	m.writeJSON(w, http.StatusOK, map[string]string{"imageUrl": url})
}

// handleUpdateARI handles POST /api/update-ari-data.
func (m *Mux) handleUpdateARI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CaseID  string               `json:"caseId"`
		ARIData model.ARIMeasurement `json:"ariData"`
	}
	if err := m.readJSON(w, r, schema.ARIMeasure, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	if _, err := m.Cases.SaveARI(r.Context(), req.CaseID, req.ARIData); err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]string{"message": "Success", "detail": "ARI 數據已更新"})
}

// handleInProgressCases handles GET /api/get-in-progress-cases.
func (m *Mux) handleInProgressCases(w http.ResponseWriter, r *http.Request) {
	list, err := m.Cases.ListByStatus(r.Context(), model.Status.Open)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, list)
}

// handleCompletedCases handles GET /api/get-completed-cases.
func (m *Mux) handleCompletedCases(w http.ResponseWriter, r *http.Request) {
	list, err := m.Cases.ListByStatus(r.Context(), func(s model.Status) bool {
		return s == model.StatusProcessed
	})
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, list)
}

// handleUserCases handles GET /api/user-cases/{userId}, newest first.
func (m *Mux) handleUserCases(w http.ResponseWriter, r *http.Request) {
	list, err := m.Cases.ListByUser(r.Context(), r.PathValue("userId"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("recent") == "1" && len(list) > recentCaseLimit {
		list = list[:recentCaseLimit]
	}
	m.writeJSON(w, http.StatusOK, list)
}

// handleGetUserData handles GET /api/get-user-data: every case keyed by id.
func (m *Mux) handleGetUserData(w http.ResponseWriter, r *http.Request) {
	list, err := m.Cases.List(r.Context())
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	out := make(map[string]model.Case, len(list))
	for _, c := range list {
		out[c.CaseID] = c
	}
	m.writeJSON(w, http.StatusOK, out)
}
