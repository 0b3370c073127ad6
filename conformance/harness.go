// Package conformance provides an end-to-end harness that drives the case
// service over HTTP and checks its externally visible guarantees.
package conformance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/roadcase/roadcase-go/internal/cases"
	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/dashboard"
	"github.com/roadcase/roadcase-go/internal/engagement"
	"github.com/roadcase/roadcase-go/internal/event"
	"github.com/roadcase/roadcase-go/internal/geocode"
	"github.com/roadcase/roadcase-go/internal/media"
	"github.com/roadcase/roadcase-go/internal/model"
	"github.com/roadcase/roadcase-go/internal/notify"
	"github.com/roadcase/roadcase-go/internal/schema"
	"github.com/roadcase/roadcase-go/internal/server"
	"github.com/roadcase/roadcase-go/internal/storage"
	"github.com/roadcase/roadcase-go/internal/tracking"
)

// Harness runs the full service behind an httptest server.
type Harness struct {
	server   *httptest.Server
	geocoder *httptest.Server
	store    storage.Store
	cases    *cases.Store
	uploads  *cases.UploadLock
	eng      *engagement.Store
	pub      event.Publisher
}

// Config holds configuration for the conformance test harness.
type Config struct {
	// WorkDir receives uploaded media and, with UseSQLite, the database file
	WorkDir string

	// UseSQLite selects the SQLite backend instead of the in-memory store
	UseSQLite bool

	// TxnMaxAttempts bounds optimistic transaction retries (0 uses the default)
	TxnMaxAttempts int
}

// Address returned by the stub geocoder.
const stubAddress = "110臺北市信義區市府路1號"

// NewHarness wires every component the way the service binary does, with
// local media and a stub reverse geocoder.
func NewHarness(cfg Config) (*Harness, error) {
	var store storage.Store
	if cfg.UseSQLite {
		s, err := storage.NewSQLite(filepath.Join(cfg.WorkDir, "roadcase.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store = s
	} else {
		store = storage.NewMemory()
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"display_name": stubAddress})
	}))

	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	mediaDir := filepath.Join(cfg.WorkDir, "media")
	local, err := media.NewLocal(mediaDir, baseURL+"/media")
	if err != nil {
		geo.Close()
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	counters := counter.New(store, cfg.TxnMaxAttempts)
	caseStore := cases.New(store, cases.WithMaxAttempts(cfg.TxnMaxAttempts))
	uploads := cases.NewUploadLock()
	eng := engagement.New(store, caseStore, counters, cfg.TxnMaxAttempts)
	pub := event.NewNoop()

	srv.Config.Handler = server.NewMux(server.Deps{
		Store:            store,
		Cases:            caseStore,
		Uploads:          uploads,
		Engagement:       eng,
		Tracker:          tracking.New(store, counters, tracking.WithMaxAttempts(cfg.TxnMaxAttempts)),
		Dashboard:        dashboard.New(caseStore, counters),
		Counters:         counters,
		Validator:        validator,
		Media:            local,
		Geocoder:         geocode.New(geo.URL, "roadcase-conformance"),
		Notifier:         notify.NewLog(logger),
		Events:           pub,
		Logger:           logger,
		MediaDir:         mediaDir,
		MaxMediaSize:     10 << 20,
		AllowedMimeTypes: []string{"image/jpeg", "image/png"},
	})
	srv.Start()

	return &Harness{
		server:   srv,
		geocoder: geo,
		store:    store,
		cases:    caseStore,
		uploads:  uploads,
		eng:      eng,
		pub:      pub,
	}, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the servers and releases the store.
func (h *Harness) Close() {
	h.server.Close()
	h.geocoder.Close()
	h.eng.Wait()
	_ = h.pub.Close()
	_ = h.store.Close()
}

// RunConformanceTests runs every conformance check against the service.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("CaseIDSequence", h.testCaseIDSequence)
	t.Run("StatusRoundTrip", h.testStatusRoundTrip)
	t.Run("LikeToggleParity", h.testLikeToggleParity)
	t.Run("ConcurrentLikes", h.testConcurrentLikes)
	t.Run("ConcurrentPhotoAppends", h.testConcurrentPhotoAppends)
	t.Run("UploadLockConflict", h.testUploadLockConflict)
	t.Run("DeleteKeepsComments", h.testDeleteKeepsComments)
	t.Run("ErrorEnvelope", h.testErrorEnvelope)
}

func (h *Harness) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(h.URL()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (h *Harness) postMultipart(t *testing.T, path string, fields map[string]string, fileField string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if fileField != "" {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="road.jpg"`, fileField))
		hdr.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte("\xff\xd8\xff\xe0conformance"))
	}
	_ = mw.Close()

	resp, err := http.Post(h.URL()+path, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response (status %d): %v", resp.StatusCode, err)
	}
	return v
}

func (h *Harness) getCase(t *testing.T, caseID string) model.Case {
	t.Helper()
	resp, err := http.Get(h.URL() + "/api/get-user-data")
	if err != nil {
		t.Fatal(err)
	}
	all := decodeBody[map[string]model.Case](t, resp)
	c, ok := all[caseID]
	if !ok {
		t.Fatalf("case %s not found", caseID)
	}
	return c
}

// report submits a citizen report through /detect and returns the case id.
func (h *Harness) report(t *testing.T, category, userID string) string {
	t.Helper()
	resp := h.postMultipart(t, "/detect", map[string]string{
		"latitude":  "25.0375",
		"longitude": "121.5637",
		"userId":    userID,
		"category":  category,
	}, "image_file")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detect status = %d", resp.StatusCode)
	}
	res := decodeBody[map[string]string](t, resp)
	if res["message"] != "Success" {
		t.Fatalf("detect = %v", res)
	}
	return res["caseId"]
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("failed to GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

// testCaseIDSequence checks that ids count existing cases of the category.
func (h *Harness) testCaseIDSequence(t *testing.T) {
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, h.report(t, "道路養護", "seq-user"))
	}
	want := []string{"A000001", "A000002", "A000003", "A000004"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	if id := h.report(t, "其他", "seq-user"); !strings.HasPrefix(id, "Z") {
		t.Errorf("unknown category id = %s", id)
	}

	c := h.getCase(t, ids[0])
	if c.Address != stubAddress || c.CellToken == "" {
		t.Errorf("case = %+v", c)
	}
	resp, err := http.Get(c.ImageURL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stored image not served: %d", resp.StatusCode)
	}
}

// testStatusRoundTrip checks create then update-status then read.
func (h *Harness) testStatusRoundTrip(t *testing.T) {
	id := h.report(t, "交通工程", "status-user")
	if c := h.getCase(t, id); c.Status != model.StatusUnprocessed {
		t.Fatalf("new case status = %s", c.Status)
	}

	resp := h.postJSON(t, "/api/update-case-status", map[string]string{
		"caseId":       id,
		"status":       "PROCESSED",
		"reportTime":   "2024-06-01T09:30:00Z",
		"responseTime": "2024-06-02T14:00:00Z",
		"repairVendor": "市府工務局",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	c := h.getCase(t, id)
	if c.Status != model.StatusProcessed || c.RepairVendor != "市府工務局" {
		t.Fatalf("case = %+v", c)
	}
	if c.ReportTime == nil || c.ReportTime.Format("2006-01-02T15:04") != "2024-06-01T09:30" {
		t.Errorf("reportTime = %v", c.ReportTime)
	}
	if c.ResponseTime == nil || c.ResponseTime.Day() != 2 {
		t.Errorf("responseTime = %v", c.ResponseTime)
	}
}

// testLikeToggleParity checks that likes equal the toggle count mod 2.
func (h *Harness) testLikeToggleParity(t *testing.T) {
	id := h.report(t, "人行環境", "like-owner")
	for n := 1; n <= 5; n++ {
		resp := h.postJSON(t, "/api/like-case", map[string]string{"caseId": id, "userId": "parity"})
		res := decodeBody[map[string]interface{}](t, resp)
		if res["likes"] != float64(n%2) {
			t.Fatalf("after %d toggles likes = %v", n, res["likes"])
		}
	}
	c := h.getCase(t, id)
	if !c.UserLikes.Contains("parity") || c.Likes != 1 {
		t.Errorf("case likes = %d users = %v", c.Likes, c.UserLikes.Users())
	}
}

// testConcurrentLikes checks that concurrent toggles by different users all land.
func (h *Harness) testConcurrentLikes(t *testing.T) {
	id := h.report(t, "人行環境", "like-owner")

	const users = 8
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := h.postJSON(t, "/api/like-case", map[string]string{"caseId": id, "userId": fmt.Sprintf("u%d", i)})
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("like %d status = %d", i, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	c := h.getCase(t, id)
	if c.Likes != users || c.UserLikes.Len() != users {
		t.Errorf("likes = %d users = %v", c.Likes, c.UserLikes.Users())
	}
}

// testConcurrentPhotoAppends checks that parallel uploads to different cases
// succeed and that parallel appends to one case are all kept.
func (h *Harness) testConcurrentPhotoAppends(t *testing.T) {
	id := h.report(t, "道路養護", "photo-user")

	var wg sync.WaitGroup
	for _, desc := range []string{"before", "after"} {
		wg.Add(1)
		go func(desc string) {
			defer wg.Done()
			_, err := h.cases.AppendPhoto(t.Context(), id, model.PhotoEntry{ImageURL: "https://cdn.test/" + desc, Description: desc})
			if err != nil {
				t.Errorf("append %s: %v", desc, err)
			}
		}(desc)
	}
	wg.Wait()

	c := h.getCase(t, id)
	var got []string
	for _, p := range c.AdditionalImageURLs {
		got = append(got, p.Description)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "after" || got[1] != "before" {
		t.Errorf("photos = %v", got)
	}
}

// testUploadLockConflict checks the 409 on a duplicate in-flight upload.
func (h *Harness) testUploadLockConflict(t *testing.T) {
	id := h.report(t, "道路養護", "upload-user")

	release, ok := h.uploads.TryAcquire(id)
	if !ok {
		t.Fatal("lock unexpectedly held")
	}
	resp := h.postMultipart(t, "/api/upload-case-photo", map[string]string{"caseId": id}, "image")
	resp.Body.Close()
	release()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status while locked = %d", resp.StatusCode)
	}
	if c := h.getCase(t, id); len(c.AdditionalImageURLs) != 0 {
		t.Fatalf("photo stored while locked: %+v", c.AdditionalImageURLs)
	}

	resp = h.postMultipart(t, "/api/upload-case-photo", map[string]string{"caseId": id, "description": "現場"}, "image")
	res := decodeBody[map[string]string](t, resp)
	if resp.StatusCode != http.StatusOK || res["imageUrl"] == "" {
		t.Fatalf("upload after release = %d %v", resp.StatusCode, res)
	}
}

// testDeleteKeepsComments checks that deletion leaves comments in place.
func (h *Harness) testDeleteKeepsComments(t *testing.T) {
	id := h.report(t, "交通工程", "delete-user")

	resp := h.postJSON(t, "/api/comments/"+id, map[string]string{"userId": "c1", "userName": "甲", "text": "號誌故障"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add comment = %d", resp.StatusCode)
	}

	resp = h.postJSON(t, "/api/delete-case", map[string]string{"caseId": id})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}

	resp, err := http.Get(h.URL() + "/api/comments/" + id)
	if err != nil {
		t.Fatal(err)
	}
	if comments := decodeBody[[]model.Comment](t, resp); len(comments) != 1 {
		t.Errorf("comments after delete = %d", len(comments))
	}
}

// testErrorEnvelope checks the error body shape and correlation id.
func (h *Harness) testErrorEnvelope(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, h.URL()+"/api/revert-case-status", strings.NewReader(`{"caseId":"A999999"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.CorrelationHeader, "conf-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	body := decodeBody[map[string]map[string]string](t, resp)
	if body["error"]["code"] != "CASE_NOT_FOUND" || body["error"]["correlationId"] != "conf-1" {
		t.Errorf("error body = %v", body)
	}
}
