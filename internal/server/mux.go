// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the case service.
// It exposes the citizen reporting API, admin case management and the
// dashboard, with admin JWT authentication, schema validation and event publishing.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/roadcase/roadcase-go/internal/cases"
	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/dashboard"
	"github.com/roadcase/roadcase-go/internal/engagement"
	errordefs "github.com/roadcase/roadcase-go/internal/errors"
	"github.com/roadcase/roadcase-go/internal/event"
	"github.com/roadcase/roadcase-go/internal/geocode"
	"github.com/roadcase/roadcase-go/internal/jwks"
	"github.com/roadcase/roadcase-go/internal/media"
	"github.com/roadcase/roadcase-go/internal/metrics"
	"github.com/roadcase/roadcase-go/internal/notify"
	"github.com/roadcase/roadcase-go/internal/schema"
	"github.com/roadcase/roadcase-go/internal/storage"
	"github.com/roadcase/roadcase-go/internal/telemetry"
	"github.com/roadcase/roadcase-go/internal/tracking"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-Id"

const (
	// Cap for JSON request bodies
	maxJSONBody = 1 << 20
	// Multipart overhead allowed on top of the media size limit
	multipartSlack = 1 << 20
	// Default number of cases returned by ?recent=1
	recentCaseLimit = 10
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Store      storage.Store
	Cases      *cases.Store
	Uploads    *cases.UploadLock
	Engagement *engagement.Store
	Tracker    *tracking.Tracker
	Dashboard  *dashboard.Aggregator
	Counters   *counter.Store
	Validator  *schema.Validator
	Media      media.Uploader
	Geocoder   geocode.Reverser
	Notifier   notify.Notifier
	Events     event.Publisher
	Logger     *slog.Logger

	// MediaDir is served under /media/ when photos are kept on local disk
	MediaDir string

	// Admin authentication, disabled when JWTIssuer is empty
	JWKS        *jwks.Client
	JWTIssuer   string
	JWTAudience string

	// Media limits
	MaxMediaSize     int64
	AllowedMimeTypes []string

	// CORS configuration (empty means deny all)
	CORSAllowedOrigins []string

	// Clock for upload timestamps; defaults to time.Now
	Now func() time.Time
}

// Mux handles HTTP requests for the case service.
type Mux struct {
	Deps
	mux     *http.ServeMux
	metrics *metrics.Metrics
}

// NewMux registers every route and returns the root handler.
func NewMux(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Events == nil {
		d.Events = event.NewNoop()
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLog(d.Logger)
	}
	if d.Uploads == nil {
		d.Uploads = cases.NewUploadLock()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	m := &Mux{Deps: d, mux: http.NewServeMux(), metrics: metrics.NewMetrics()}

	// Health endpoints
	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	m.mux.Handle("GET /metrics", promhttp.Handler())

	// Reporting
	m.route("POST /detect", m.handleDetect)
	m.route("POST /api/save-upload-info", m.handleSaveUploadInfo)
	m.route("GET /api/user-points/{userId}", m.handleUserPoints)
	m.route("POST /api/update-ari-data", m.handleUpdateARI)

	// Case queries
	m.route("GET /api/get-in-progress-cases", m.handleInProgressCases)
	m.route("GET /api/get-completed-cases", m.handleCompletedCases)
	m.route("GET /api/user-cases/{userId}", m.handleUserCases)

	// Engagement
	m.route("POST /api/like-case", m.handleLikeCase)
	m.route("GET /api/comments/{caseId}", m.handleListComments)
	m.route("POST /api/comments/{caseId}", m.handleAddComment)
	m.route("POST /api/comments/{caseId}/{commentId}/like", m.handleLikeComment)

	// Tracking and dashboard
	m.route("POST /api/record-user-login", m.handleRecordLogin)
	m.route("POST /api/record-page-view", m.handleRecordPageView)
	m.route("GET /api/dashboard-data", m.handleDashboard)

	// Admin
	m.route("POST /api/update-case-status", m.admin(m.handleUpdateCaseStatus))
	m.route("POST /api/revert-case-status", m.admin(m.handleRevertCaseStatus))
	m.route("POST /api/delete-case", m.admin(m.handleDeleteCase))
	m.route("POST /api/upload-case-photo", m.admin(m.handleUploadCasePhoto))
	m.route("GET /api/get-user-data", m.admin(m.handleGetUserData))
	m.route("DELETE /api/comments/{caseId}/{commentId}", m.admin(m.handleDeleteComment))

	if d.MediaDir != "" {
		m.mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(d.MediaDir))))
	}

	corsOpts := cors.Options{
		AllowedOrigins: d.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", CorrelationHeader},
		ExposedHeaders: []string{CorrelationHeader},
		MaxAge:         86400,
	}
	if len(d.CORSAllowedOrigins) == 0 {
		// cors treats an empty list as "*"
		corsOpts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return cors.Handler(corsOpts)(m.mux)
}

// route registers h behind the common middleware.
func (m *Mux) route(pattern string, h http.HandlerFunc) {
	m.mux.Handle(pattern, m.withMiddleware(pattern, h))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// withMiddleware assigns the correlation id, opens a span and records
// request metrics and the access log line.
func (m *Mux) withMiddleware(pattern string, h http.HandlerFunc) http.Handler {
	_, path, _ := strings.Cut(pattern, " ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set(CorrelationHeader, correlationID)

		ctx, span := otel.Tracer(telemetry.TracerName).Start(event.WithCorrelationID(r.Context(), correlationID), pattern)
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", path),
			attribute.String("correlation_id", correlationID),
		)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		status := strconv.Itoa(rec.status)
		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, path, status).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(elapsed.Seconds())
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		m.logRequest(r, rec.status, elapsed, correlationID)
	})
}

// admin requires a valid bearer token with the admin role when an issuer is configured.
func (m *Mux) admin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.JWTIssuer == "" {
			h(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			m.writeErrorDef(w, r, errordefs.New(errordefs.CASE_AUTHN, "missing or malformed Authorization header", correlationID(r)))
			return
		}

		claims, err := m.JWKS.ValidateAdmin(r.Context(), token, m.JWTIssuer, m.JWTAudience)
		if errors.Is(err, jwks.ErrForbidden) {
			m.writeError(w, r, err)
			return
		}
		if err != nil {
			m.Logger.WarnContext(r.Context(), "admin token rejected", "error", err)
			m.writeErrorDef(w, r, errordefs.New(errordefs.CASE_AUTHN, "invalid bearer token", correlationID(r)))
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeySubject, claims.Subject))
		h(w, r)
	}
}

// ContextKey is used for request-scoped values set by the middleware.
type ContextKey string

// ContextKeySubject stores the admin token subject.
const ContextKeySubject ContextKey = "subject"

// correlationID returns the id assigned by withMiddleware.
func correlationID(r *http.Request) string {
	return event.CorrelationID(r.Context())
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("correlation_id", correlationID),
	}
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	m.Logger.LogAttrs(r.Context(), level, "request completed", attrs...)
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports whether the store answers within five seconds.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := m.Store.Ping(ctx); err != nil {
		m.Logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
