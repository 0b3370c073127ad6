// internal/server/respond.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roadcase/roadcase-go/internal/cases"
	"github.com/roadcase/roadcase-go/internal/engagement"
	errordefs "github.com/roadcase/roadcase-go/internal/errors"
	"github.com/roadcase/roadcase-go/internal/geocode"
	"github.com/roadcase/roadcase-go/internal/jwks"
	"github.com/roadcase/roadcase-go/internal/media"
	"github.com/roadcase/roadcase-go/internal/schema"
	"github.com/roadcase/roadcase-go/internal/storage"
	"github.com/roadcase/roadcase-go/internal/tracking"
)

// errBadRequest marks bodies that cannot be read or decoded.
var errBadRequest = errors.New("malformed request")

// classify maps a domain error onto the service error taxonomy. The message
// is safe to return to clients.
func classify(err error) (errordefs.ErrorCode, string) {
	var verr *schema.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		return errordefs.CASE_SCHEMA_REJECT, verr.Error()
	case errors.Is(err, schema.ErrInvalid):
		return errordefs.CASE_SCHEMA_REJECT, err.Error()
	case errors.As(err, &maxErr):
		return errordefs.CASE_MEDIA_SIZE, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
	case errors.Is(err, errBadRequest):
		return errordefs.CASE_BAD_REQUEST, err.Error()
	case errors.Is(err, cases.ErrValidation),
		errors.Is(err, engagement.ErrValidation),
		errors.Is(err, tracking.ErrValidation):
		return errordefs.CASE_VALIDATION, err.Error()
	case errors.Is(err, cases.ErrUploadInProgress):
		return errordefs.CASE_CONFLICT, "上傳已在進行中"
	case errors.Is(err, storage.ErrNotFound):
		return errordefs.CASE_NOT_FOUND, err.Error()
	case errors.Is(err, storage.ErrConcurrentUpdate):
		return errordefs.CASE_CONCURRENT_UPDATE, "too many concurrent updates, retry the request"
	case errors.Is(err, jwks.ErrForbidden):
		return errordefs.CASE_AUTHZ, "admin role required"
	case errors.Is(err, media.ErrUpstream), errors.Is(err, geocode.ErrUpstream), errors.Is(err, geocode.ErrNoAddress):
		return errordefs.CASE_UPSTREAM, "upstream service failed"
	case errors.Is(err, context.DeadlineExceeded):
		return errordefs.CASE_UNAVAILABLE, "request timed out"
	default:
		return errordefs.CASE_INTERNAL, "internal error"
	}
}

// writeJSON writes v with the given status.
func (m *Mux) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err and writes it in the error envelope.
func (m *Mux) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := classify(err)
	e := errordefs.New(code, msg, correlationID(r))
	if e.HTTPStatus >= http.StatusInternalServerError {
		m.Logger.ErrorContext(r.Context(), "request failed", "code", code, "error", err, "correlation_id", e.CorrelationID)
	}
	m.markSpan(r.Context(), err)
	m.writeErrorDef(w, r, e)
}

// writeErrorDef writes an error response following the service error taxonomy
func (m *Mux) writeErrorDef(w http.ResponseWriter, r *http.Request, e *errordefs.Error) {
	body := map[string]interface{}{
		"code":          e.Code,
		"message":       e.Message,
		"correlationId": e.CorrelationID,
	}
	if e.Details != nil {
		body["details"] = e.Details
	}
	m.writeJSON(w, e.HTTPStatus, map[string]interface{}{"error": body})
}

func (m *Mux) markSpan(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// readJSON reads a bounded body, validates it against the named schema and
// decodes it into dst.
func (m *Mux) readJSON(w http.ResponseWriter, r *http.Request, name string, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := m.Validator.Validate(name, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
