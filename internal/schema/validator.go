// internal/schema/validator.go
// Package schema provides JSON schema validation for inbound request bodies.
// Payloads are checked before they are decoded into domain types.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/roadcase/roadcase-go/internal/metrics"
)

// Schema names, one per JSON request body.
const (
	LikeCase      = "like_case"
	Comment       = "comment"
	CommentLike   = "comment_like"
	CaseStatus    = "case_status"
	RevertStatus  = "revert_status"
	DeleteCase    = "delete_case"
	ARIMeasure    = "ari_measurement"
	Login         = "login"
	UploadInfo    = "upload_info"
	schemaVersion = "1.0.0"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("payload rejected by schema")

// ValidationError carries the individual schema violations.
type ValidationError struct {
	Schema string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Schema, strings.Join(e.Issues, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

const idString = `{"type":"string","minLength":1,"maxLength":128}`

// definitions holds the schema source for each payload.
var definitions = map[string]string{
	LikeCase: `{"type":"object","required":["caseId","userId"],"properties":{` +
		`"caseId":` + idString + `,"userId":` + idString + `}}`,

	Comment: `{"type":"object","required":["userId","text"],"properties":{` +
		`"userId":` + idString + `,` +
		`"userName":{"type":"string","maxLength":64},` +
		`"text":{"type":"string","minLength":1,"maxLength":1000}}}`,

	CommentLike: `{"type":"object","required":["userId"],"properties":{"userId":` + idString + `}}`,

	CaseStatus: `{"type":"object","required":["caseId","status"],"properties":{` +
		`"caseId":` + idString + `,` +
		`"status":{"type":"string","minLength":1},` +
		`"reportTime":{"type":"string"},` +
		`"responseTime":{"type":"string"},` +
		`"repairVendor":{"type":"string","maxLength":128}}}`,

	RevertStatus: `{"type":"object","required":["caseId"],"properties":{` +
		`"caseId":` + idString + `,"status":{"type":"string"}}}`,

	DeleteCase: `{"type":"object","required":["caseId"],"properties":{"caseId":` + idString + `}}`,

	ARIMeasure: `{"type":"object","required":["caseId","ariData"],"properties":{` +
		`"caseId":` + idString + `,` +
		`"ariData":{"type":"object","properties":{` +
		`"ARI":{"type":["number","null"]},` +
		`"totalDistance":{"type":"number","minimum":0},` +
		`"badRoadSegments":{"type":"array","items":{"type":"object",` +
		`"required":["startARI","endARI"],"properties":{` +
		`"startARI":{"type":"number"},"endARI":{"type":"number"},` +
		`"distance":{"type":"number","minimum":0}}}}}}}}`,

	Login: `{"type":"object","required":["userId"],"properties":{"userId":` + idString + `}}`,

	UploadInfo: `{"type":"object","required":["userId"],"properties":{"userId":` + idString + `}}`,
}

// Validator validates request bodies against compiled JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of payload names to JSON schemas
}

// NewValidator compiles every known schema.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for name, src := range definitions {
		if err := v.loadSchema(name, src); err != nil {
			return nil, fmt.Errorf("failed to load schemas: %w", err)
		}
	}
	return v, nil
}

// loadSchema parses and compiles a JSON schema for name.
func (v *Validator) loadSchema(name, schemaJSON string) error {
	loader := gojsonschema.NewStringLoader(schemaJSON)

	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", name, err)
	}

	v.schemas[name] = schema
	return nil
}

// Version is the version of the schema set, reported with rejections.
func (v *Validator) Version() string { return schemaVersion }

// Validate checks body against the named schema. Violations are returned as
// a *ValidationError which wraps ErrInvalid; malformed JSON also wraps ErrInvalid.
func (v *Validator) Validate(name string, body []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("schema not found: %s", name)
	}

	m := metrics.NewMetrics()
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		m.SchemaValidationTotal.WithLabelValues(name, "malformed").Inc()
		return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}

	if !result.Valid() {
		m.SchemaValidationTotal.WithLabelValues(name, "rejected").Inc()
		verr := &ValidationError{Schema: name}
		for _, desc := range result.Errors() {
			verr.Issues = append(verr.Issues, desc.String())
		}
		return verr
	}

	m.SchemaValidationTotal.WithLabelValues(name, "ok").Inc()
	return nil
}
