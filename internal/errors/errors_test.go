package errors

import (
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CASE_VALIDATION, http.StatusBadRequest},
		{CASE_BAD_REQUEST, http.StatusBadRequest},
		{CASE_NOT_FOUND, http.StatusNotFound},
		{CASE_CONFLICT, http.StatusConflict},
		{CASE_CONCURRENT_UPDATE, http.StatusInternalServerError},
		{CASE_UPSTREAM, http.StatusBadGateway},
		{CASE_AUTHN, http.StatusUnauthorized},
		{CASE_AUTHZ, http.StatusForbidden},
		{CASE_INTERNAL, http.StatusInternalServerError},
		{CASE_UNAVAILABLE, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x", "cid").HTTPStatus; got != tt.want {
			t.Errorf("%s -> %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	e := NewWithDetails(CASE_VALIDATION, "missing fields", "cid", []string{"latitude"})
	if e.Error() != "CASE_VALIDATION: missing fields (details: [latitude])" {
		t.Errorf("Error() = %q", e.Error())
	}
}
