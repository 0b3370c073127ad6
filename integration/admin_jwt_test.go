// integration/admin_jwt_test.go
// Package integration exercises admin authentication end to end: a JWKS
// endpoint, signed tokens and the protected case management routes.
package integration

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roadcase/roadcase-go/internal/cases"
	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/dashboard"
	"github.com/roadcase/roadcase-go/internal/engagement"
	"github.com/roadcase/roadcase-go/internal/jwks"
	"github.com/roadcase/roadcase-go/internal/model"
	"github.com/roadcase/roadcase-go/internal/schema"
	"github.com/roadcase/roadcase-go/internal/server"
	"github.com/roadcase/roadcase-go/internal/storage"
	"github.com/roadcase/roadcase-go/internal/tracking"
)

const (
	testIssuer   = "https://auth.roadcase.test"
	testAudience = "roadcase-admin"
	testKeyID    = "admin-key-1"
)

type env struct {
	server *httptest.Server
	cases  *cases.Store
	key    ed25519.PrivateKey
}

// newEnv starts a JWKS endpoint and the case service configured against it.
func newEnv(t *testing.T) *env {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks.JWKS{Keys: []jwks.JWK{{
			Kty: "OKP",
			Kid: testKeyID,
			Use: "sig",
			Alg: "EdDSA",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(pub),
		}}})
	}))
	t.Cleanup(jwksServer.Close)

	kv := storage.NewMemory()
	counters := counter.New(kv, 0)
	cs := cases.New(kv)
	eng := engagement.New(kv, cs, counters, 0)
	t.Cleanup(eng.Wait)
	v, err := schema.NewValidator()
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(server.NewMux(server.Deps{
		Store:       kv,
		Cases:       cs,
		Engagement:  eng,
		Tracker:     tracking.New(kv, counters),
		Dashboard:   dashboard.New(cs, counters),
		Counters:    counters,
		Validator:   v,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		JWKS:        jwks.NewClient(jwksServer.URL),
		JWTIssuer:   testIssuer,
		JWTAudience: testAudience,
	}))
	t.Cleanup(srv.Close)

	return &env{server: srv, cases: cs, key: priv}
}

// token signs a token with the given role; ttl may be negative to produce an expired one.
func (e *env) token(t *testing.T, role string, ttl time.Duration) string {
	t.Helper()
	claims := jwks.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			Subject:   "staff-01",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(e.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (e *env) seedCase(t *testing.T) string {
	t.Helper()
	lat, lon := 24.1477, 120.6736
	c, err := e.cases.Create(context.Background(), model.NewCase{
		ImageURL:  "https://cdn.test/a.jpg",
		UserID:    "citizen",
		Latitude:  &lat,
		Longitude: &lon,
		Category:  "道路養護",
	})
	if err != nil {
		t.Fatal(err)
	}
	return c.CaseID
}

func (e *env) updateStatus(t *testing.T, caseID, bearer string) (int, string) {
	t.Helper()
	body := `{"caseId":"` + caseID + `","status":"IN_PROGRESS"}`
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/api/update-case-status", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out.Error.Code
}

func TestAdminRoutesWithJWKS(t *testing.T) {
	e := newEnv(t)
	caseID := e.seedCase(t)

	tests := []struct {
		name     string
		bearer   string
		wantCode int
		wantErr  string
	}{
		{"no token", "", http.StatusUnauthorized, "CASE_AUTHN"},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized, "CASE_AUTHN"},
		{"expired admin token", e.token(t, jwks.AdminRole, -time.Minute), http.StatusUnauthorized, "CASE_AUTHN"},
		{"citizen role", e.token(t, "citizen", time.Hour), http.StatusForbidden, "CASE_AUTHZ"},
		{"admin role", e.token(t, jwks.AdminRole, time.Hour), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := e.updateStatus(t, caseID, tt.bearer)
			if status != tt.wantCode || code != tt.wantErr {
				t.Errorf("got %d %q, want %d %q", status, code, tt.wantCode, tt.wantErr)
			}
		})
	}

	c, err := e.cases.Get(context.Background(), caseID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != model.StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", c.Status)
	}
}

func TestTokenFromUnknownKeyRejected(t *testing.T) {
	e := newEnv(t)
	caseID := e.seedCase(t)

	_, other, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	e.key = other

	status, code := e.updateStatus(t, caseID, e.token(t, jwks.AdminRole, time.Hour))
	if status != http.StatusUnauthorized || code != "CASE_AUTHN" {
		t.Errorf("got %d %q", status, code)
	}
}

func TestPublicRoutesNeedNoToken(t *testing.T) {
	e := newEnv(t)
	caseID := e.seedCase(t)

	resp, err := http.Post(e.server.URL+"/api/like-case", "application/json",
		strings.NewReader(`{"caseId":"`+caseID+`","userId":"citizen-2"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("like-case status = %d", resp.StatusCode)
	}
}
