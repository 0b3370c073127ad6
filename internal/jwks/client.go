// Package jwks verifies admin bearer tokens against an Ed25519 JSON Web Key Set.
package jwks

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrForbidden is returned when a valid token lacks the admin role.
var ErrForbidden = errors.New("token lacks admin role")

// AdminRole is the role claim value admin routes require.
const AdminRole = "admin"

const (
	// How long a fetched key set is trusted
	cacheTTL = 5 * time.Minute
	// Minimum gap between refetches triggered by an unknown kid
	refreshInterval = 30 * time.Second
)

// JWKS is the key set document served by the issuer.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is one entry of a key set. Only OKP/Ed25519 keys are used.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Crv string `json:"crv"`
	X   string `json:"x"`
}

// Claims are the token claims admin routes rely on.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Client resolves signing keys by kid and validates tokens.
type Client struct {
	url  string
	hc   *http.Client
	now  func() time.Time
	mu   sync.Mutex
	keys map[string]ed25519.PublicKey

	fetchedAt time.Time
	static    bool
}

// NewClient creates a client that fetches keys from jwksURL. The set is
// cached and refetched early when a token names a kid it does not contain,
// so issuer key rotation is picked up without a restart.
func NewClient(jwksURL string) *Client {
	return &Client{
		url:  jwksURL,
		hc:   &http.Client{Timeout: 10 * time.Second},
		now:  time.Now,
		keys: map[string]ed25519.PublicKey{},
	}
}

// NewStaticClient verifies tokens against a fixed key, for tests and single-key deployments.
func NewStaticClient(kid string, pub ed25519.PublicKey) *Client {
	return &Client{
		now:    time.Now,
		keys:   map[string]ed25519.PublicKey{kid: pub},
		static: true,
	}
}

// fetch downloads the key set and decodes the usable keys.
func (c *Client) fetch(ctx context.Context) (map[string]ed25519.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}

	var set JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]ed25519.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		pub, err := k.publicKey()
		if err != nil {
			slog.Warn("skipping unusable JWK", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func (k JWK) publicKey() (ed25519.PublicKey, error) {
	if k.Kty != "OKP" || k.Crv != "Ed25519" || (k.Alg != "" && k.Alg != "EdDSA") {
		return nil, fmt.Errorf("unsupported key type %s/%s", k.Kty, k.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes", len(x))
	}
	return ed25519.PublicKey(x), nil
}

// publicKey resolves kid, refreshing the cached set when it is stale or
// does not know kid.
func (c *Client) publicKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.static {
		if k, ok := c.keys[kid]; ok {
			return k, nil
		}
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	now := c.now()
	k, known := c.keys[kid]
	stale := c.fetchedAt.IsZero() || now.Sub(c.fetchedAt) > cacheTTL
	if known && !stale {
		return k, nil
	}
	if !stale && now.Sub(c.fetchedAt) < refreshInterval {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		if known {
			// keep serving the last good set while the issuer is unreachable
			slog.Warn("JWKS refresh failed, using cached keys", "error", err)
			return k, nil
		}
		return nil, err
	}
	c.keys, c.fetchedAt = keys, now

	if k, ok := keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

// ValidateJWT verifies signature, issuer, audience and expiry.
func (c *Client) ValidateJWT(ctx context.Context, tokenString, expectedIssuer, expectedAudience string) (*Claims, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing or invalid kid in JWT header")
		}
		return c.publicKey(ctx, kid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(expectedIssuer),
		jwt.WithExpirationRequired(),
	}
	if expectedAudience != "" {
		opts = append(opts, jwt.WithAudience(expectedAudience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to verify JWT: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid JWT")
	}
	return claims, nil
}

// ValidateAdmin validates the token and requires the admin role.
func (c *Client) ValidateAdmin(ctx context.Context, tokenString, expectedIssuer, expectedAudience string) (*Claims, error) {
	claims, err := c.ValidateJWT(ctx, tokenString, expectedIssuer, expectedAudience)
	if err != nil {
		return nil, err
	}
	if claims.Role != AdminRole {
		return claims, ErrForbidden
	}
	return claims, nil
}
