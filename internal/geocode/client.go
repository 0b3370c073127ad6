// internal/geocode/client.go
// Package geocode resolves report coordinates to a street address using a
// Nominatim-compatible reverse geocoding service.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/roadcase/roadcase-go/internal/metrics"
)

var (
	// ErrUpstream is returned when the geocoder cannot be reached or fails.
	ErrUpstream = errors.New("geocoder failure")
	// ErrNoAddress is returned when the geocoder has no address for the point.
	ErrNoAddress = errors.New("no address for location")
)

// Reverser is what the reporting flow needs from a geocoder.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Client for a Nominatim-style /reverse endpoint.
type Client struct {
	base      string       // Base URL of the geocoding service
	userAgent string       // Nominatim requires an identifying agent
	language  string       // Accept-Language for address formatting
	hc        *http.Client // HTTP client with custom configuration
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// New creates a geocoding client with short dial and request timeouts.
func New(baseURL, userAgent string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}
	return &Client{
		base:      baseURL,
		userAgent: userAgent,
		language:  "zh-TW",
		hc:        &http.Client{Transport: transport, Timeout: 5 * time.Second},
	}
}

// Reverse returns the display address for lat/lon.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("geocoder url: %w", err)
	}
	u = u.JoinPath("reverse")
	q := u.Query()
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("addressdetails", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", c.language)

	m := metrics.NewMetrics()
	start := time.Now()
	resp, err := c.hc.Do(req)
	m.UpstreamRequestDuration.WithLabelValues("geocoder").Observe(time.Since(start).Seconds())
	if err != nil {
		m.UpstreamRequestTotal.WithLabelValues("geocoder", "error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.UpstreamRequestTotal.WithLabelValues("geocoder", "error").Inc()
		return "", fmt.Errorf("%w: reverse geocode failed: %s", ErrUpstream, resp.Status)
	}
	m.UpstreamRequestTotal.WithLabelValues("geocoder", "ok").Inc()

	var rr reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	if rr.DisplayName == "" {
		return "", ErrNoAddress
	}
	return rr.DisplayName, nil
}
