// Package geocode resolves street addresses to coordinates via the US Census
// Geocoder.
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/property-research/internal/resilience"
)

// Client geocodes single-line addresses.
type Client interface {
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude       float64
	Longitude      float64
	MatchedAddress string
	City           string
	State          string
	Zip            string
	TigerLineID    string
	Side           string
	Source         string // "census"
	Quality        string // "rooftop", "range"
	Matched        bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithBaseURL overrides the Census one-line endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithBenchmark sets the Census benchmark name.
func WithBenchmark(b string) Option {
	return func(g *geocoder) {
		if b != "" {
			g.benchmark = b
		}
	}
}

// WithRateLimit sets the requests-per-second rate limit for Census API calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(g *geocoder) {
		g.policy = p
	}
}

type geocoder struct {
	httpClient *http.Client
	baseURL    string
	benchmark  string
	limiter    *rate.Limiter
	policy     resilience.Policy
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    censusOneLineURL,
		benchmark:  censusBenchmark,
		limiter:    rate.NewLimiter(10, 10),
		policy:     resilience.DefaultPolicy("census"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}
