// Package propdata provides a client for the comparable-sales and
// comparable-rentals data provider.
package propdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-research/internal/resilience"
)

// Client fetches comparable properties near a point.
type Client interface {
	SaleComps(ctx context.Context, q Query) (*Response, error)
	RentalComps(ctx context.Context, q Query) (*Response, error)
}

// Query selects comps around a subject property.
type Query struct {
	Lat         float64
	Lng         float64
	RadiusMiles float64
	Limit       int
	Beds        float64
	Sqft        int
}

func (q Query) values() url.Values {
	v := url.Values{
		"lat": {strconv.FormatFloat(q.Lat, 'f', 6, 64)},
		"lng": {strconv.FormatFloat(q.Lng, 'f', 6, 64)},
	}
	if q.RadiusMiles > 0 {
		v.Set("radius_miles", strconv.FormatFloat(q.RadiusMiles, 'f', -1, 64))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Beds > 0 {
		v.Set("beds", strconv.FormatFloat(q.Beds, 'f', -1, 64))
	}
	if q.Sqft > 0 {
		v.Set("sqft", strconv.Itoa(q.Sqft))
	}
	return v
}

// Comp is a single comparable property. Sale comps carry Price and
// SaleDate; rental comps carry MonthlyRent and ListDate.
type Comp struct {
	Address     string  `json:"address"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Price       float64 `json:"price,omitempty"`
	MonthlyRent float64 `json:"monthly_rent,omitempty"`
	Beds        float64 `json:"beds"`
	Baths       float64 `json:"baths"`
	Sqft        int     `json:"sqft"`
	YearBuilt   int     `json:"year_built"`
	SaleDate    string  `json:"sale_date,omitempty"`
	ListDate    string  `json:"list_date,omitempty"`
	URL         string  `json:"url"`
}

// Date parses SaleDate or ListDate, whichever is set.
func (c Comp) Date() *time.Time {
	s := c.SaleDate
	if s == "" {
		s = c.ListDate
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Subject is the provider's record of the queried property, when known.
type Subject struct {
	Beds      float64 `json:"beds"`
	Baths     float64 `json:"baths"`
	Sqft      int     `json:"sqft"`
	YearBuilt int     `json:"year_built"`
}

// Response is the provider's comps payload.
type Response struct {
	Subject *Subject `json:"subject,omitempty"`
	Comps   []Comp   `json:"comps"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the provider base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	policy  resilience.Policy
	breaker *resilience.Breaker
}

// NewClient creates a comps provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.propdata.io",
		http:    &http.Client{Timeout: 20 * time.Second},
		policy:  resilience.DefaultPolicy("propdata"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SaleComps(ctx context.Context, q Query) (*Response, error) {
	return c.get(ctx, "/v1/comps/sales", q)
}

func (c *httpClient) RentalComps(ctx context.Context, q Query) (*Response, error) {
	return c.get(ctx, "/v1/comps/rentals", q)
}

func (c *httpClient) get(ctx context.Context, path string, q Query) (*Response, error) {
	reqURL := c.baseURL + path + "?" + q.values().Encode()

	return resilience.Call(ctx, c.breaker, func(ctx context.Context) (*Response, error) {
		return resilience.RetryValue(ctx, c.policy, func(ctx context.Context) (*Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return nil, eris.Wrap(err, "propdata: create request")
			}
			req.Header.Set("X-Api-Key", c.apiKey)
			req.Header.Set("Accept", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				return nil, eris.Wrapf(err, "propdata: GET %s", path)
			}
			if err := resilience.CheckResponse("propdata", resp); err != nil {
				return nil, err
			}
			defer resp.Body.Close() //nolint:errcheck

			var out Response
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return nil, eris.Wrapf(err, "propdata: decode %s", path)
			}
			return &out, nil
		})
	})
}
