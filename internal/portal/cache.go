// Package portal fetches government portal pages through a shared, TTL-bound
// cache keyed by URL hash.
package portal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/model"
)

// DefaultTTL applies when the cache is created with a non-positive TTL.
const DefaultTTL = 24 * time.Hour

// Store is the persistence the cache needs.
type Store interface {
	GetPortalPage(ctx context.Context, urlHash string, now time.Time) (*model.PortalCacheEntry, error)
	PutPortalPage(ctx context.Context, e *model.PortalCacheEntry) error
}

// Fetcher retrieves a URL from the network.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Response, error)
}

// Response is a fetched document with its body decoded to UTF-8.
type Response struct {
	Body        string
	ContentType string
}

// Page is a cached or freshly fetched document.
type Page struct {
	URL         string
	Body        string
	ContentType string
	CapturedAt  time.Time
	// Cached is true when the page came from the cache without a network call.
	Cached bool
}

// JSON decodes the page body into v.
func (p *Page) JSON(v any) error {
	return eris.Wrapf(json.Unmarshal([]byte(p.Body), v), "portal: decode %s", p.URL)
}

// URLHash returns the cache key for a URL.
func URLHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// Cache serves portal pages from the store while fresh and refetches them
// after expiry. Concurrent misses on the same URL both fetch; the last
// writer wins.
type Cache struct {
	store   Store
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a portal cache.
func NewCache(store Store, fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, fetcher: fetcher, ttl: ttl, now: time.Now}
}

// Get returns the page for rawURL, fetching and storing it on a miss.
func (c *Cache) Get(ctx context.Context, rawURL string) (*Page, error) {
	hash := URLHash(rawURL)
	now := c.now()

	entry, err := c.store.GetPortalPage(ctx, hash, now)
	if err != nil {
		return nil, eris.Wrap(err, "portal: cache lookup")
	}
	if entry != nil {
		return &Page{
			URL:         entry.SourceURL,
			Body:        entry.RawHTML,
			ContentType: entry.ContentType,
			CapturedAt:  entry.CapturedAt,
			Cached:      true,
		}, nil
	}

	resp, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "portal: fetch %s", rawURL)
	}

	entry = &model.PortalCacheEntry{
		URLHash:     hash,
		SourceURL:   rawURL,
		RawHTML:     resp.Body,
		ContentType: resp.ContentType,
		CapturedAt:  now,
		ExpiresAt:   now.Add(c.ttl),
	}
	if err := c.store.PutPortalPage(ctx, entry); err != nil {
		// The page is still usable for this job.
		zap.L().Warn("portal: cache store failed", zap.String("url", rawURL), zap.Error(err))
	}

	return &Page{
		URL:         rawURL,
		Body:        resp.Body,
		ContentType: resp.ContentType,
		CapturedAt:  now,
	}, nil
}
