package model

import "time"

// PortalCacheEntry is a cached fetch of an external portal page.
type PortalCacheEntry struct {
	URLHash     string    `json:"url_hash"`
	SourceURL   string    `json:"source_url"`
	RawHTML     string    `json:"raw_html"`
	ContentType string    `json:"content_type,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry is no longer valid at now.
func (e *PortalCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
