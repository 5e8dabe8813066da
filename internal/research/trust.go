package research

import (
	"net/url"
	"strings"
)

// Default confidence conventions by source category.
const (
	ConfidenceGovernment = 0.95
	ConfidenceInternal   = 0.95
	ConfidencePaidHigh   = 0.90
	ConfidencePaidLow    = 0.70
	ConfidenceUnknown    = 0.50
	ConfidenceNoSource   = 0.25
)

// DomainTrust scores a source URL by its domain.
type DomainTrust struct {
	// Overrides maps a domain (matched with its subdomains) to a score.
	Overrides map[string]float64
}

var trustedDomains = map[string]float64{
	"zillow.com":        0.75,
	"redfin.com":        0.75,
	"realtor.com":       0.75,
	"trulia.com":        0.70,
	"homes.com":         0.70,
	"loopnet.com":       0.70,
	"attomdata.com":     0.85,
	"corelogic.com":     0.85,
	"freddiemac.com":    0.85,
	"fanniemae.com":     0.85,
	"reuters.com":       0.70,
	"wsj.com":           0.70,
	"bloomberg.com":     0.70,
	"nytimes.com":       0.65,
	"wikipedia.org":     0.55,
	"reddit.com":        0.35,
	"facebook.com":      0.30,
	"nextdoor.com":      0.30,
	"craigslist.org":    0.30,
	"biggerpockets.com": 0.45,
}

// Score returns the trust score for rawURL.
func (t DomainTrust) Score(rawURL string) float64 {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ConfidenceNoSource
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ConfidenceUnknown
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	if v, ok := matchDomain(host, t.Overrides); ok {
		return v
	}
	if v, ok := matchDomain(host, trustedDomains); ok {
		return v
	}

	switch {
	case strings.HasSuffix(host, ".gov"), strings.HasSuffix(host, ".mil"),
		strings.HasSuffix(host, ".us") && strings.Contains(host, ".state."):
		return ConfidenceGovernment
	case strings.Contains(host, ".gov."):
		return 0.90
	case strings.HasSuffix(host, ".edu"):
		return 0.85
	}
	return ConfidenceUnknown
}

func matchDomain(host string, m map[string]float64) (float64, bool) {
	for h := host; h != ""; {
		if v, ok := m[h]; ok {
			return v, true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	return 0, false
}
