package model

import "time"

// ResearchProperty is a canonical property record keyed by its normalized address.
type ResearchProperty struct {
	ID                string         `json:"id"`
	StableKey         string         `json:"stable_key"`
	RawAddress        string         `json:"raw_address"`
	NormalizedAddress string         `json:"normalized_address"`
	City              string         `json:"city,omitempty"`
	State             string         `json:"state,omitempty"`
	Zip               string         `json:"zip,omitempty"`
	APN               string         `json:"apn,omitempty"`
	Lat               float64        `json:"lat,omitempty"`
	Lng               float64        `json:"lng,omitempty"`
	LatestProfile     map[string]any `json:"latest_profile,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// HasLocation reports whether the property has been geocoded.
func (p *ResearchProperty) HasLocation() bool {
	return p != nil && (p.Lat != 0 || p.Lng != 0)
}
