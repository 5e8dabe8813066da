package model

import "time"

// Evidence is a single deduplicated, confidence-scored claim.
type Evidence struct {
	ID                 int64     `json:"id,omitempty"`
	ResearchPropertyID string    `json:"research_property_id"`
	JobID              string    `json:"job_id"`
	WorkerName         string    `json:"worker_name"`
	Category           string    `json:"category"`
	Claim              string    `json:"claim"`
	SourceURL          string    `json:"source_url,omitempty"`
	CapturedAt         time.Time `json:"captured_at"`
	RawExcerpt         string    `json:"raw_excerpt,omitempty"`
	Confidence         float64   `json:"confidence"`
	Hash               string    `json:"hash"`
}
