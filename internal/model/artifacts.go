package model

import "time"

// Well-known keys a worker uses in its data map for rows that are persisted
// alongside its run.
const (
	ArtifactCompSales    = "comp_sales"
	ArtifactCompRentals  = "comp_rentals"
	ArtifactUnderwriting = "underwriting"
	ArtifactRiskScore    = "risk_score"
	ArtifactDossier      = "dossier"
)

// CompSale is a comparable sold property.
type CompSale struct {
	ID              int64      `json:"id,omitempty"`
	JobID           string     `json:"job_id,omitempty"`
	PropertyID      string     `json:"research_property_id,omitempty"`
	Address         string     `json:"address"`
	DistanceMiles   float64    `json:"distance_miles"`
	Price           float64    `json:"price"`
	Beds            float64    `json:"beds,omitempty"`
	Baths           float64    `json:"baths,omitempty"`
	Sqft            int        `json:"sqft,omitempty"`
	YearBuilt       int        `json:"year_built,omitempty"`
	SaleDate        *time.Time `json:"sale_date,omitempty"`
	SimilarityScore float64    `json:"similarity_score"`
	SourceURL       string     `json:"source_url,omitempty"`
}

// PricePerSqft returns price / sqft or 0 when sqft is unknown.
func (c CompSale) PricePerSqft() float64 {
	if c.Sqft <= 0 {
		return 0
	}
	return c.Price / float64(c.Sqft)
}

// CompRental is a comparable rental listing.
type CompRental struct {
	ID              int64      `json:"id,omitempty"`
	JobID           string     `json:"job_id,omitempty"`
	PropertyID      string     `json:"research_property_id,omitempty"`
	Address         string     `json:"address"`
	DistanceMiles   float64    `json:"distance_miles"`
	MonthlyRent     float64    `json:"monthly_rent"`
	Beds            float64    `json:"beds,omitempty"`
	Baths           float64    `json:"baths,omitempty"`
	Sqft            int        `json:"sqft,omitempty"`
	YearBuilt       int        `json:"year_built,omitempty"`
	ListDate        *time.Time `json:"list_date,omitempty"`
	SimilarityScore float64    `json:"similarity_score"`
	SourceURL       string     `json:"source_url,omitempty"`
}

// Band is a low/base/high estimate.
type Band struct {
	Low  float64 `json:"low"`
	Base float64 `json:"base"`
	High float64 `json:"high"`
}

// Scale returns the band multiplied by f.
func (b Band) Scale(f float64) Band {
	return Band{Low: b.Low * f, Base: b.Base * f, High: b.High * f}
}

// SensitivityRow shows offer price under a shifted ARV and rehab estimate.
type SensitivityRow struct {
	ARVDeltaPct   float64 `json:"arv_delta_pct"`
	RehabDeltaPct float64 `json:"rehab_delta_pct"`
	MaxOffer      float64 `json:"max_offer"`
	Profit        float64 `json:"profit"`
}

// Underwriting is the deal analysis produced for a job.
type Underwriting struct {
	JobID       string             `json:"job_id,omitempty"`
	PropertyID  string             `json:"research_property_id,omitempty"`
	Strategy    Strategy           `json:"strategy"`
	Assumptions map[string]any     `json:"assumptions"`
	ARV         Band               `json:"arv"`
	Rent        Band               `json:"rent"`
	Rehab       Band               `json:"rehab"`
	Offer       Band               `json:"offer"`
	Fees        map[string]float64 `json:"fees"`
	Sensitivity []SensitivityRow   `json:"sensitivity"`
	CreatedAt   time.Time          `json:"created_at"`
}

// RiskScore summarizes title, data-quality, and compliance risk.
type RiskScore struct {
	JobID           string    `json:"job_id,omitempty"`
	PropertyID      string    `json:"research_property_id,omitempty"`
	TitleRisk       float64   `json:"title_risk"`
	DataConfidence  float64   `json:"data_confidence"`
	ComplianceFlags []string  `json:"compliance_flags"`
	Notes           []string  `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
}

// Citation references a persisted evidence row.
type Citation struct {
	Hash       string  `json:"hash"`
	Claim      string  `json:"claim"`
	SourceURL  string  `json:"source_url,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Dossier is the narrative report for a job.
type Dossier struct {
	JobID      string     `json:"job_id,omitempty"`
	PropertyID string     `json:"research_property_id,omitempty"`
	Markdown   string     `json:"markdown"`
	Citations  []Citation `json:"citations"`
	Narrator   string     `json:"narrator"`
	CreatedAt  time.Time  `json:"created_at"`
}
