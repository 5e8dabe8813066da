package synth

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sells-group/property-research/internal/model"
)

// Compliance flags raised by Score.
const (
	FlagFloodSFHA      = "flood_zone_sfha"
	FlagOpenPermits    = "open_permits"
	FlagTaxDelinquent  = "tax_delinquent"
	FlagCodeViolations = "code_violations"
	FlagOwnerUnknown   = "owner_unknown"
)

// RiskSignals are the research findings that feed the risk score.
type RiskSignals struct {
	FloodZone      string
	OwnerOfRecord  string
	Liens          int
	TaxDelinquent  bool
	OpenPermits    int
	CodeViolations int

	// Confidences of the job's evidence rows.
	Confidences []float64
	// Workers counts enabled upstream workers; Succeeded those that
	// finished without errors.
	Workers   int
	Succeeded int
	Unknowns  int
}

// InSFHA reports whether a FEMA flood zone designation is a Special Flood
// Hazard Area (zones beginning with A or V).
func InSFHA(zone string) bool {
	z := strings.ToUpper(strings.TrimSpace(zone))
	return strings.HasPrefix(z, "A") || strings.HasPrefix(z, "V")
}

// Score computes title risk, data confidence and compliance flags.
func Score(s RiskSignals, now time.Time) model.RiskScore {
	var flags, notes []string

	title := 0.10
	if s.OwnerOfRecord == "" {
		title += 0.15
		flags = append(flags, FlagOwnerUnknown)
		notes = append(notes, "owner of record not confirmed")
	}
	if s.Liens > 0 {
		title += 0.25 + 0.10*float64(min(s.Liens-1, 3))
		notes = append(notes, fmt.Sprintf("%d recorded lien(s)", s.Liens))
	}
	if s.TaxDelinquent {
		title += 0.20
		flags = append(flags, FlagTaxDelinquent)
		notes = append(notes, "property taxes delinquent")
	}

	if InSFHA(s.FloodZone) {
		flags = append(flags, FlagFloodSFHA)
		notes = append(notes, fmt.Sprintf("FEMA flood zone %s requires flood insurance", strings.ToUpper(s.FloodZone)))
	}
	if s.OpenPermits > 0 {
		flags = append(flags, FlagOpenPermits)
		notes = append(notes, fmt.Sprintf("%d open permit(s)", s.OpenPermits))
	}
	if s.CodeViolations > 0 {
		flags = append(flags, FlagCodeViolations)
		notes = append(notes, fmt.Sprintf("%d code violation(s)", s.CodeViolations))
	}

	if flags == nil {
		flags = []string{}
	}
	if notes == nil {
		notes = []string{}
	}

	return model.RiskScore{
		TitleRisk:       round2(clamp01(title)),
		DataConfidence:  round2(dataConfidence(s)),
		ComplianceFlags: flags,
		Notes:           notes,
		CreatedAt:       now.UTC(),
	}
}

// dataConfidence blends mean evidence confidence with the share of workers
// that succeeded, less a small penalty per unknown.
func dataConfidence(s RiskSignals) float64 {
	evidence := 0.25
	if len(s.Confidences) > 0 {
		var sum float64
		for _, c := range s.Confidences {
			sum += c
		}
		evidence = sum / float64(len(s.Confidences))
	}
	coverage := 0.0
	if s.Workers > 0 {
		coverage = float64(s.Succeeded) / float64(s.Workers)
	}
	return clamp01(0.6*evidence + 0.4*coverage - 0.02*float64(s.Unknowns))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
