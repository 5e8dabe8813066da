package synth

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/property-research/internal/model"
)

// Fact is a labeled finding included in a dossier brief.
type Fact struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Brief is the structured summary handed to a Narrator.
type Brief struct {
	Address      string              `json:"address"`
	Strategy     model.Strategy      `json:"strategy"`
	Facts        []Fact              `json:"facts"`
	Underwriting *model.Underwriting `json:"underwriting,omitempty"`
	Risk         *model.RiskScore    `json:"risk,omitempty"`
	Citations    []model.Citation    `json:"citations"`
	Unknowns     []string            `json:"unknowns"`
}

// Citations selects up to limit evidence rows, most confident first, as
// dossier citations. Ties break on hash so the order is stable.
func Citations(evidence []model.Evidence, limit int) []model.Citation {
	sorted := slices.Clone(evidence)
	slices.SortFunc(sorted, func(a, b model.Evidence) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return strings.Compare(a.Hash, b.Hash)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]model.Citation, len(sorted))
	for i, e := range sorted {
		out[i] = model.Citation{Hash: e.Hash, Claim: e.Claim, SourceURL: e.SourceURL, Confidence: e.Confidence}
	}
	return out
}

var printer = message.NewPrinter(language.English)

func usd(v float64) string {
	return printer.Sprintf("$%.0f", v)
}

func bandRow(label string, b model.Band) string {
	return fmt.Sprintf("| %s | %s | %s | %s |\n", label, usd(b.Low), usd(b.Base), usd(b.High))
}

// Compose renders the full dossier markdown around a narrative.
func Compose(b Brief, narrative string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Research Dossier: %s\n\n", b.Address)
	fmt.Fprintf(&sb, "Strategy: **%s**\n\n", b.Strategy)

	sb.WriteString("## Summary\n\n")
	sb.WriteString(strings.TrimSpace(narrative))
	sb.WriteString("\n\n")

	if len(b.Facts) > 0 {
		sb.WriteString("## Key Facts\n\n")
		for _, f := range b.Facts {
			fmt.Fprintf(&sb, "- **%s:** %s\n", f.Label, f.Value)
		}
		sb.WriteString("\n")
	}

	if uw := b.Underwriting; uw != nil {
		sb.WriteString("## Underwriting\n\n")
		sb.WriteString("| | Low | Base | High |\n|---|---|---|---|\n")
		sb.WriteString(bandRow("ARV", uw.ARV))
		sb.WriteString(bandRow("Monthly rent", uw.Rent))
		sb.WriteString(bandRow("Rehab", uw.Rehab))
		sb.WriteString(bandRow("Max offer", uw.Offer))
		sb.WriteString("\n")
	}

	if r := b.Risk; r != nil {
		sb.WriteString("## Risk\n\n")
		fmt.Fprintf(&sb, "- Title risk: %.2f\n", r.TitleRisk)
		fmt.Fprintf(&sb, "- Data confidence: %.2f\n", r.DataConfidence)
		if len(r.ComplianceFlags) > 0 {
			fmt.Fprintf(&sb, "- Compliance flags: %s\n", strings.Join(r.ComplianceFlags, ", "))
		}
		for _, n := range r.Notes {
			fmt.Fprintf(&sb, "- %s\n", n)
		}
		sb.WriteString("\n")
	}

	if len(b.Unknowns) > 0 {
		sb.WriteString("## Open Questions\n\n")
		for _, u := range b.Unknowns {
			fmt.Fprintf(&sb, "- %s\n", u)
		}
		sb.WriteString("\n")
	}

	if len(b.Citations) > 0 {
		sb.WriteString("## Sources\n\n")
		for i, c := range b.Citations {
			src := c.SourceURL
			if src == "" {
				src = "internal"
			}
			fmt.Fprintf(&sb, "%d. %s (%s, confidence %.2f) `%s`\n", i+1, c.Claim, src, c.Confidence, shortHash(c.Hash))
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
