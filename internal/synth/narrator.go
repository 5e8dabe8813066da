package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/cost"
	"github.com/sells-group/property-research/pkg/anthropic"
)

// Narration is narrative text produced for a brief.
type Narration struct {
	Text     string
	Narrator string
	CostUSD  float64
}

// Narrator writes the summary section of a dossier.
type Narrator interface {
	Narrate(ctx context.Context, b Brief) (Narration, error)
}

// TemplateNarrator writes a deterministic summary from the brief alone.
type TemplateNarrator struct{}

// Narrate implements Narrator.
func (TemplateNarrator) Narrate(_ context.Context, b Brief) (Narration, error) {
	var parts []string
	parts = append(parts, fmt.Sprintf("This dossier summarizes automated research on %s for a %s strategy.", b.Address, b.Strategy))

	if uw := b.Underwriting; uw != nil && uw.ARV.Base > 0 {
		parts = append(parts, fmt.Sprintf("Comparable sales support an after-repair value near %s (range %s to %s), with rehab estimated at %s and a maximum offer of %s.",
			usd(uw.ARV.Base), usd(uw.ARV.Low), usd(uw.ARV.High), usd(uw.Rehab.Base), usd(uw.Offer.Base)))
	} else if b.Underwriting != nil {
		parts = append(parts, "Comparable sales were not available, so valuation figures are incomplete.")
	}
	if uw := b.Underwriting; uw != nil && uw.Rent.Base > 0 {
		parts = append(parts, fmt.Sprintf("Market rent is estimated at %s per month.", usd(uw.Rent.Base)))
	}

	if r := b.Risk; r != nil {
		if len(r.ComplianceFlags) > 0 {
			parts = append(parts, fmt.Sprintf("Flags requiring review: %s.", strings.Join(r.ComplianceFlags, ", ")))
		} else {
			parts = append(parts, "No compliance flags were raised.")
		}
		parts = append(parts, fmt.Sprintf("Overall data confidence is %.0f%%.", r.DataConfidence*100))
	}

	if n := len(b.Unknowns); n > 0 {
		parts = append(parts, fmt.Sprintf("%d item(s) remain unresolved and are listed under Open Questions.", n))
	}
	return Narration{Text: strings.Join(parts, " "), Narrator: "template"}, nil
}

const narratorSystem = `You are a real-estate acquisitions analyst. Write a concise executive summary (two to four short paragraphs) of the property research brief you are given.
Use only facts present in the brief. Refer to sources by their bracketed citation number, e.g. [2]. Do not invent numbers. Plain prose, no headings.`

// AnthropicNarrator asks Claude to write the summary.
type AnthropicNarrator struct {
	Client    anthropic.Client
	Model     string
	MaxTokens int64
	Costs     *cost.Calculator
}

// Narrate implements Narrator.
func (n *AnthropicNarrator) Narrate(ctx context.Context, b Brief) (Narration, error) {
	payload, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return Narration{}, eris.Wrap(err, "synth: encode brief")
	}

	var cites strings.Builder
	for i, c := range b.Citations {
		fmt.Fprintf(&cites, "[%d] %s\n", i+1, c.Claim)
	}

	resp, err := n.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     n.Model,
		MaxTokens: n.MaxTokens,
		System:    anthropic.CachedSystem(narratorSystem),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Research brief:\n%s\n\nCitations:\n%s", payload, cites.String()),
		}},
	})
	if err != nil {
		return Narration{}, eris.Wrap(err, "synth: narrate")
	}

	text := resp.Text()
	if text == "" {
		return Narration{}, eris.New("synth: narrator returned no text")
	}

	u := resp.Usage
	spent := n.Costs.Claude(n.Model, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
	u.LogUsage(n.Model, "dossier", spent)

	return Narration{Text: text, Narrator: "anthropic:" + n.Model, CostUSD: spent}, nil
}

// FallbackNarrator uses Primary and falls back to Fallback when Primary is
// nil or fails.
type FallbackNarrator struct {
	Primary  Narrator
	Fallback Narrator
}

// Narrate implements Narrator.
func (f FallbackNarrator) Narrate(ctx context.Context, b Brief) (Narration, error) {
	if f.Primary != nil {
		out, err := f.Primary.Narrate(ctx, b)
		if err == nil {
			return out, nil
		}
		zap.L().Warn("synth: narrator failed, using fallback", zap.Error(err))
	}
	if f.Fallback == nil {
		return TemplateNarrator{}.Narrate(ctx, b)
	}
	return f.Fallback.Narrate(ctx, b)
}
