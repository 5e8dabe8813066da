// Package cost prices external API usage so workers can report CostUSD.
package cost

import "github.com/sells-group/property-research/internal/config"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate
	Jina       JinaRate
	Perplexity PerplexityRate
	PropData   PropDataRate
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// JinaRate holds Jina pricing.
type JinaRate struct {
	PerMTok float64
}

// PerplexityRate holds Perplexity pricing.
type PerplexityRate struct {
	PerQuery float64
}

// PropDataRate holds comps provider pricing.
type PropDataRate struct {
	PerCall float64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	if c == nil {
		return 0
	}
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Jina computes the cost for Jina token usage.
func (c *Calculator) Jina(tokens int) float64 {
	if c == nil {
		return 0
	}
	return (float64(tokens) / 1e6) * c.rates.Jina.PerMTok
}

// PerplexityQuery returns the flat cost per Perplexity query.
func (c *Calculator) PerplexityQuery() float64 {
	if c == nil {
		return 0
	}
	return c.rates.Perplexity.PerQuery
}

// PropDataCall returns the flat cost per comps provider request.
func (c *Calculator) PropDataCall() float64 {
	if c == nil {
		return 0
	}
	return c.rates.PropData.PerCall
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Jina:       JinaRate{PerMTok: 0.02},
		Perplexity: PerplexityRate{PerQuery: 0.005},
		PropData:   PropDataRate{PerCall: 0.05},
	}
}

// RatesFromConfig overlays configured pricing on DefaultRates.
func RatesFromConfig(p config.PricingConfig) Rates {
	r := DefaultRates()
	for model, mp := range p.Anthropic {
		rate := r.Anthropic[model]
		rate.Input, rate.Output = mp.Input, mp.Output
		if rate.CacheWriteMul == 0 {
			rate.CacheWriteMul, rate.CacheReadMul = 1.25, 0.1
		}
		r.Anthropic[model] = rate
	}
	if p.Jina.PerMTok > 0 {
		r.Jina.PerMTok = p.Jina.PerMTok
	}
	if p.Perplexity.PerQuery > 0 {
		r.Perplexity.PerQuery = p.Perplexity.PerQuery
	}
	if p.PropData.PerCall > 0 {
		r.PropData.PerCall = p.PropData.PerCall
	}
	return r
}
