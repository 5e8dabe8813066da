package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/pkg/perplexity"
)

type searchHit struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// webSearch looks the address up on the open web. Findings carry no
// confidence override so each is scored by its domain.
func (w *workers) webSearch(ctx context.Context, job *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()
	loc, ok := locate(in)
	if !ok || loc.Address == "" {
		res.Unknown("web_results", "address unavailable")
		return res
	}
	if w.d.Search == nil {
		res.Unknown("web_results", "search provider not configured")
		return res
	}

	query := fmt.Sprintf("%q property listing sale history", loc.Address)
	res.WebCalls++
	resp, err := w.d.Search.Search(ctx, query)
	if err != nil {
		res.Fail(fmt.Sprintf("web search: %v", err))
		return res
	}
	res.CostUSD = w.d.Costs.Jina(resp.Tokens())

	hits := make([]searchHit, 0, len(resp.Data))
	for _, r := range resp.Data {
		if len(hits) >= w.d.MaxSearchHits {
			break
		}
		if r.URL == "" || r.Title == "" {
			continue
		}
		hits = append(hits, searchHit{Title: r.Title, URL: r.URL})

		claim := r.Title
		if desc := truncate(r.Description, 240); desc != "" {
			claim += ": " + desc
		}
		res.Evidence = append(res.Evidence, research.EvidenceDraft{
			Category:   "web",
			Claim:      claim,
			SourceURL:  r.URL,
			RawExcerpt: truncate(r.Content, 500),
		})
	}

	res.Data["results"] = hits
	res.Data["result_count"] = len(hits)
	if len(hits) == 0 {
		res.Unknown("web_results", "no search results for address")
	}

	zap.L().Debug("workers: web search",
		zap.String("job_id", job.ID),
		zap.Int("hits", len(hits)),
		zap.Int("tokens", resp.Tokens()),
	)
	return res
}

// marketSummary is the structured answer requested from the market
// research provider.
type marketSummary struct {
	MedianSalePrice float64 `json:"median_sale_price"`
	MedianRent      float64 `json:"median_rent"`
	DaysOnMarket    float64 `json:"days_on_market"`
	PriceChangeYoY  float64 `json:"price_change_yoy_pct"`
	InventoryMonths float64 `json:"months_of_inventory"`
	Summary         string  `json:"summary"`
}

const marketPrompt = `You are a residential real estate market analyst. Using current public sources, describe the housing market around %s.
Respond with a single JSON object and nothing else, using these keys:
{"median_sale_price": number, "median_rent": number, "days_on_market": number, "price_change_yoy_pct": number, "months_of_inventory": number, "summary": "two or three sentences"}
Use 0 for any figure you cannot find.`

func (w *workers) marketResearch(ctx context.Context, _ *model.AgenticJob, in *research.Snapshot) research.Result {
	res := research.EmptyResult()
	loc, ok := locate(in)
	if !ok {
		res.Unknown("market", "location unavailable")
		return res
	}
	if w.d.Perplexity == nil {
		res.Unknown("market", "market research provider not configured")
		return res
	}

	area := loc.City + ", " + loc.State
	if loc.Zip != "" {
		area += " " + loc.Zip
	}

	res.WebCalls++
	resp, err := w.d.Perplexity.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{{Role: "user", Content: fmt.Sprintf(marketPrompt, area)}},
	})
	if err != nil {
		res.Fail(fmt.Sprintf("market research: %v", err))
		return res
	}
	res.CostUSD = w.d.Costs.PerplexityQuery()

	m, err := parseMarketSummary(resp.Content())
	if err != nil {
		res.Fail(err.Error())
		return res
	}

	res.Data["area"] = area
	res.Data["summary"] = m.Summary
	res.Data["citations"] = resp.Citations
	figures := []struct {
		key string
		v   float64
	}{
		{"median_sale_price", m.MedianSalePrice},
		{"median_rent", m.MedianRent},
		{"days_on_market", m.DaysOnMarket},
		{"price_change_yoy_pct", m.PriceChangeYoY},
		{"months_of_inventory", m.InventoryMonths},
	}
	for _, f := range figures {
		if f.v == 0 {
			res.Unknown(f.key, "not reported for "+area)
			continue
		}
		res.Data[f.key] = f.v
	}

	var claims []string
	if m.MedianSalePrice > 0 {
		claims = append(claims, fmt.Sprintf("Median sale price in %s is about %s", area, usd(m.MedianSalePrice)))
	}
	if m.MedianRent > 0 {
		claims = append(claims, fmt.Sprintf("Median rent in %s is about %s per month", area, usd(m.MedianRent)))
	}
	if m.Summary != "" {
		claims = append(claims, m.Summary)
	}

	source := ""
	if len(resp.Citations) > 0 {
		source = resp.Citations[0]
	}
	for _, c := range claims {
		res.Evidence = append(res.Evidence, research.EvidenceDraft{
			Category:   "market",
			Claim:      c,
			SourceURL:  source,
			RawExcerpt: strings.Join(resp.Citations, "\n"),
			Confidence: research.Confidence(research.ConfidencePaidLow),
		})
	}
	return res
}

// parseMarketSummary extracts the JSON object from a model reply, which may
// be wrapped in a code fence or surrounded by prose.
func parseMarketSummary(content string) (marketSummary, error) {
	var m marketSummary
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return m, eris.New("market research: reply contains no JSON object")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &m); err != nil {
		return m, eris.Wrap(err, "market research: decode reply")
	}
	return m, nil
}
