package workers

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-research/internal/cost"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/pkg/jina"
)

func TestWebSearch(t *testing.T) {
	search := &fakeSearch{resp: &jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "742 Evergreen Ter, Springfield, IL 62704 | Zillow", URL: "https://www.zillow.com/homedetails/742", Description: "3 bed, 2 bath single family home", Content: "Sold 2019", Usage: jina.Usage{Tokens: 4000}},
		{Title: "", URL: "https://example.com/empty"},
		{Title: "Evergreen Terrace neighborhood thread", URL: "https://www.reddit.com/r/springfield/1", Usage: jina.Usage{Tokens: 1000}},
	}}}
	costs := cost.NewCalculator(cost.DefaultRates())
	w := newWorkers(Deps{Search: search, Costs: costs})

	res := w.webSearch(context.Background(), testJob("p"), geoSnap())
	require.False(t, res.Failed(), res.Errors)

	require.Len(t, search.queries, 1)
	assert.Contains(t, search.queries[0], `"742 Evergreen Ter, Springfield, IL 62704"`)
	assert.Equal(t, 1, res.WebCalls)
	assert.InDelta(t, costs.Jina(5000), res.CostUSD, 1e-12)
	assert.Equal(t, 2, res.Data["result_count"])

	require.Len(t, res.Evidence, 2)
	assert.Equal(t, "742 Evergreen Ter, Springfield, IL 62704 | Zillow: 3 bed, 2 bath single family home", res.Evidence[0].Claim)
	assert.Nil(t, res.Evidence[0].Confidence, "web findings are scored by domain")
	assert.Equal(t, "Sold 2019", res.Evidence[0].RawExcerpt)
}

func TestWebSearch_MaxHits(t *testing.T) {
	var data []jina.SearchResult
	for i := 0; i < 5; i++ {
		data = append(data, jina.SearchResult{Title: "hit", URL: "https://example.com/" + string(rune('a'+i))})
	}
	w := newWorkers(Deps{Search: &fakeSearch{resp: &jina.SearchResponse{Data: data}}, MaxSearchHits: 3})

	res := w.webSearch(context.Background(), testJob("p"), geoSnap())
	assert.Equal(t, 3, res.Data["result_count"])
	assert.Len(t, res.Evidence, 3)
}

func TestWebSearch_Failures(t *testing.T) {
	w := newWorkers(Deps{})
	res := w.webSearch(context.Background(), testJob("p"), geoSnap())
	assert.False(t, res.Failed())
	assert.Equal(t, []string{"web_results"}, unknownFields(res))

	w = newWorkers(Deps{Search: &fakeSearch{err: eris.New("jina: status 500: boom")}})
	res = w.webSearch(context.Background(), testJob("p"), geoSnap())
	require.True(t, res.Failed())
	assert.Contains(t, res.Errors[0], "web search")
	assert.Equal(t, 1, res.WebCalls)

	w = newWorkers(Deps{Search: &fakeSearch{resp: &jina.SearchResponse{}}})
	res = w.webSearch(context.Background(), testJob("p"), geoSnap())
	assert.False(t, res.Failed())
	assert.Equal(t, []string{"web_results"}, unknownFields(res))
}

func TestMarketResearch(t *testing.T) {
	reply := "Here is the summary:\n```json\n" +
		`{"median_sale_price": 165000, "median_rent": 1250, "days_on_market": 34, "price_change_yoy_pct": 0, "months_of_inventory": 2.1, "summary": "Springfield prices are flat with tight inventory."}` +
		"\n```"
	px := &fakePerplexity{resp: chatReply(reply, "https://www.redfin.com/city/17982/IL/Springfield/housing-market", "https://www.zillow.com/home-values/")}
	costs := cost.NewCalculator(cost.DefaultRates())
	w := newWorkers(Deps{Perplexity: px, Costs: costs})

	res := w.marketResearch(context.Background(), testJob("p"), geoSnap())
	require.False(t, res.Failed(), res.Errors)

	require.Len(t, px.reqs, 1)
	assert.Contains(t, px.reqs[0].Messages[0].Content, "Springfield, IL 62704")
	assert.Equal(t, costs.PerplexityQuery(), res.CostUSD)

	assert.Equal(t, 165000.0, res.Data["median_sale_price"])
	assert.Equal(t, 2.1, res.Data["months_of_inventory"])
	assert.Equal(t, []string{"price_change_yoy_pct"}, unknownFields(res))

	require.Len(t, res.Evidence, 3)
	assert.Equal(t, "Median sale price in Springfield, IL 62704 is about $165,000", res.Evidence[0].Claim)
	assert.Equal(t, "https://www.redfin.com/city/17982/IL/Springfield/housing-market", res.Evidence[0].SourceURL)
	assert.Equal(t, research.ConfidencePaidLow, *res.Evidence[0].Confidence)
}

func TestMarketResearch_BadReply(t *testing.T) {
	w := newWorkers(Deps{Perplexity: &fakePerplexity{resp: chatReply("I could not find data.")}})
	res := w.marketResearch(context.Background(), testJob("p"), geoSnap())
	require.True(t, res.Failed())
	assert.Contains(t, res.Errors[0], "no JSON object")

	res = newWorkers(Deps{}).marketResearch(context.Background(), testJob("p"), geoSnap())
	assert.False(t, res.Failed())
	assert.Equal(t, []string{"market"}, unknownFields(res))
}
