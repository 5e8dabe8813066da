package workers

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/portal"
	"github.com/sells-group/property-research/internal/property"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/internal/store"
	"github.com/sells-group/property-research/pkg/geocode"
	"github.com/sells-group/property-research/pkg/jina"
	"github.com/sells-group/property-research/pkg/perplexity"
	"github.com/sells-group/property-research/pkg/propdata"
)

const testAddress = "742 Evergreen Terrace, Springfield, IL 62704"

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "workers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProperty(t *testing.T, st store.Store) *model.ResearchProperty {
	t.Helper()
	p, err := property.NewRegistry(st).Resolve(context.Background(), testAddress)
	require.NoError(t, err)
	return p
}

func testJob(propertyID string) *model.AgenticJob {
	return &model.AgenticJob{
		ID:                 "job-1",
		TraceID:            "trace-1",
		ResearchPropertyID: propertyID,
		Status:             model.JobStatusInProgress,
		Strategy:           model.StrategyFlip,
	}
}

// geoSnap is a snapshot holding a committed geocode result.
func geoSnap() *research.Snapshot {
	return research.NewSnapshot().With(map[string]map[string]any{
		Geocode: {
			"lat":                39.7817,
			"lng":                -89.6501,
			"normalized_address": "742 Evergreen Ter, Springfield, IL 62704",
			"street":             "742 Evergreen Ter",
			"city":               "Springfield",
			"state":              "IL",
			"zip":                "62704",
			"matched_address":    "742 EVERGREEN TER, SPRINGFIELD, IL, 62704",
		},
	})
}

func newWorkers(d Deps) *workers {
	if d.Now == nil {
		d.Now = func() time.Time { return fixedNow }
	}
	return &workers{d: d.withDefaults()}
}

// fakeFetcher serves canned portal bodies by URL prefix.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*portal.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	for prefix, body := range f.pages {
		if strings.HasPrefix(rawURL, prefix) {
			return &portal.Response{Body: body, ContentType: "application/json"}, nil
		}
	}
	return nil, eris.Errorf("portal: status 404: %s", rawURL)
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newPortal(t *testing.T, st store.Store, pages map[string]string) (*portal.Cache, *fakeFetcher) {
	t.Helper()
	f := &fakeFetcher{pages: pages}
	return portal.NewCache(st, f, time.Hour), f
}

type mockGeocoder struct{ mock.Mock }

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (*geocode.Result, error) {
	args := m.Called(ctx, address)
	res, _ := args.Get(0).(*geocode.Result)
	return res, args.Error(1)
}

type mockPropData struct{ mock.Mock }

func (m *mockPropData) SaleComps(ctx context.Context, q propdata.Query) (*propdata.Response, error) {
	args := m.Called(ctx, q)
	res, _ := args.Get(0).(*propdata.Response)
	return res, args.Error(1)
}

func (m *mockPropData) RentalComps(ctx context.Context, q propdata.Query) (*propdata.Response, error) {
	args := m.Called(ctx, q)
	res, _ := args.Get(0).(*propdata.Response)
	return res, args.Error(1)
}

type fakeSearch struct {
	resp    *jina.SearchResponse
	err     error
	queries []string
}

func (f *fakeSearch) Search(_ context.Context, query string, _ ...jina.SearchOption) (*jina.SearchResponse, error) {
	f.queries = append(f.queries, query)
	return f.resp, f.err
}

type fakePerplexity struct {
	resp *perplexity.ChatCompletionResponse
	err  error
	reqs []perplexity.ChatCompletionRequest
}

func (f *fakePerplexity) ChatCompletion(_ context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func chatReply(content string, citations ...string) *perplexity.ChatCompletionResponse {
	return &perplexity.ChatCompletionResponse{
		Choices:   []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: content}}},
		Citations: citations,
	}
}

func unknownFields(r research.Result) []string {
	out := make([]string, len(r.Unknowns))
	for i, u := range r.Unknowns {
		out[i] = u.Field
	}
	return out
}

const parcelBody = `{
	"features": [{
		"attributes": {
			"PIN": "14-22-301-009",
			"OWNER_NAME": "SIMPSON HOMER J",
			"BLDG_SQFT": 1450,
			"YEAR_BUILT": 1958,
			"BEDROOMS": 3,
			"BATHROOMS": 2,
			"ASSESSED_VALUE": "120,500",
			"ZONING": "R-1",
			"LIEN_COUNT": 1,
			"TAX_DELINQUENT": "N"
		}
	}]
}`

const floodBody = `{"features":[{"attributes":{"FLD_ZONE":"AE","ZONE_SUBTY":"FLOODWAY","SFHA_TF":"T"}}]}`

const permitBody = `{"features":[
	{"attributes":{"PERMIT_NO":"B-2024-118","PERMIT_TYPE":"Roof","STATUS":"Issued","ISSUE_DATE":1709251200000,"DESCRIPTION":"Tear off and reroof"}},
	{"attributes":{"PERMIT_NO":"B-2019-044","PERMIT_TYPE":"Electrical","STATUS":"Finaled","ISSUE_DATE":"2019-04-02"}},
	{"attributes":{"PERMIT_NO":"CE-2025-7","PERMIT_TYPE":"Code Violation","STATUS":"Open","DESCRIPTION":"Tall grass"}}
]}`
