package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-research/internal/resilience"
)

func fastRetry() Option {
	return WithRetryPolicy(resilience.Policy{Name: "jina", Attempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond})
}

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	want := SearchResponse{
		Code: 200,
		Data: []SearchResult{
			{
				Title:       "123 Main St, Springfield, IL 62701 | Zillow",
				URL:         "https://www.zillow.com/homedetails/123-Main-St-Springfield-IL-62701/1234_zpid/",
				Content:     "3 bd, 2 ba, 1,450 sqft",
				Description: "Zestimate: $182,300",
				Usage:       Usage{Tokens: 400},
			},
			{Title: "b", URL: "https://example.com", Usage: Usage{Tokens: 100}},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/123 Main St Springfield", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "123 Main St Springfield")

	require.NoError(t, err)
	assert.Equal(t, 200, got.Code)
	require.Len(t, got.Data, 2)
	assert.Equal(t, want.Data[0].URL, got.Data[0].URL)
	assert.Equal(t, 500, got.Tokens())
}

func TestSearch_WithSiteFilter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sangamoncountyil.gov", r.URL.Query().Get("site"))
		json.NewEncoder(w).Encode(SearchResponse{Code: 200}) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "parcel 14-27-301-004", WithSiteFilter("sangamoncountyil.gov"))
	require.NoError(t, err)
}

func TestSearch_NoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	got, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "zzzz")
	require.NoError(t, err)
	assert.Empty(t, got.Data)
	assert.Equal(t, http.StatusUnprocessableEntity, got.Code)
}

func TestSearch_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry()).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resilience.StatusCode(err))
	assert.Contains(t, err.Error(), "bad key")
}

func TestSearch_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestSearch_RetryOn500(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(SearchResponse{Code: 200, Data: []SearchResult{{URL: "https://a"}}}) //nolint:errcheck
	}))
	defer srv.Close()

	got, err := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry()).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, got.Data, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_BreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient("k", WithSearchBaseURL(srv.URL),
		WithRetryPolicy(resilience.Policy{Name: "jina", Attempts: 1}),
		WithBreaker(resilience.NewBreaker("jina", 2, time.Minute)),
	)
	for range 2 {
		_, err := client.Search(context.Background(), "q")
		require.Error(t, err)
	}
	_, err := client.Search(context.Background(), "q")
	require.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearch_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(ctx, "q")
	require.Error(t, err)
}
