package perplexity

import (
	"context"
	"encoding/json"
	"io"
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
	return WithRetryPolicy(resilience.Policy{Name: "perplexity", Attempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond})
}

func TestChatCompletion(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantID     string
		wantTokens int
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{
				"id": "cmpl-123",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "Median rent is $1,450."}}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 5},
				"citations": ["https://www.census.gov/acs", "https://www.zillow.com/rental-manager/market-trends/springfield-il/"]
			}`,
			wantID:     "cmpl-123",
			wantTokens: 5,
		},
		{
			name:    "bad_request",
			status:  http.StatusBadRequest,
			body:    `{"error": "invalid model"}`,
			wantErr: "status 400",
		},
		{
			name:    "server_error",
			status:  http.StatusInternalServerError,
			body:    `{"error": "internal server error"}`,
			wantErr: "status 500",
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient("test-key", WithBaseURL(srv.URL), fastRetry())
			resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
				Messages: []Message{{Role: "user", Content: "rent in Springfield IL"}},
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, resp.ID)
			assert.Equal(t, tt.wantTokens, resp.Usage.CompletionTokens)
			assert.Equal(t, "Median rent is $1,450.", resp.Content())
			assert.Len(t, resp.Citations, 2)
		})
	}
}

func TestDefaultAndOverrideModel(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		models = append(models, req.Model)
		_, _ = io.WriteString(w, `{"id":"x","choices":[]}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(ctx, ChatCompletionRequest{})
	require.NoError(t, err)
	_, err = NewClient("k", WithBaseURL(srv.URL), WithModel("sonar")).ChatCompletion(ctx, ChatCompletionRequest{})
	require.NoError(t, err)
	resp, err := NewClient("k", WithBaseURL(srv.URL), WithModel("sonar")).ChatCompletion(ctx, ChatCompletionRequest{Model: "sonar-reasoning"})
	require.NoError(t, err)

	assert.Equal(t, []string{"sonar-pro", "sonar", "sonar-reasoning"}, models)
	assert.Empty(t, resp.Content())
}

func TestChatCompletion_OmitsUnsetOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.NotContains(t, raw, "temperature")
		assert.NotContains(t, raw, "max_tokens")
		_, _ = io.WriteString(w, `{"id":"x"}`)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.NoError(t, err)
}

func TestChatCompletion_Retries429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"id":"ok"}`)
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL), fastRetry()).ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatCompletion_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), fastRetry()).ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resilience.StatusCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatCompletion_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), fastRetry()).ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(ctx, ChatCompletionRequest{})
	require.Error(t, err)
}
