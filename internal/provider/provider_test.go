package provider_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/internal/provider"
	"github.com/brandscope/brandscope/pkg/models"
)

const testTimeout = 5 * time.Second

func TestOpenAIAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "best crm software", req.Messages[0].Content)

		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini-2024",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Acme leads the pack."}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 8},
		})
	}))
	defer srv.Close()

	p := provider.NewOpenAI(config.OpenAIConfig{
		BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini",
	}, testTimeout)

	answer, err := p.Ask(context.Background(), "best crm software")
	require.NoError(t, err)
	assert.Equal(t, "Acme leads the pack.", answer.Text)
	assert.Equal(t, "gpt-4o-mini-2024", answer.Model)
	assert.Equal(t, 12, answer.TokensIn)
	assert.Equal(t, 8, answer.TokensOut)
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, provider.ErrAuth, false},
		{"forbidden", http.StatusForbidden, provider.ErrAuth, false},
		{"bad request", http.StatusBadRequest, provider.ErrBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, provider.ErrRateLimited, true},
		{"server error", http.StatusInternalServerError, provider.ErrUnavailable, true},
		{"bad gateway", http.StatusBadGateway, provider.ErrUnavailable, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			p := provider.NewOpenAI(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, testTimeout)
			_, err := p.Ask(context.Background(), "q")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.retryable, provider.Retryable(err))
		})
	}
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	p := provider.NewOpenAI(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, testTimeout)
	_, err := p.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestPerplexityAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pplx-test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"model": "sonar",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "answer"}},
			},
		})
	}))
	defer srv.Close()

	p := provider.NewPerplexity(config.PerplexityConfig{
		BaseURL: srv.URL, APIKey: "pplx-test", Model: "sonar",
	}, testTimeout)

	answer, err := p.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Text)
	assert.Equal(t, "sonar", answer.Model)
}

func TestGeminiAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-test", r.URL.Query().Get("key"), "Gemini authenticates via query key")
		assert.Empty(t, r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{
					{"text": "Acme is "}, {"text": "well regarded."},
				}}},
			},
			"usageMetadata": map[string]int{"promptTokenCount": 5, "candidatesTokenCount": 7},
			"modelVersion":  "gemini-2.0-flash-001",
		})
	}))
	defer srv.Close()

	p := provider.NewGemini(config.GeminiConfig{
		BaseURL: srv.URL, APIKey: "g-test", Model: "gemini-2.0-flash",
	}, testTimeout)

	answer, err := p.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Acme is well regarded.", answer.Text, "multi-part candidates are concatenated")
	assert.Equal(t, "gemini-2.0-flash-001", answer.Model)
	assert.Equal(t, 5, answer.TokensIn)
	assert.Equal(t, 7, answer.TokensOut)
}

func TestAIOverviewAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/overviews", r.URL.Path)
		assert.Equal(t, "svc-token", r.Header.Get("X-Service-Token"))

		var req struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "best crm software", req.Query)

		json.NewEncoder(w).Encode(map[string]string{
			"overview": "Acme and Globex are common picks.",
			"source":   "google",
		})
	}))
	defer srv.Close()

	p := provider.NewAIOverview(config.AIOverviewConfig{
		BaseURL: srv.URL, ServiceToken: "svc-token",
	}, testTimeout)

	answer, err := p.Ask(context.Background(), "best crm software")
	require.NoError(t, err)
	assert.Equal(t, "Acme and Globex are common picks.", answer.Text)
	assert.Equal(t, "ai-overview", answer.Model)
}

func TestAskTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The request context is not cancelled on client disconnect until
		// the body has been consumed, so drain it before blocking.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := provider.NewOpenAI(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, 50*time.Millisecond)
	_, err := p.Ask(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrTimeout)
	assert.True(t, provider.Retryable(err))
}

func TestNewRegistry(t *testing.T) {
	cfg := config.ProvidersConfig{Timeout: testTimeout}
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Gemini.APIKey = "g-test"

	reg, err := provider.NewRegistry(cfg)
	require.NoError(t, err)

	assert.NotNil(t, reg.Get(models.ProviderOpenAI))
	assert.NotNil(t, reg.Get(models.ProviderGemini))
	assert.Nil(t, reg.Get(models.ProviderPerplexity))
	assert.ElementsMatch(t, []string{models.ProviderOpenAI, models.ProviderGemini}, reg.Names())
}

func TestNewRegistryRequiresAtLeastOne(t *testing.T) {
	_, err := provider.NewRegistry(config.ProvidersConfig{Timeout: testTimeout})
	assert.Error(t, err)
}
