package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/pkg/models"
)

// Gemini implements models.AssistantProvider against the generateContent
// API. Gemini authenticates with a query-string API key, not a bearer token.
type Gemini struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func NewGemini(cfg config.GeminiConfig, timeout time.Duration) *Gemini {
	return &Gemini{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *Gemini) Name() string { return models.ProviderGemini }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *Gemini) Ask(ctx context.Context, prompt string) (models.Answer, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return models.Answer{}, fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.cfg.BaseURL, url.PathEscape(p.cfg.Model), url.QueryEscape(p.cfg.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.Answer{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.Answer{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Answer{}, classifyStatus(resp.StatusCode, string(snippet))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return models.Answer{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(geminiResp.Candidates) == 0 {
		return models.Answer{}, fmt.Errorf("%w: no candidates", ErrUnavailable)
	}

	var sb strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	model := geminiResp.ModelVersion
	if model == "" {
		model = p.cfg.Model
	}

	return models.Answer{
		Text:      sb.String(),
		Model:     model,
		TokensIn:  geminiResp.UsageMetadata.PromptTokenCount,
		TokensOut: geminiResp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

var _ models.AssistantProvider = (*Gemini)(nil)
