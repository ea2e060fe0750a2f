package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/pkg/models"
)

// AIOverview implements models.AssistantProvider against the internal
// overview-fetcher service, which scrapes Google AI Overviews on our
// behalf. Service-to-service auth via a shared token header.
type AIOverview struct {
	cfg    config.AIOverviewConfig
	client *http.Client
}

func NewAIOverview(cfg config.AIOverviewConfig, timeout time.Duration) *AIOverview {
	return &AIOverview{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *AIOverview) Name() string { return models.ProviderAIOverview }

type overviewRequest struct {
	Query string `json:"query"`
}

type overviewResponse struct {
	Overview string `json:"overview"`
	Source   string `json:"source"`
}

func (p *AIOverview) Ask(ctx context.Context, prompt string) (models.Answer, error) {
	body, err := json.Marshal(overviewRequest{Query: prompt})
	if err != nil {
		return models.Answer{}, fmt.Errorf("encoding request: %w", err)
	}

	u := p.cfg.BaseURL + "/v1/overviews"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.Answer{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Service-Token", p.cfg.ServiceToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.Answer{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Answer{}, classifyStatus(resp.StatusCode, string(snippet))
	}

	var overviewResp overviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&overviewResp); err != nil {
		return models.Answer{}, fmt.Errorf("decoding response: %w", err)
	}

	return models.Answer{
		Text:  overviewResp.Overview,
		Model: "ai-overview",
	}, nil
}

var _ models.AssistantProvider = (*AIOverview)(nil)
