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

// OpenAI implements models.AssistantProvider against the chat completions API.
type OpenAI struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewOpenAI(cfg config.OpenAIConfig, timeout time.Duration) *OpenAI {
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *OpenAI) Name() string { return models.ProviderOpenAI }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAI) Ask(ctx context.Context, prompt string) (models.Answer, error) {
	body, err := json.Marshal(chatRequest{
		Model:    p.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return models.Answer{}, fmt.Errorf("encoding request: %w", err)
	}

	u := p.cfg.BaseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.Answer{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.Answer{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Answer{}, classifyStatus(resp.StatusCode, string(snippet))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return models.Answer{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return models.Answer{}, fmt.Errorf("%w: empty choices", ErrUnavailable)
	}

	return models.Answer{
		Text:      chatResp.Choices[0].Message.Content,
		Model:     chatResp.Model,
		TokensIn:  chatResp.Usage.PromptTokens,
		TokensOut: chatResp.Usage.CompletionTokens,
	}, nil
}

var _ models.AssistantProvider = (*OpenAI)(nil)
