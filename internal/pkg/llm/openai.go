package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Youssef-Hatem/policylens/internal/domain"
)

// OpenAIConfig configures the chat completions client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type OpenAIClient struct {
	client *req.Client
	model  string
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetCommonBearerAuthToken(cfg.APIKey).
		SetCommonContentType("application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &OpenAIClient{client: client, model: cfg.Model}
}

func (c *OpenAIClient) Name() string { return domain.ProviderOpenAI }

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, int, error) {
	body, _ := sjson.Set("", "model", c.model)
	body, _ = sjson.Set(body, "messages.0.role", "user")
	body, _ = sjson.Set(body, "messages.0.content", prompt)
	body, _ = sjson.Set(body, "response_format.type", "json_object")

	resp, err := c.client.R().
		SetContext(ctx).
		SetBodyString(body).
		Post("/chat/completions")
	if err != nil {
		return "", 0, fmt.Errorf("openai request: %w", err)
	}
	raw := resp.String()
	if resp.IsErrorState() {
		return "", 0, &HTTPError{
			Provider: domain.ProviderOpenAI,
			Status:   resp.StatusCode,
			Body:     truncateBody(raw),
		}
	}

	text := gjson.Get(raw, "choices.0.message.content").String()
	if text == "" {
		return "", 0, fmt.Errorf("openai returned an empty completion")
	}
	tokens := int(gjson.Get(raw, "usage.total_tokens").Int())
	return text, tokens, nil
}
