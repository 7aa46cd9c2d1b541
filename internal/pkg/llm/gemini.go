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

// GeminiConfig configures the generateContent client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type GeminiClient struct {
	client *req.Client
	apiKey string
	model  string
}

func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetCommonContentType("application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &GeminiClient{client: client, apiKey: cfg.APIKey, model: cfg.Model}
}

func (c *GeminiClient) Name() string { return domain.ProviderGemini }

func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, int, error) {
	body, _ := sjson.Set("", "contents.0.parts.0.text", prompt)
	body, _ = sjson.Set(body, "generationConfig.responseMimeType", "application/json")

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetBodyString(body).
		Post(fmt.Sprintf("/models/%s:generateContent", c.model))
	if err != nil {
		return "", 0, fmt.Errorf("gemini request: %w", err)
	}
	raw := resp.String()
	if resp.IsErrorState() {
		return "", 0, &HTTPError{
			Provider: domain.ProviderGemini,
			Status:   resp.StatusCode,
			Body:     truncateBody(raw),
		}
	}

	text := gjson.Get(raw, "candidates.0.content.parts.0.text").String()
	if text == "" {
		// Safety blocks come back 200 with an empty candidate list.
		reason := gjson.Get(raw, "promptFeedback.blockReason").String()
		if reason != "" {
			return "", 0, fmt.Errorf("gemini blocked the prompt: %s", reason)
		}
		return "", 0, fmt.Errorf("gemini returned an empty completion")
	}
	tokens := int(gjson.Get(raw, "usageMetadata.totalTokenCount").Int())
	return text, tokens, nil
}
