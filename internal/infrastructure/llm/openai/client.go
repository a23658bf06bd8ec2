// Package openai talks to the OpenAI and Azure OpenAI chat completions APIs
// and implements document classification and structured extraction on top.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-intake/internal/infrastructure/resilience"
)

const (
	FlavorOpenAI = "openai"
	FlavorAzure  = "azure"

	defaultBaseURL         = "https://api.openai.com/v1"
	defaultAzureAPIVersion = "2024-07-01-preview"
)

type Config struct {
	// Flavor selects the endpoint layout and auth header: "openai" or "azure".
	Flavor      string
	APIKey      string
	BaseURL     string
	Model       string
	Deployment  string
	APIVersion  string
	Temperature float64
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	exec       *resilience.Executor
	logger     *slog.Logger
}

func New(cfg Config, exec *resilience.Executor, logger *slog.Logger) (*Client, error) {
	cfg.Flavor = strings.ToLower(strings.TrimSpace(cfg.Flavor))
	if cfg.Flavor == "" {
		cfg.Flavor = FlavorOpenAI
	}
	switch cfg.Flavor {
	case FlavorOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
	case FlavorAzure:
		if cfg.BaseURL == "" {
			return nil, errors.New("azure openai: endpoint is required")
		}
		if cfg.Deployment == "" {
			cfg.Deployment = "gpt-4"
		}
		if cfg.APIVersion == "" {
			cfg.APIVersion = defaultAzureAPIVersion
		}
	default:
		return nil, fmt.Errorf("unknown openai flavor %q", cfg.Flavor)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		exec:       exec,
		logger:     logger,
	}, nil
}

func (c *Client) Flavor() string {
	return c.cfg.Flavor
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string         `json:"model,omitempty"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// completeJSON requests a completion constrained to schema and returns the
// raw JSON content of the first choice.
func (c *Client) completeJSON(ctx context.Context, operation, schemaName string, schema map[string]any, messages []chatMessage) ([]byte, error) {
	started := time.Now()
	req := chatRequest{
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaFormat{Name: schemaName, Strict: true, Schema: schema},
		},
	}
	if c.cfg.Flavor == FlavorOpenAI {
		req.Model = c.cfg.Model
	}

	resp, err := resilience.Call(ctx, c.exec, c.cfg.Flavor+"."+operation, func(ctx context.Context) (chatResponse, error) {
		var out chatResponse
		err := c.postJSON(ctx, c.chatURL(), req, &out, operation)
		return out, err
	})
	if err != nil {
		c.logger.Error("llm_request_failed", "provider", c.cfg.Flavor, "operation", operation, "error", err, "elapsed_ms", time.Since(started).Milliseconds())
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s %s: no choices in response", c.cfg.Flavor, operation)
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%s %s: model refused: %s", c.cfg.Flavor, operation, choice.Message.Refusal)
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%s %s: empty content (finish_reason=%s)", c.cfg.Flavor, operation, choice.FinishReason)
	}

	c.logger.Info("llm_request_ok", "provider", c.cfg.Flavor, "operation", operation, "elapsed_ms", time.Since(started).Milliseconds())
	return []byte(extractJSONObject(content)), nil
}

func (c *Client) chatURL() string {
	if c.cfg.Flavor == FlavorAzure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", c.cfg.BaseURL, c.cfg.Deployment, c.cfg.APIVersion)
	}
	return c.cfg.BaseURL + "/chat/completions"
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
