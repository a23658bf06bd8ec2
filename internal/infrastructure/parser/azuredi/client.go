// Package azuredi converts documents to markdown with the Azure Document
// Intelligence prebuilt-layout model.
package azuredi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
	"github.com/kirillkom/document-intake/internal/infrastructure/resilience"
)

const (
	provider          = "azure"
	defaultAPIVersion = "2024-11-30"
	layoutModel       = "prebuilt-layout"
)

var supportedExtensions = map[string]struct{}{
	".pdf": {}, ".jpg": {}, ".jpeg": {}, ".png": {}, ".bmp": {},
	".tif": {}, ".tiff": {}, ".heif": {}, ".docx": {}, ".xlsx": {},
	".pptx": {}, ".html": {},
}

type Config struct {
	Endpoint     string
	APIKey       string
	APIVersion   string
	PollInterval time.Duration
	MaxWait      time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	exec       *resilience.Executor
	logger     *slog.Logger
}

func NewClient(cfg Config, exec *resilience.Executor, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("azure document intelligence: endpoint is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		exec:       exec,
		logger:     logger,
	}, nil
}

// Factory binds the client to one file; it fits registry.ParserFactory.
func (c *Client) Factory(path, language string) (ports.DocumentParser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := supportedExtensions[ext]; !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedFile, "azure parser", fmt.Errorf("extension %q", ext))
	}
	return &Parser{client: c, path: path, language: language}, nil
}

type Parser struct {
	client   *Client
	path     string
	language string
}

func (p *Parser) Parse(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.client.cfg.MaxWait)
	defer cancel()
	started := time.Now()

	raw, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	operation, err := p.client.analyze(ctx, raw, p.language)
	if err != nil {
		return "", err
	}
	content, err := p.client.poll(ctx, operation)
	if err != nil {
		p.client.logger.Error("parse_job_failed", "provider", provider, "error", err, "elapsed_ms", time.Since(started).Milliseconds())
		return "", err
	}
	p.client.logger.Info("parse_job_done", "provider", provider, "chars", len(content), "elapsed_ms", time.Since(started).Milliseconds())
	return content, nil
}

// analyze submits the document and returns the Operation-Location to poll.
func (c *Client) analyze(ctx context.Context, raw []byte, language string) (string, error) {
	query := url.Values{}
	query.Set("api-version", c.cfg.APIVersion)
	query.Set("outputContentFormat", "markdown")
	if language != "" {
		query.Set("locale", language)
	}
	endpoint := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?%s", c.cfg.Endpoint, layoutModel, query.Encode())
	payload, err := json.Marshal(map[string]string{"base64Source": base64.StdEncoding.EncodeToString(raw)})
	if err != nil {
		return "", fmt.Errorf("marshal analyze request: %w", err)
	}

	return resilience.Call(ctx, c.exec, "azure_di.analyze", func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("create analyze request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("azure analyze request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return "", resilience.NewHTTPStatusError(provider, "analyze", resp)
		}
		location := resp.Header.Get("Operation-Location")
		if location == "" {
			return "", errors.New("azure analyze: missing Operation-Location header")
		}
		return location, nil
	})
}

type analyzeResult struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		Content string `json:"content"`
	} `json:"analyzeResult"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) poll(ctx context.Context, location string) (string, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		result, err := resilience.Call(ctx, c.exec, "azure_di.result", func(ctx context.Context) (analyzeResult, error) {
			return c.fetch(ctx, location)
		})
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", domain.WrapError(domain.ErrTemporary, "azure poll", err)
			}
			return "", err
		}
		switch strings.ToLower(result.Status) {
		case "succeeded":
			return strings.TrimSpace(result.AnalyzeResult.Content), nil
		case "failed", "canceled":
			return "", fmt.Errorf("azure analyze %s: %s %s", result.Status, result.Error.Code, result.Error.Message)
		}

		select {
		case <-ctx.Done():
			return "", domain.WrapError(domain.ErrTemporary, "azure poll", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) fetch(ctx context.Context, location string) (analyzeResult, error) {
	var out analyzeResult
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return out, fmt.Errorf("create result request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("azure result request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return out, resilience.NewHTTPStatusError(provider, "result", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode result response: %w", err)
	}
	return out, nil
}
