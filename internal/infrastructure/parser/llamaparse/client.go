// Package llamaparse converts documents to markdown with the LlamaParse cloud
// API: upload, poll the job, fetch the per-page result.
package llamaparse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
	"github.com/kirillkom/document-intake/internal/infrastructure/resilience"
)

const (
	provider       = "llamaparse"
	defaultBaseURL = "https://api.cloud.llamaindex.ai"
)

var supportedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".odt": {}, ".rtf": {},
	".ppt": {}, ".pptx": {}, ".xls": {}, ".xlsx": {}, ".csv": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".tiff": {}, ".webp": {},
	".txt": {}, ".html": {}, ".htm": {},
}

type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	// MaxWait bounds a single parse job, polling included.
	MaxWait time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	exec       *resilience.Executor
	logger     *slog.Logger
}

func NewClient(cfg Config, exec *resilience.Executor, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
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
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		exec:       exec,
		logger:     logger,
	}
}

// Factory binds the client to one file; it fits registry.ParserFactory.
func (c *Client) Factory(path, language string) (ports.DocumentParser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := supportedExtensions[ext]; !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedFile, "llamaparse", fmt.Errorf("extension %q", ext))
	}
	if language == "" {
		language = "en"
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

	jobID, err := p.client.upload(ctx, p.path, p.language)
	if err != nil {
		return "", err
	}
	logger := p.client.logger.With("provider", provider, "parse_job", jobID)
	logger.Info("parse_job_submitted", "file", filepath.Base(p.path))

	if err := p.client.wait(ctx, jobID); err != nil {
		logger.Error("parse_job_failed", "error", err, "elapsed_ms", time.Since(started).Milliseconds())
		return "", err
	}
	text, err := p.client.markdown(ctx, jobID)
	if err != nil {
		return "", err
	}
	logger.Info("parse_job_done", "chars", len(text), "elapsed_ms", time.Since(started).Milliseconds())
	return text, nil
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message"`
}

func (c *Client) upload(ctx context.Context, path, language string) (string, error) {
	return resilience.Call(ctx, c.exec, "llamaparse.upload", func(ctx context.Context) (string, error) {
		body, contentType, err := multipartFile(path, map[string]string{"language": language})
		if err != nil {
			return "", err
		}
		var job jobResponse
		if err := c.do(ctx, http.MethodPost, "/api/parsing/upload", body, contentType, &job, "upload"); err != nil {
			return "", err
		}
		if job.ID == "" {
			return "", errors.New("llamaparse upload: empty job id")
		}
		return job.ID, nil
	})
}

// wait polls the job until it leaves the pending state.
func (c *Client) wait(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		job, err := resilience.Call(ctx, c.exec, "llamaparse.status", func(ctx context.Context) (jobResponse, error) {
			var job jobResponse
			err := c.do(ctx, http.MethodGet, "/api/parsing/job/"+jobID, nil, "", &job, "status")
			return job, err
		})
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return domain.WrapError(domain.ErrTemporary, "llamaparse wait", fmt.Errorf("job %s: %w", jobID, err))
			}
			return err
		}
		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			return nil
		case "ERROR", "CANCELED", "CANCELLED":
			msg := job.Error
			if msg == "" {
				msg = strings.ToLower(job.Status)
			}
			return fmt.Errorf("llamaparse job %s: %s", jobID, msg)
		}

		select {
		case <-ctx.Done():
			return domain.WrapError(domain.ErrTemporary, "llamaparse wait", fmt.Errorf("job %s: %w", jobID, ctx.Err()))
		case <-ticker.C:
		}
	}
}

// markdown joins the markdown of every page with a blank line.
func (c *Client) markdown(ctx context.Context, jobID string) (string, error) {
	var result struct {
		Pages []struct {
			Page int    `json:"page"`
			MD   string `json:"md"`
		} `json:"pages"`
	}
	err := c.exec.Execute(ctx, "llamaparse.result", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/parsing/job/"+jobID+"/result/json", nil, "", &result, "result")
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", resilience.WrapTemporary("llamaparse.result", err)
	}
	pages := make([]string, 0, len(result.Pages))
	for _, page := range result.Pages {
		pages = append(pages, page.MD)
	}
	return strings.Join(pages, "\n\n"), nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any, operation string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llamaparse %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError(provider, operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func multipartFile(path string, fields map[string]string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy document: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
