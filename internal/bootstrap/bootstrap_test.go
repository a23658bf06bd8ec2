package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/document-intake/internal/config"
	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/usecase"
)

func TestNewRegistryRegistersConfiguredProviders(t *testing.T) {
	reg, err := NewRegistry(config.Config{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got := fmt.Sprint(reg.ParserNames()); got != "[llamaparse local]" {
		t.Fatalf("unexpected parsers %s", got)
	}
	if got := fmt.Sprint(reg.ModelNames()); got != "[openai]" {
		t.Fatalf("unexpected models %s", got)
	}
	if _, err := reg.Extractor("openai", domain.DocumentInvoice); err != nil {
		t.Fatalf("expected openai invoice extractor: %v", err)
	}
	if err := reg.CheckParser("azure"); !domain.IsKind(err, domain.ErrUnknownProvider) {
		t.Fatalf("expected azure parser to be absent, got %v", err)
	}

	reg, err = NewRegistry(config.Config{
		AzureDIEndpoint:     "https://di.example.com",
		AzureOpenAIEndpoint: "https://aoai.example.com",
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got := fmt.Sprint(reg.ParserNames()); got != "[azure llamaparse local]" {
		t.Fatalf("unexpected parsers %s", got)
	}
	if got := fmt.Sprint(reg.ModelNames()); got != "[azure openai]" {
		t.Fatalf("unexpected models %s", got)
	}
	if _, err := reg.Schema(domain.DocumentOrder); err != nil {
		t.Fatalf("expected order schema: %v", err)
	}
}

func TestProviderPolicyFollowsConfig(t *testing.T) {
	policy := providerPolicy(config.Config{ProviderRetryMaxAttempts: 3, ProviderBreakerEnabled: false})
	if policy.RetryMaxAttempts != 3 || policy.BreakerEnabled {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	policy = providerPolicy(config.Config{ProviderBreakerEnabled: true})
	if policy.RetryMaxAttempts != 1 || !policy.BreakerEnabled {
		t.Fatalf("unexpected default policy: %+v", policy)
	}
}

func TestProcessorRejectsUnknownParserBeforeReadingFile(t *testing.T) {
	svc, _, err := NewProcessor(config.Config{DefaultModel: "openai"}, nil)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "order.txt")
	if err := os.WriteFile(path, []byte("ORDER"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err = svc.ProcessFile(context.Background(), usecase.ProcessRequest{
		Path:     path,
		FileName: "order.txt",
		Parser:   "tesseract",
		Model:    "openai",
	})
	if !domain.IsKind(err, domain.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
