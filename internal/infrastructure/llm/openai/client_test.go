package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/registry"
	"github.com/kirillkom/document-intake/internal/infrastructure/resilience"
)

func chatServer(t *testing.T, content string, inspect func(r *http.Request, payload map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(r, payload)
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}, "finish_reason": "stop"}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	client, err := New(cfg, resilience.NewExecutor(resilience.Config{BreakerEnabled: false}), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func schemaFor(t *testing.T, docType domain.DocumentType) registry.Schema {
	t.Helper()
	schemas, err := registry.DefaultSchemas()
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}
	for _, s := range schemas {
		if s.DocumentType == docType {
			return s
		}
	}
	t.Fatalf("no schema for %s", docType)
	return registry.Schema{}
}

func TestClassifierSendsSchemaAndParsesType(t *testing.T) {
	var gotAuth, gotPath string
	var format map[string]any
	server := chatServer(t, `{"document_type":"invoice"}`, func(r *http.Request, payload map[string]any) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		format, _ = payload["response_format"].(map[string]any)
	})

	client := newTestClient(t, Config{APIKey: "sk-test", BaseURL: server.URL})
	got, err := NewClassifier(client).Classify(context.Background(), "INVOICE #42")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got != domain.DocumentInvoice {
		t.Fatalf("expected invoice, got %s", got)
	}
	if gotAuth != "Bearer sk-test" || gotPath != "/chat/completions" {
		t.Fatalf("unexpected request auth=%q path=%q", gotAuth, gotPath)
	}
	if format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %v", format)
	}
}

func TestClassifierMapsUnrecognisedLabelToUnknown(t *testing.T) {
	server := chatServer(t, `{"document_type":"receipt"}`, nil)
	client := newTestClient(t, Config{BaseURL: server.URL})

	got, err := NewClassifier(client).Classify(context.Background(), "text")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got != domain.DocumentUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestExtractorDecodesValidatedOrder(t *testing.T) {
	content := `{"customer_name":"ACME","customer_address":"Main st 1","invoice_number":"PO-7",
		"order_date":"2024-05-01","due_date":"2024-06-01","total_excl_vat":150,"currency":"EUR",
		"vat":31.5,"total_incl_vat":181.5,
		"lines":[{"product_code":"B-1","description":"bolts","quantity":2,"unit_price":50,"subtotal":100},
		{"product_code":"N-1","description":"nuts","quantity":1,"unit_price":50,"subtotal":50}]}`
	server := chatServer(t, content, nil)
	client := newTestClient(t, Config{BaseURL: server.URL})

	extractor, err := NewExtractor[*domain.Order](client, schemaFor(t, domain.DocumentOrder))
	if err != nil {
		t.Fatalf("NewExtractor() error = %v", err)
	}
	order, err := extractor.ExtractTyped(context.Background(), "# Purchase order")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if order.CustomerName != "ACME" || len(order.Lines) != 2 || order.Currency != "EUR" {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestExtractorRejectsSchemaViolation(t *testing.T) {
	server := chatServer(t, `{"supplier_name":"X"}`, nil)
	client := newTestClient(t, Config{BaseURL: server.URL})

	extractor, err := NewExtractor[*domain.Invoice](client, schemaFor(t, domain.DocumentInvoice))
	if err != nil {
		t.Fatalf("NewExtractor() error = %v", err)
	}
	if _, err := extractor.Extract(context.Background(), "text"); err == nil || !strings.Contains(err.Error(), "does not match schema") {
		t.Fatalf("expected schema validation error, got %v", err)
	}
}

func TestNewExtractorRejectsMismatchedSchema(t *testing.T) {
	client := newTestClient(t, Config{BaseURL: "http://unused"})
	if _, err := NewExtractor[*domain.Order](client, schemaFor(t, domain.DocumentInvoice)); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestAzureFlavorUsesDeploymentURLAndAPIKey(t *testing.T) {
	var gotKey, gotPath, gotVersion string
	var gotModel any
	server := chatServer(t, `{"document_type":"order"}`, func(r *http.Request, payload map[string]any) {
		gotKey = r.Header.Get("api-key")
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		gotModel = payload["model"]
	})

	client := newTestClient(t, Config{Flavor: FlavorAzure, APIKey: "azure-key", BaseURL: server.URL})
	if _, err := NewClassifier(client).Classify(context.Background(), "PO"); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if gotKey != "azure-key" || gotPath != "/openai/deployments/gpt-4/chat/completions" || gotVersion != defaultAzureAPIVersion {
		t.Fatalf("unexpected azure request key=%q path=%q version=%q", gotKey, gotPath, gotVersion)
	}
	if gotModel != nil {
		t.Fatalf("azure requests address the deployment, got model %v", gotModel)
	}
}

func TestServerErrorIsTemporaryAndCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, Config{BaseURL: server.URL})
	_, err := NewClassifier(client).Classify(context.Background(), "text")
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestNewRejectsAzureWithoutEndpoint(t *testing.T) {
	if _, err := New(Config{Flavor: FlavorAzure}, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(Config{Flavor: "anthropic"}, nil, nil); err == nil {
		t.Fatalf("expected error for unknown flavor")
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	text := strings.Repeat("a", maxPromptDocument-1) + "äöü"
	got := truncate(text)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid utf-8 ending %q", got[len(got)-4:])
	}
	if len(got) != maxPromptDocument-1 {
		t.Fatalf("expected cut before the split rune, got len %d", len(got))
	}
	if short := truncate("  Rechnung Nr. 1  "); short != "Rechnung Nr. 1" {
		t.Fatalf("unexpected short text %q", short)
	}
}
