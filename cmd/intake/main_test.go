package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

func TestRunRequiresOnePath(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	var stderr bytes.Buffer
	err := run(context.Background(), nil, &bytes.Buffer{}, &stderr)
	if err == nil || !strings.Contains(err.Error(), "exactly one document path") {
		t.Fatalf("expected path error, got %v", err)
	}
	if !strings.Contains(stderr.String(), "usage: intake") {
		t.Fatalf("expected usage on stderr, got %q", stderr.String())
	}
}

func TestRunListsAvailableParsers(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT", "")
	err := run(context.Background(), []string{"-parser", "tesseract", "missing.pdf"}, &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "available: llamaparse, local") {
		t.Fatalf("expected parser list, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestRunRejectsUnknownModel(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "")
	err := run(context.Background(), []string{"-model", "mistral", "missing.pdf"}, &bytes.Buffer{}, &bytes.Buffer{})
	if !domain.IsKind(err, domain.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "available: openai") {
		t.Fatalf("expected model list, got %v", err)
	}
}

func TestRunRejectsUnknownType(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	err := run(context.Background(), []string{"-type", "receipt", "missing.pdf"}, &bytes.Buffer{}, &bytes.Buffer{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
