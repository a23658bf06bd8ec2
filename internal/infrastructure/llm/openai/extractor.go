package openai

import (
	"context"
	"fmt"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/registry"
)

// Extractor produces one record kind. The model output is checked against the
// registered schema before it is decoded.
type Extractor[T domain.Record] struct {
	client *Client
	schema registry.Schema
}

func NewExtractor[T domain.Record](client *Client, schema registry.Schema) (*Extractor[T], error) {
	if schema.New == nil {
		return nil, fmt.Errorf("extractor for %s: schema has no constructor", schema.Name)
	}
	if _, ok := schema.New().(T); !ok {
		return nil, fmt.Errorf("extractor for %s: schema constructs %T", schema.Name, schema.New())
	}
	return &Extractor[T]{client: client, schema: schema}, nil
}

func (e *Extractor[T]) Extract(ctx context.Context, text string) (domain.Record, error) {
	return e.ExtractTyped(ctx, text)
}

func (e *Extractor[T]) ExtractTyped(ctx context.Context, text string) (T, error) {
	var zero T
	raw, err := e.client.completeJSON(ctx, "extract_"+e.schema.Name, e.schema.Name, e.schema.Definition, extractionMessages(e.schema.Name, text))
	if err != nil {
		return zero, err
	}
	if err := e.schema.Validate(raw); err != nil {
		e.client.logger.Error("llm_schema_validation_failed", "provider", e.client.cfg.Flavor, "schema", e.schema.Name, "error", err)
		return zero, fmt.Errorf("%s extract %s: %w", e.client.cfg.Flavor, e.schema.Name, err)
	}

	record := e.schema.New().(T)
	if err := e.schema.Decode(raw, record); err != nil {
		return zero, err
	}
	return record, nil
}
