package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

var classificationSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"document_type": map[string]any{
			"type": "string",
			"enum": []string{string(domain.DocumentOrder), string(domain.DocumentInvoice), string(domain.DocumentUnknown)},
		},
	},
	"required": []string{"document_type"},
}

type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

// Classify never returns an error for an unrecognised label; it reports
// domain.DocumentUnknown instead.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.DocumentType, error) {
	raw, err := c.client.completeJSON(ctx, "classify", "document_type_prediction", classificationSchema, classificationMessages(text))
	if err != nil {
		return "", err
	}

	var prediction struct {
		DocumentType string `json:"document_type"`
	}
	if err := json.Unmarshal(raw, &prediction); err != nil {
		return "", fmt.Errorf("parse classification json: %w", err)
	}
	docType, err := domain.ParseDocumentType(prediction.DocumentType)
	if err != nil {
		return domain.DocumentUnknown, nil
	}
	return docType, nil
}
