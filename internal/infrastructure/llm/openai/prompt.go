package openai

import (
	"strings"
	"unicode/utf8"
)

const maxPromptDocument = 60000

func classificationMessages(text string) []chatMessage {
	return []chatMessage{
		{
			Role: "system",
			Content: `You are a document classifier for a purchasing back office.
Decide whether the document is a purchase order ("order") or a supplier invoice ("invoice").
Answer "unknown" when it is neither or when you are not confident.`,
		},
		{Role: "user", Content: truncate(text)},
	}
}

func extractionMessages(entity, text string) []chatMessage {
	return []chatMessage{
		{
			Role: "system",
			Content: strings.Join([]string{
				"You extract structured " + entity + " data from markdown produced by a document parser.",
				"Return only JSON matching the provided schema.",
				"Use ISO-8601 dates (YYYY-MM-DD) and a 3-letter ISO 4217 currency code.",
				"Amounts are plain numbers without currency symbols or thousands separators.",
				"Copy every line item; subtotal is the line amount excluding VAT.",
				"Use an empty string for text fields that are not present and 0 for missing amounts.",
			}, " "),
		},
		{Role: "user", Content: truncate(text)},
	}
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxPromptDocument {
		return text
	}
	cut := maxPromptDocument
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
