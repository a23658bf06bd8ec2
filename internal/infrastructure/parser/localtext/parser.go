// Package localtext parses documents on the local machine without calling a
// cloud service. It is meant for the CLI and for development.
package localtext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

var supportedExtensions = map[string]struct{}{
	".pdf":  {},
	".txt":  {},
	".md":   {},
	".csv":  {},
	".xlsx": {},
}

type Parser struct {
	path     string
	language string
}

// New rejects unsupported extensions before the file is opened.
func New(path, language string) (*Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := supportedExtensions[ext]; !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedFile, "local parser", fmt.Errorf("extension %q", ext))
	}
	return &Parser{path: path, language: language}, nil
}

func (p *Parser) Parse(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(p.path)) {
	case ".pdf":
		text, err = parsePDF(p.path)
	case ".xlsx":
		text, err = parseWorkbook(p.path)
	default:
		text, err = parseText(p.path)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "local parser", fmt.Errorf("no text found in %s", filepath.Base(p.path)))
	}
	return text, nil
}

func parseText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrUnsupportedFile, "local parser", fmt.Errorf("%s is not valid utf-8 text", filepath.Base(path)))
	}
	return string(raw), nil
}

// parsePDF joins the plain text of every page with a blank line.
func parsePDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		if content = strings.TrimSpace(content); content != "" {
			pages = append(pages, content)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// parseWorkbook renders every sheet as a markdown table.
func parseWorkbook(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", sheet)
		for i, row := range rows {
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
			if i == 0 {
				b.WriteString("|" + strings.Repeat(" --- |", len(row)) + "\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
