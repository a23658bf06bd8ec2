package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kirillkom/document-intake/internal/bootstrap"
	"github.com/kirillkom/document-intake/internal/config"
	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/usecase"
	"github.com/kirillkom/document-intake/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "intake:", err)
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run parses one document and prints the extracted record as JSON when -show
// is set. Nothing is stored.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("intake", flag.ContinueOnError)
	fs.SetOutput(stderr)
	language := fs.String("language", firstNonEmpty(cfg.DefaultLanguage, "en"), "document language")
	parser := fs.String("parser", cfg.DefaultParser, "parser provider")
	model := fs.String("model", cfg.DefaultModel, "model provider")
	docType := fs.String("type", "", "order or invoice; empty classifies the document")
	show := fs.Bool("show", false, "print the extracted record")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: intake [flags] <path>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected exactly one document path, got %d", fs.NArg())
	}
	path := fs.Arg(0)

	var entity domain.DocumentType
	if strings.TrimSpace(*docType) != "" {
		if entity, err = domain.ParseDocumentType(*docType); err != nil {
			return err
		}
	}

	logger := logging.New(stderr, "intake", cfg.LogLevel, "text")
	svc, reg, err := bootstrap.NewProcessor(cfg, logger)
	if err != nil {
		return err
	}
	if err := reg.CheckParser(*parser); err != nil {
		return fmt.Errorf("invalid parser %q, available: %s: %w", *parser, strings.Join(reg.ParserNames(), ", "), err)
	}
	if err := reg.CheckModel(*model); err != nil {
		return fmt.Errorf("invalid model %q, available: %s: %w", *model, strings.Join(reg.ModelNames(), ", "), err)
	}

	fmt.Fprintf(stderr, "processing %s\n", path)
	record, err := svc.ProcessFile(ctx, usecase.ProcessRequest{
		Path:         path,
		FileName:     filepath.Base(path),
		Parser:       *parser,
		Model:        *model,
		Language:     *language,
		DocumentType: entity,
	})
	if err != nil {
		return err
	}

	if *show {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}
	fmt.Fprintf(stderr, "extracted %s from %s\n", record.DocumentType(), path)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
