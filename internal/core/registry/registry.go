// Package registry maps provider names to parser, classifier and extractor
// implementations. A Registry is assembled once at startup through a Builder
// and is read-only afterwards.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
)

// ParserFactory binds a parser provider to one file and language.
type ParserFactory func(path, language string) (ports.DocumentParser, error)

type ClassifierFactory func() ports.DocumentClassifier

type ExtractorFactory func() ports.RecordExtractor

type extractorKey struct {
	model   string
	docType domain.DocumentType
}

type Builder struct {
	parsers     map[string]ParserFactory
	classifiers map[string]ClassifierFactory
	extractors  map[extractorKey]ExtractorFactory
	persisters  map[domain.DocumentType]ports.RecordPersister
	schemas     map[domain.DocumentType]Schema
	errs        []error
}

func NewBuilder() *Builder {
	return &Builder{
		parsers:     make(map[string]ParserFactory),
		classifiers: make(map[string]ClassifierFactory),
		extractors:  make(map[extractorKey]ExtractorFactory),
		persisters:  make(map[domain.DocumentType]ports.RecordPersister),
		schemas:     make(map[domain.DocumentType]Schema),
	}
}

func (b *Builder) Parser(name string, factory ParserFactory) *Builder {
	name = normalizeKey(name)
	switch {
	case name == "" || factory == nil:
		b.errs = append(b.errs, fmt.Errorf("parser %q: empty name or nil factory", name))
	case b.parsers[name] != nil:
		b.errs = append(b.errs, fmt.Errorf("parser %q registered twice", name))
	default:
		b.parsers[name] = factory
	}
	return b
}

func (b *Builder) Classifier(model string, factory ClassifierFactory) *Builder {
	model = normalizeKey(model)
	switch {
	case model == "" || factory == nil:
		b.errs = append(b.errs, fmt.Errorf("classifier %q: empty name or nil factory", model))
	case b.classifiers[model] != nil:
		b.errs = append(b.errs, fmt.Errorf("classifier %q registered twice", model))
	default:
		b.classifiers[model] = factory
	}
	return b
}

func (b *Builder) Extractor(model string, docType domain.DocumentType, factory ExtractorFactory) *Builder {
	key := extractorKey{model: normalizeKey(model), docType: docType}
	switch {
	case key.model == "" || factory == nil:
		b.errs = append(b.errs, fmt.Errorf("extractor %q/%s: empty name or nil factory", key.model, docType))
	case docType != domain.DocumentOrder && docType != domain.DocumentInvoice:
		b.errs = append(b.errs, fmt.Errorf("extractor %q: unsupported entity %q", key.model, docType))
	case b.extractors[key] != nil:
		b.errs = append(b.errs, fmt.Errorf("extractor %q/%s registered twice", key.model, docType))
	default:
		b.extractors[key] = factory
	}
	return b
}

func (b *Builder) Persister(docType domain.DocumentType, persister ports.RecordPersister) *Builder {
	switch {
	case persister == nil:
		b.errs = append(b.errs, fmt.Errorf("persister %s: nil", docType))
	case b.persisters[docType] != nil:
		b.errs = append(b.errs, fmt.Errorf("persister %s registered twice", docType))
	default:
		b.persisters[docType] = persister
	}
	return b
}

func (b *Builder) Schema(schema Schema) *Builder {
	if err := schema.validate(); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if _, ok := b.schemas[schema.DocumentType]; ok {
		b.errs = append(b.errs, fmt.Errorf("schema %s registered twice", schema.DocumentType))
		return b
	}
	b.schemas[schema.DocumentType] = schema
	return b
}

// Build freezes the collected tables. The builder must not be reused.
func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("build registry: %w", errors.Join(b.errs...))
	}
	return &Registry{
		parsers:     b.parsers,
		classifiers: b.classifiers,
		extractors:  b.extractors,
		persisters:  b.persisters,
		schemas:     b.schemas,
	}, nil
}

type Registry struct {
	parsers     map[string]ParserFactory
	classifiers map[string]ClassifierFactory
	extractors  map[extractorKey]ExtractorFactory
	persisters  map[domain.DocumentType]ports.RecordPersister
	schemas     map[domain.DocumentType]Schema
}

// CheckParser reports an unknown parser name without binding a file.
func (r *Registry) CheckParser(name string) error {
	if _, ok := r.parsers[normalizeKey(name)]; !ok {
		return unknown("parser", fmt.Sprintf("unknown parser: %s", name))
	}
	return nil
}

// Parser resolves the factory for name and binds it to path. An unknown name
// fails before the factory, and therefore any file access, runs.
func (r *Registry) Parser(name, path, language string) (ports.DocumentParser, error) {
	if err := r.CheckParser(name); err != nil {
		return nil, err
	}
	return r.parsers[normalizeKey(name)](path, language)
}

func (r *Registry) CheckModel(model string) error {
	if _, ok := r.classifiers[normalizeKey(model)]; !ok {
		return unknown("model", fmt.Sprintf("unknown model: %s", model))
	}
	return nil
}

func (r *Registry) Classifier(model string) (ports.DocumentClassifier, error) {
	if err := r.CheckModel(model); err != nil {
		return nil, err
	}
	return r.classifiers[normalizeKey(model)](), nil
}

func (r *Registry) Extractor(model string, docType domain.DocumentType) (ports.RecordExtractor, error) {
	factory, ok := r.extractors[extractorKey{model: normalizeKey(model), docType: docType}]
	if !ok {
		return nil, unknown("extractor", fmt.Sprintf("unknown extractor: model=%s entity=%s", model, docType))
	}
	return factory(), nil
}

// ExtractorsFor returns a resolver bound to one model provider, used when the
// document type is only known after classification.
func (r *Registry) ExtractorsFor(model string) func(domain.DocumentType) (ports.RecordExtractor, error) {
	return func(docType domain.DocumentType) (ports.RecordExtractor, error) {
		return r.Extractor(model, docType)
	}
}

func (r *Registry) Persister(docType domain.DocumentType) (ports.RecordPersister, error) {
	persister, ok := r.persisters[docType]
	if !ok {
		return nil, unknown("persister", fmt.Sprintf("no create function for entity: %s", docType))
	}
	return persister, nil
}

func (r *Registry) Schema(docType domain.DocumentType) (Schema, error) {
	schema, ok := r.schemas[docType]
	if !ok {
		return Schema{}, unknown("schema", fmt.Sprintf("no schema for entity: %s", docType))
	}
	return schema, nil
}

func (r *Registry) ParserNames() []string {
	return sortedKeys(r.parsers)
}

func (r *Registry) ModelNames() []string {
	return sortedKeys(r.classifiers)
}

func unknown(kind, message string) error {
	return domain.WrapError(domain.ErrUnknownProvider, "resolve "+kind, errors.New(message))
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
