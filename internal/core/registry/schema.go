package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// Schema describes the structured output expected from an extractor for one
// document type.
type Schema struct {
	DocumentType domain.DocumentType
	Name         string
	Definition   map[string]any
	New          func() domain.Record

	compiled *jsonschema.Schema
}

func NewSchema(docType domain.DocumentType, name string, definition map[string]any, newRecord func() domain.Record) (Schema, error) {
	s := Schema{DocumentType: docType, Name: name, Definition: definition, New: newRecord}
	raw, err := json.Marshal(definition)
	if err != nil {
		return Schema{}, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return Schema{}, fmt.Errorf("add schema %s: %w", name, err)
	}
	s.compiled, err = compiler.Compile(resource)
	if err != nil {
		return Schema{}, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return s, nil
}

// Validate checks raw JSON against the compiled definition.
func (s Schema) Validate(data []byte) error {
	if s.compiled == nil {
		return fmt.Errorf("schema %s is not compiled", s.Name)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema %s: %w", s.Name, err)
	}
	return nil
}

// Decode fills record from data that already passed Validate. Integral
// numbers written as 3.0 or 3e0 are accepted for integer fields.
func (s Schema) Decode(data []byte, record domain.Record) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Name, err)
	}
	canonical, err := json.Marshal(integralNumbers(v))
	if err != nil {
		return fmt.Errorf("decode %s: %w", s.Name, err)
	}
	if err := json.Unmarshal(canonical, record); err != nil {
		return fmt.Errorf("decode %s: %w", s.Name, err)
	}
	return nil
}

func integralNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = integralNumbers(item)
		}
	case []any:
		for i, item := range t {
			t[i] = integralNumbers(item)
		}
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return t
		}
		f, err := t.Float64()
		if err == nil && f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
			return json.Number(strconv.FormatInt(int64(f), 10))
		}
	}
	return v
}

func (s Schema) validate() error {
	switch {
	case s.DocumentType != domain.DocumentOrder && s.DocumentType != domain.DocumentInvoice:
		return fmt.Errorf("schema %q: unsupported entity %q", s.Name, s.DocumentType)
	case s.New == nil:
		return fmt.Errorf("schema %q: nil constructor", s.Name)
	case s.compiled == nil:
		return fmt.Errorf("schema %q: build it with NewSchema", s.Name)
	}
	return nil
}

// DefaultSchemas returns the order and invoice schemas.
func DefaultSchemas() ([]Schema, error) {
	order, err := NewSchema(domain.DocumentOrder, "order", OrderSchema(), func() domain.Record { return &domain.Order{} })
	if err != nil {
		return nil, err
	}
	invoice, err := NewSchema(domain.DocumentInvoice, "invoice", InvoiceSchema(), func() domain.Record { return &domain.Invoice{} })
	if err != nil {
		return nil, err
	}
	return []Schema{order, invoice}, nil
}

func OrderSchema() map[string]any {
	line := object(map[string]any{
		"product_code": stringProp(),
		"description":  stringProp(),
		"quantity":     quantityProp(),
		"unit_price":   numberProp(),
		"subtotal":     numberProp(),
	})
	return object(map[string]any{
		"customer_name":    stringProp(),
		"customer_address": stringProp(),
		"invoice_number":   stringProp(),
		"order_date":       stringProp(),
		"due_date":         stringProp(),
		"total_excl_vat":   numberProp(),
		"currency":         currencyProp(),
		"vat":              numberProp(),
		"total_incl_vat":   numberProp(),
		"lines":            map[string]any{"type": "array", "items": line},
	})
}

func InvoiceSchema() map[string]any {
	line := object(map[string]any{
		"description": stringProp(),
		"quantity":    quantityProp(),
		"unit_price":  numberProp(),
		"subtotal":    numberProp(),
	})
	return object(map[string]any{
		"supplier_name":       stringProp(),
		"supplier_address":    stringProp(),
		"supplier_vat_number": stringProp(),
		"invoice_number":      stringProp(),
		"invoice_date":        stringProp(),
		"due_date":            stringProp(),
		"total_excl_vat":      numberProp(),
		"currency":            currencyProp(),
		"vat":                 numberProp(),
		"total_incl_vat":      numberProp(),
		"lines":               map[string]any{"type": "array", "items": line},
	})
}

func quantityProp() map[string]any {
	return map[string]any{"type": "integer", "minimum": 0}
}

// object marks every property required, as strict structured output demands.
func object(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	sort.Strings(required)
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func stringProp() map[string]any { return map[string]any{"type": "string"} }
func numberProp() map[string]any { return map[string]any{"type": "number"} }

func currencyProp() map[string]any {
	values := make([]string, 0, len(domain.Currencies))
	for _, c := range domain.Currencies {
		values = append(values, string(c))
	}
	return map[string]any{"type": "string", "enum": values}
}
