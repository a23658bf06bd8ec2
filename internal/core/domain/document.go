package domain

import (
	"fmt"
	"strings"
	"time"
)

type DocumentType string

const (
	DocumentOrder   DocumentType = "order"
	DocumentInvoice DocumentType = "invoice"
	DocumentUnknown DocumentType = "unknown"
)

func ParseDocumentType(raw string) (DocumentType, error) {
	switch DocumentType(strings.ToLower(strings.TrimSpace(raw))) {
	case DocumentOrder:
		return DocumentOrder, nil
	case DocumentInvoice:
		return DocumentInvoice, nil
	case DocumentUnknown:
		return DocumentUnknown, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse document type", fmt.Errorf("unknown entity %q", raw))
	}
}

type RecordStatus string

const (
	RecordToAccept    RecordStatus = "to_accept"
	RecordAccepted    RecordStatus = "accepted"
	RecordArchived    RecordStatus = "archived"
	RecordDeleted     RecordStatus = "deleted"
	RecordRejected    RecordStatus = "rejected"
	RecordNeedsReview RecordStatus = "needs_review"
)

var RecordStatuses = []RecordStatus{
	RecordToAccept,
	RecordAccepted,
	RecordArchived,
	RecordDeleted,
	RecordRejected,
	RecordNeedsReview,
}

func (s RecordStatus) Valid() bool {
	for _, known := range RecordStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type Currency string

var Currencies = []Currency{"EUR", "USD", "GBP", "JPY", "CNY", "AUD", "CAD", "INR"}

func (c Currency) Valid() bool {
	for _, known := range Currencies {
		if c == known {
			return true
		}
	}
	return false
}

// LineTotaler is the capability the line-total rule checks.
type LineTotaler interface {
	LineSubtotals() []float64
	ExclVATTotal() float64
}

// Record is the closed set of structured documents the pipeline produces:
// *Order and *Invoice.
type Record interface {
	LineTotaler
	DocumentType() DocumentType
	RecordID() string
	Owner() string
	Stamp(id, fileName, createdBy string, status RecordStatus, createdAt time.Time)
}

type OrderLine struct {
	ProductCode string  `json:"product_code"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
}

type Order struct {
	ID              string       `json:"id,omitempty"`
	CustomerName    string       `json:"customer_name"`
	CustomerAddress string       `json:"customer_address"`
	InvoiceNumber   string       `json:"invoice_number"`
	OrderDate       string       `json:"order_date"`
	DueDate         string       `json:"due_date"`
	TotalExclVAT    float64      `json:"total_excl_vat"`
	Currency        Currency     `json:"currency"`
	VAT             float64      `json:"vat"`
	TotalInclVAT    float64      `json:"total_incl_vat"`
	Status          RecordStatus `json:"status,omitempty"`
	Lines           []OrderLine  `json:"lines"`
	FileName        string       `json:"file_name,omitempty"`
	CreatedBy       string       `json:"created_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

func (o *Order) DocumentType() DocumentType { return DocumentOrder }
func (o *Order) RecordID() string           { return o.ID }
func (o *Order) Owner() string              { return o.CreatedBy }
func (o *Order) ExclVATTotal() float64      { return o.TotalExclVAT }

func (o *Order) LineSubtotals() []float64 {
	out := make([]float64, len(o.Lines))
	for i, line := range o.Lines {
		out[i] = line.Subtotal
	}
	return out
}

func (o *Order) Stamp(id, fileName, createdBy string, status RecordStatus, createdAt time.Time) {
	o.ID = id
	o.FileName = fileName
	o.CreatedBy = createdBy
	o.Status = status
	o.CreatedAt = createdAt
}

type InvoiceLine struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
}

type Invoice struct {
	ID                string        `json:"id,omitempty"`
	SupplierName      string        `json:"supplier_name"`
	SupplierAddress   string        `json:"supplier_address"`
	SupplierVATNumber string        `json:"supplier_vat_number"`
	InvoiceNumber     string        `json:"invoice_number"`
	InvoiceDate       string        `json:"invoice_date"`
	DueDate           string        `json:"due_date"`
	TotalExclVAT      float64       `json:"total_excl_vat"`
	Currency          Currency      `json:"currency"`
	VAT               float64       `json:"vat"`
	TotalInclVAT      float64       `json:"total_incl_vat"`
	Status            RecordStatus  `json:"status,omitempty"`
	Lines             []InvoiceLine `json:"lines"`
	FileName          string        `json:"file_name,omitempty"`
	CreatedBy         string        `json:"created_by,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

func (i *Invoice) DocumentType() DocumentType { return DocumentInvoice }
func (i *Invoice) RecordID() string           { return i.ID }
func (i *Invoice) Owner() string              { return i.CreatedBy }
func (i *Invoice) ExclVATTotal() float64      { return i.TotalExclVAT }

func (i *Invoice) LineSubtotals() []float64 {
	out := make([]float64, len(i.Lines))
	for idx, line := range i.Lines {
		out[idx] = line.Subtotal
	}
	return out
}

func (i *Invoice) Stamp(id, fileName, createdBy string, status RecordStatus, createdAt time.Time) {
	i.ID = id
	i.FileName = fileName
	i.CreatedBy = createdBy
	i.Status = status
	i.CreatedAt = createdAt
}

// IDPrefix returns the id prefix used for records of type t.
func (t DocumentType) IDPrefix() string {
	switch t {
	case DocumentOrder:
		return PrefixOrder
	case DocumentInvoice:
		return PrefixInvoice
	default:
		return ""
	}
}

type RecordQuery struct {
	Owner     User
	Page      int
	PerPage   int
	SortBy    string
	SortOrder string
	Search    string
}

func (q RecordQuery) Normalize() RecordQuery {
	out := q
	if out.Page < 1 {
		out.Page = 1
	}
	if out.PerPage < 1 {
		out.PerPage = 50
	}
	if out.PerPage > 100 {
		out.PerPage = 100
	}
	if out.SortOrder != "desc" {
		out.SortOrder = "asc"
	}
	return out
}

type Page[T any] struct {
	TotalPages  int `json:"total_pages"`
	TotalItems  int `json:"total_items"`
	CurrentPage int `json:"current_page"`
	Items       []T `json:"items"`
}

func NewPage[T any](items []T, total, page, perPage int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return Page[T]{
		TotalPages:  pages,
		TotalItems:  total,
		CurrentPage: page,
		Items:       items,
	}
}

// StatusCounts maps every record status to its count plus "total".
type StatusCounts map[string]int
