package postgres

import (
	"database/sql"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

func NewOrderRepository(db *sql.DB) *RecordRepository[*domain.Order] {
	return &RecordRepository[*domain.Order]{db: db, t: orderTable}
}

func NewInvoiceRepository(db *sql.DB) *RecordRepository[*domain.Invoice] {
	return &RecordRepository[*domain.Invoice]{db: db, t: invoiceTable}
}

var orderTable = recordTable[*domain.Order]{
	table:     "orders",
	lineTable: "order_lines",
	lineFK:    "order_id",
	columns: []string{
		"id", "customer_name", "customer_address", "invoice_number", "order_date", "due_date",
		"total_excl_vat", "currency", "vat", "total_incl_vat", "status", "file_name", "created_by", "created_at",
	},
	lineColumns: []string{"product_code", "description", "quantity", "unit_price", "subtotal"},
	sortable: map[string]string{
		"customer_name":  "customer_name",
		"invoice_number": "invoice_number",
		"order_date":     "order_date",
		"due_date":       "due_date",
		"total_excl_vat": "total_excl_vat",
		"total_incl_vat": "total_incl_vat",
		"status":         "status",
		"created_at":     "created_at",
	},
	searchable: []string{"customer_name", "customer_address", "invoice_number"},

	newRecord: func() *domain.Order { return &domain.Order{} },
	values: func(o *domain.Order) []any {
		return []any{
			o.ID, o.CustomerName, o.CustomerAddress, o.InvoiceNumber, o.OrderDate, o.DueDate,
			o.TotalExclVAT, string(o.Currency), o.VAT, o.TotalInclVAT, string(o.Status), o.FileName, o.CreatedBy, o.CreatedAt,
		}
	},
	fields: func(o *domain.Order) []any {
		return []any{
			&o.ID, &o.CustomerName, &o.CustomerAddress, &o.InvoiceNumber, &o.OrderDate, &o.DueDate,
			&o.TotalExclVAT, &o.Currency, &o.VAT, &o.TotalInclVAT, &o.Status, &o.FileName, &o.CreatedBy, &o.CreatedAt,
		}
	},
	lineValues: func(o *domain.Order) [][]any {
		out := make([][]any, len(o.Lines))
		for i, line := range o.Lines {
			out[i] = []any{line.ProductCode, line.Description, line.Quantity, line.UnitPrice, line.Subtotal}
		}
		return out
	},
	scanLine: func(row rowScanner, byID map[string]*domain.Order) error {
		var orderID string
		var line domain.OrderLine
		if err := row.Scan(&orderID, &line.ProductCode, &line.Description, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return err
		}
		if order, ok := byID[orderID]; ok {
			order.Lines = append(order.Lines, line)
		}
		return nil
	},
}

var invoiceTable = recordTable[*domain.Invoice]{
	table:     "invoices",
	lineTable: "invoice_lines",
	lineFK:    "invoice_id",
	columns: []string{
		"id", "supplier_name", "supplier_address", "supplier_vat_number", "invoice_number", "invoice_date", "due_date",
		"total_excl_vat", "currency", "vat", "total_incl_vat", "status", "file_name", "created_by", "created_at",
	},
	lineColumns: []string{"description", "quantity", "unit_price", "subtotal"},
	sortable: map[string]string{
		"supplier_name":  "supplier_name",
		"invoice_number": "invoice_number",
		"invoice_date":   "invoice_date",
		"due_date":       "due_date",
		"total_excl_vat": "total_excl_vat",
		"total_incl_vat": "total_incl_vat",
		"status":         "status",
		"created_at":     "created_at",
	},
	searchable: []string{"supplier_name", "supplier_address", "supplier_vat_number", "invoice_number"},

	newRecord: func() *domain.Invoice { return &domain.Invoice{} },
	values: func(i *domain.Invoice) []any {
		return []any{
			i.ID, i.SupplierName, i.SupplierAddress, i.SupplierVATNumber, i.InvoiceNumber, i.InvoiceDate, i.DueDate,
			i.TotalExclVAT, string(i.Currency), i.VAT, i.TotalInclVAT, string(i.Status), i.FileName, i.CreatedBy, i.CreatedAt,
		}
	},
	fields: func(i *domain.Invoice) []any {
		return []any{
			&i.ID, &i.SupplierName, &i.SupplierAddress, &i.SupplierVATNumber, &i.InvoiceNumber, &i.InvoiceDate, &i.DueDate,
			&i.TotalExclVAT, &i.Currency, &i.VAT, &i.TotalInclVAT, &i.Status, &i.FileName, &i.CreatedBy, &i.CreatedAt,
		}
	},
	lineValues: func(i *domain.Invoice) [][]any {
		out := make([][]any, len(i.Lines))
		for idx, line := range i.Lines {
			out[idx] = []any{line.Description, line.Quantity, line.UnitPrice, line.Subtotal}
		}
		return out
	},
	scanLine: func(row rowScanner, byID map[string]*domain.Invoice) error {
		var invoiceID string
		var line domain.InvoiceLine
		if err := row.Scan(&invoiceID, &line.Description, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return err
		}
		if invoice, ok := byID[invoiceID]; ok {
			invoice.Lines = append(invoice.Lines, line)
		}
		return nil
	},
}
