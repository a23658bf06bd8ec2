package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// column renders one cell of a record or line row.
type column[T any] struct {
	header string
	width  float64
	value  func(T) any
}

// Exporter writes records to a workbook with a header sheet and a lines sheet.
type Exporter[T domain.Record] struct {
	sheet      string
	linesSheet string
	columns    []column[T]
	lineHeader []string
	lines      func(T) [][]any
	logger     *slog.Logger
}

func (e *Exporter[T]) Export(ctx context.Context, records []T) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", e.sheet); err != nil {
		return nil, fmt.Errorf("xlsx rename sheet: %w", err)
	}
	if _, err := f.NewSheet(e.linesSheet); err != nil {
		return nil, fmt.Errorf("xlsx new sheet: %w", err)
	}

	headers := make([]any, 0, len(e.columns))
	for i, col := range e.columns {
		headers = append(headers, col.header)
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(e.sheet, name, name, col.width); err != nil {
			return nil, fmt.Errorf("xlsx column width: %w", err)
		}
	}
	if err := f.SetSheetRow(e.sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("xlsx header row: %w", err)
	}

	lineHeaders := make([]any, 0, len(e.lineHeader)+1)
	lineHeaders = append(lineHeaders, "Record ID")
	for _, h := range e.lineHeader {
		lineHeaders = append(lineHeaders, h)
	}
	if err := f.SetSheetRow(e.linesSheet, "A1", &lineHeaders); err != nil {
		return nil, fmt.Errorf("xlsx line header row: %w", err)
	}

	lineRow := 2
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values := make([]any, len(e.columns))
		for c, col := range e.columns {
			values[c] = col.value(record)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(e.sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("xlsx record row: %w", err)
		}

		for _, line := range e.lines(record) {
			row := append([]any{record.RecordID()}, line...)
			cell, _ := excelize.CoordinatesToCellName(1, lineRow)
			if err := f.SetSheetRow(e.linesSheet, cell, &row); err != nil {
				return nil, fmt.Errorf("xlsx line row: %w", err)
			}
			lineRow++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("export_xlsx_ok",
		"sheet", e.sheet,
		"rows", len(records),
		"lines", lineRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func NewOrderExporter(logger *slog.Logger) *Exporter[*domain.Order] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter[*domain.Order]{
		sheet:      "Orders",
		linesSheet: "Order Lines",
		columns: []column[*domain.Order]{
			{header: "ID", width: 30, value: func(o *domain.Order) any { return o.ID }},
			{header: "Customer", width: 28, value: func(o *domain.Order) any { return o.CustomerName }},
			{header: "Address", width: 40, value: func(o *domain.Order) any { return o.CustomerAddress }},
			{header: "Invoice Number", width: 18, value: func(o *domain.Order) any { return o.InvoiceNumber }},
			{header: "Order Date", width: 14, value: func(o *domain.Order) any { return o.OrderDate }},
			{header: "Due Date", width: 14, value: func(o *domain.Order) any { return o.DueDate }},
			{header: "Total excl. VAT", width: 16, value: func(o *domain.Order) any { return o.TotalExclVAT }},
			{header: "VAT", width: 12, value: func(o *domain.Order) any { return o.VAT }},
			{header: "Total incl. VAT", width: 16, value: func(o *domain.Order) any { return o.TotalInclVAT }},
			{header: "Currency", width: 10, value: func(o *domain.Order) any { return string(o.Currency) }},
			{header: "Status", width: 14, value: func(o *domain.Order) any { return string(o.Status) }},
			{header: "File", width: 30, value: func(o *domain.Order) any { return o.FileName }},
			{header: "Created At", width: 22, value: func(o *domain.Order) any { return o.CreatedAt.UTC().Format(time.RFC3339) }},
		},
		lineHeader: []string{"Product Code", "Description", "Quantity", "Unit Price", "Subtotal"},
		lines: func(o *domain.Order) [][]any {
			out := make([][]any, len(o.Lines))
			for i, l := range o.Lines {
				out[i] = []any{l.ProductCode, l.Description, l.Quantity, l.UnitPrice, l.Subtotal}
			}
			return out
		},
		logger: logger,
	}
}

func NewInvoiceExporter(logger *slog.Logger) *Exporter[*domain.Invoice] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter[*domain.Invoice]{
		sheet:      "Invoices",
		linesSheet: "Invoice Lines",
		columns: []column[*domain.Invoice]{
			{header: "ID", width: 30, value: func(i *domain.Invoice) any { return i.ID }},
			{header: "Supplier", width: 28, value: func(i *domain.Invoice) any { return i.SupplierName }},
			{header: "Address", width: 40, value: func(i *domain.Invoice) any { return i.SupplierAddress }},
			{header: "VAT Number", width: 18, value: func(i *domain.Invoice) any { return i.SupplierVATNumber }},
			{header: "Invoice Number", width: 18, value: func(i *domain.Invoice) any { return i.InvoiceNumber }},
			{header: "Invoice Date", width: 14, value: func(i *domain.Invoice) any { return i.InvoiceDate }},
			{header: "Due Date", width: 14, value: func(i *domain.Invoice) any { return i.DueDate }},
			{header: "Total excl. VAT", width: 16, value: func(i *domain.Invoice) any { return i.TotalExclVAT }},
			{header: "VAT", width: 12, value: func(i *domain.Invoice) any { return i.VAT }},
			{header: "Total incl. VAT", width: 16, value: func(i *domain.Invoice) any { return i.TotalInclVAT }},
			{header: "Currency", width: 10, value: func(i *domain.Invoice) any { return string(i.Currency) }},
			{header: "Status", width: 14, value: func(i *domain.Invoice) any { return string(i.Status) }},
			{header: "File", width: 30, value: func(i *domain.Invoice) any { return i.FileName }},
			{header: "Created At", width: 22, value: func(i *domain.Invoice) any { return i.CreatedAt.UTC().Format(time.RFC3339) }},
		},
		lineHeader: []string{"Description", "Quantity", "Unit Price", "Subtotal"},
		lines: func(i *domain.Invoice) [][]any {
			out := make([][]any, len(i.Lines))
			for idx, l := range i.Lines {
				out[idx] = []any{l.Description, l.Quantity, l.UnitPrice, l.Subtotal}
			}
			return out
		},
		logger: logger,
	}
}
