package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID = int64(2026101901)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates every table the intake service reads or writes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/cli startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'user'
);

CREATE TABLE IF NOT EXISTS processing_jobs (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_jobs_created_by ON processing_jobs(created_by);
CREATE INDEX IF NOT EXISTS idx_processing_jobs_created_at ON processing_jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	customer_name TEXT NOT NULL,
	customer_address TEXT NOT NULL,
	invoice_number TEXT NOT NULL,
	order_date TEXT NOT NULL,
	due_date TEXT NOT NULL,
	total_excl_vat DOUBLE PRECISION NOT NULL,
	currency TEXT NOT NULL,
	vat DOUBLE PRECISION NOT NULL,
	total_incl_vat DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	file_name TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_lines (
	order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	product_code TEXT NOT NULL,
	description TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	unit_price DOUBLE PRECISION NOT NULL,
	subtotal DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (order_id, position)
);

CREATE INDEX IF NOT EXISTS idx_orders_created_by ON orders(created_by);

CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	supplier_name TEXT NOT NULL,
	supplier_address TEXT NOT NULL,
	supplier_vat_number TEXT NOT NULL,
	invoice_number TEXT NOT NULL,
	invoice_date TEXT NOT NULL,
	due_date TEXT NOT NULL,
	total_excl_vat DOUBLE PRECISION NOT NULL,
	currency TEXT NOT NULL,
	vat DOUBLE PRECISION NOT NULL,
	total_incl_vat DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	file_name TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invoice_lines (
	invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	description TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	unit_price DOUBLE PRECISION NOT NULL,
	subtotal DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (invoice_id, position)
);

CREATE INDEX IF NOT EXISTS idx_invoices_created_by ON invoices(created_by);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// placeholders renders "$from, $from+1, ..." for n positional args.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(from+i)
	}
	return strings.Join(parts, ", ")
}
