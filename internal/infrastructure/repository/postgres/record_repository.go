package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// recordTable maps one record kind onto its header and line tables.
type recordTable[T domain.Record] struct {
	table       string
	lineTable   string
	lineFK      string
	columns     []string
	lineColumns []string
	sortable    map[string]string
	searchable  []string

	newRecord  func() T
	values     func(T) []any
	fields     func(T) []any
	lineValues func(T) [][]any
	// scanLine reads one line row (foreign key first) and attaches it to its record.
	scanLine func(row rowScanner, byID map[string]T) error
}

// RecordRepository stores records of one kind together with their lines.
type RecordRepository[T domain.Record] struct {
	db *sql.DB
	t  recordTable[T]
}

func (r *RecordRepository[T]) Create(ctx context.Context, record T) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", r.t.table, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s)\nVALUES (%s)",
		r.t.table, strings.Join(r.t.columns, ", "), placeholders(1, len(r.t.columns)),
	), r.t.values(record)...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.t.table, err)
	}

	lineColumns := append([]string{r.t.lineFK, "position"}, r.t.lineColumns...)
	insertLine := fmt.Sprintf(
		"INSERT INTO %s (%s)\nVALUES (%s)",
		r.t.lineTable, strings.Join(lineColumns, ", "), placeholders(1, len(lineColumns)),
	)
	for pos, values := range r.t.lineValues(record) {
		args := append([]any{record.RecordID(), pos}, values...)
		if _, err := tx.ExecContext(ctx, insertLine, args...); err != nil {
			return fmt.Errorf("insert %s: %w", r.t.lineTable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", r.t.table, err)
	}
	return nil
}

func (r *RecordRepository[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s\nFROM %s\nWHERE id = $1",
		strings.Join(r.t.columns, ", "), r.t.table,
	), id)

	record := r.t.newRecord()
	if err := row.Scan(r.t.fields(record)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, domain.WrapError(domain.ErrRecordNotFound, "get "+r.t.table, fmt.Errorf("id=%s", id))
		}
		return zero, fmt.Errorf("get %s by id: %w", r.t.table, err)
	}

	if err := r.loadLines(ctx, []string{id}, map[string]T{id: record}); err != nil {
		return zero, err
	}
	return record, nil
}

// List returns one page of records visible to query.Owner and the total
// number of matching rows.
func (r *RecordRepository[T]) List(ctx context.Context, query domain.RecordQuery) ([]T, int, error) {
	query = query.Normalize()

	sortColumn := "created_at"
	if query.SortBy != "" {
		column, ok := r.t.sortable[query.SortBy]
		if !ok {
			return nil, 0, domain.WrapError(domain.ErrInvalidInput, "list "+r.t.table, fmt.Errorf("unsupported sort field %q", query.SortBy))
		}
		sortColumn = column
	}
	direction := "ASC"
	if query.SortOrder == "desc" {
		direction = "DESC"
	}

	where, args := r.filter(query)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.t.table+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", r.t.table, err)
	}

	args = append(args, query.PerPage, (query.Page-1)*query.PerPage)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s\nFROM %s%s\nORDER BY %s %s, id ASC\nLIMIT $%d OFFSET $%d",
		strings.Join(r.t.columns, ", "), r.t.table, where, sortColumn, direction, len(args)-1, len(args),
	), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", r.t.table, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	ids := make([]string, 0)
	byID := make(map[string]T)
	for rows.Next() {
		record := r.t.newRecord()
		if err := rows.Scan(r.t.fields(record)...); err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", r.t.table, err)
		}
		out = append(out, record)
		ids = append(ids, record.RecordID())
		byID[record.RecordID()] = record
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate %s: %w", r.t.table, err)
	}

	if err := r.loadLines(ctx, ids, byID); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *RecordRepository[T]) UpdateStatus(ctx context.Context, id string, status domain.RecordStatus) error {
	result, err := r.db.ExecContext(ctx, "UPDATE "+r.t.table+"\nSET status = $2\nWHERE id = $1", id, string(status))
	if err != nil {
		return fmt.Errorf("update %s status: %w", r.t.table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s status rows affected: %w", r.t.table, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrRecordNotFound, "update "+r.t.table+" status", fmt.Errorf("id=%s", id))
	}
	return nil
}

func (r *RecordRepository[T]) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM "+r.t.table+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.t.table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s rows affected: %w", r.t.table, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrRecordNotFound, "delete "+r.t.table, fmt.Errorf("id=%s", id))
	}
	return nil
}

// CountByStatus reports every record status, including zero counts, plus "total".
func (r *RecordRepository[T]) CountByStatus(ctx context.Context, owner domain.User) (domain.StatusCounts, error) {
	query := "SELECT status, COUNT(*) FROM " + r.t.table
	args := make([]any, 0, 1)
	if !owner.IsAdmin() {
		query += " WHERE created_by = $1"
		args = append(args, owner.ID)
	}
	query += " GROUP BY status"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count %s by status: %w", r.t.table, err)
	}
	defer rows.Close()

	counts := make(domain.StatusCounts, len(domain.RecordStatuses)+1)
	for _, status := range domain.RecordStatuses {
		counts[string(status)] = 0
	}
	total := 0
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan %s status count: %w", r.t.table, err)
		}
		counts[status] += n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s status counts: %w", r.t.table, err)
	}
	counts["total"] = total
	return counts, nil
}

// filter builds the WHERE clause for owner scope and free-text search. Every
// search token must match at least one searchable column.
func (r *RecordRepository[T]) filter(query domain.RecordQuery) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if !query.Owner.IsAdmin() {
		args = append(args, query.Owner.ID)
		clauses = append(clauses, fmt.Sprintf("created_by = $%d", len(args)))
	}

	for _, token := range strings.Fields(query.Search) {
		args = append(args, "%"+likeEscaper.Replace(token)+"%")
		matches := make([]string, len(r.t.searchable))
		for i, column := range r.t.searchable {
			matches[i] = fmt.Sprintf("%s ILIKE $%d", column, len(args))
		}
		clauses = append(clauses, "("+strings.Join(matches, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "\nWHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *RecordRepository[T]) loadLines(ctx context.Context, ids []string, byID map[string]T) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s, %s\nFROM %s\nWHERE %s IN (%s)\nORDER BY %s, position",
		r.t.lineFK, strings.Join(r.t.lineColumns, ", "), r.t.lineTable,
		r.t.lineFK, placeholders(1, len(args)), r.t.lineFK,
	), args...)
	if err != nil {
		return fmt.Errorf("list %s: %w", r.t.lineTable, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := r.t.scanLine(rows, byID); err != nil {
			return fmt.Errorf("scan %s: %w", r.t.lineTable, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", r.t.lineTable, err)
	}
	return nil
}
