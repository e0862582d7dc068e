package adapters

import (
	"context"
	"database/sql"
	"errors"
)

// SQLAdapter implements DBAdapter for the standard library sql.DB.
type SQLAdapter struct {
	db *sql.DB
}

// NewSQLAdapter creates a new standard library SQL adapter.
func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

// Query executes a read outside any transaction.
func (s *SQLAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// BeginTx opens a new transaction.
func (s *SQLAdapter) BeginTx(ctx context.Context) (DBTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &stdTx{tx: tx}, nil
}

// stdTx wraps sql.Tx to implement the DBTx interface.
type stdTx struct {
	tx *sql.Tx
}

// Query executes a query inside the transaction.
func (s *stdTx) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// Exec executes a statement inside the transaction.
func (s *stdTx) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.tx.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

// Commit commits the transaction.
func (s *stdTx) Commit(_ context.Context) error {
	return s.tx.Commit()
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (s *stdTx) Rollback(_ context.Context) error {
	err := s.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}

	return nil
}

// stdRows wraps standard library sql.Rows to implement the DBRows interface.
type stdRows struct {
	rows *sql.Rows
}

// Next advances to the next row.
func (s *stdRows) Next() bool {
	return s.rows.Next()
}

// Scan copies row values into provided destinations.
func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

// Close closes the rows iterator.
func (s *stdRows) Close() error {
	return s.rows.Close()
}

// stdResult wraps standard library sql.Result to implement the DBResult interface.
type stdResult struct {
	result sql.Result
}

// RowsAffected returns the number of rows affected by the command.
func (s *stdResult) RowsAffected() (int64, error) {
	return s.result.RowsAffected()
}
