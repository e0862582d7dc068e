package adapters

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SQLXAdapter implements DBAdapter for sqlx.DB.
type SQLXAdapter struct {
	db *sqlx.DB
}

// NewSQLXAdapter creates a new SQLX adapter.
func NewSQLXAdapter(db *sqlx.DB) *SQLXAdapter {
	return &SQLXAdapter{db: db}
}

// Query executes a read outside any transaction.
func (s *SQLXAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// BeginTx opens a new transaction. sqlx transactions embed *sql.Tx, so the
// standard library transaction wrapper is reused.
func (s *SQLXAdapter) BeginTx(ctx context.Context) (DBTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &stdTx{tx: tx.Tx}, nil
}
