package adapters

import "context"

// DBAdapter defines the interface for database operations needed by the
// catalog store. Reads outside a transaction (the resync path) go through
// Query; every mutation runs inside a DBTx.
type DBAdapter interface {
	Query(ctx context.Context, query string) (DBRows, error)
	BeginTx(ctx context.Context) (DBTx, error)
}

// DBTx defines the interface for an open database transaction.
type DBTx interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
