package sqliteengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
    item_id TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
    username TEXT PRIMARY KEY,
    version  INTEGER NOT NULL,
    payload  TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS items_title_idx
    ON items (json_extract(payload, '$.title'));
`

// Open opens a SQLite database connection and configures pragmas.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	return db, nil
}

// EnsureSchema creates both tables if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// CatalogStore implements the catalogstore contract on SQLite.
type CatalogStore struct {
	db     *sql.DB
	logger catalogstore.Logger
}

// NewCatalogStore creates a new CatalogStore on an open SQLite connection.
func NewCatalogStore(db *sql.DB, options ...Option) (*CatalogStore, error) {
	if db == nil {
		return nil, catalogstore.ErrNilDatabaseConnection
	}

	cs := &CatalogStore{db: db}

	for _, option := range options {
		if err := option(cs); err != nil {
			return nil, err
		}
	}

	return cs, nil
}

// Option defines a functional option for configuring the CatalogStore.
type Option func(*CatalogStore) error

// WithLogger sets a logger for store-internal warnings and errors.
func WithLogger(logger catalogstore.Logger) Option {
	return func(cs *CatalogStore) error {
		cs.logger = logger
		return nil
	}
}

// BeginTx opens a new read/write transaction.
func (cs *CatalogStore) BeginTx(ctx context.Context) (catalogstore.Tx, error) {
	dbTx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return &sqliteTx{store: cs, dbTx: dbTx}, nil
}

// ReadAll returns the latest committed items and accounts without opening a
// write transaction.
func (cs *CatalogStore) ReadAll(ctx context.Context) (catalogstore.CatalogSnapshot, error) {
	var empty catalogstore.CatalogSnapshot

	items, err := readItems(ctx, cs.db.QueryContext)
	if err != nil {
		return empty, err
	}

	accounts, err := readAccounts(ctx, cs.db.QueryContext)
	if err != nil {
		return empty, err
	}

	return catalogstore.CatalogSnapshot{Items: items, Accounts: accounts}, nil
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func readItems(ctx context.Context, query queryFunc) ([]catalogstore.StoredItem, error) {
	rows, err := query(ctx, `SELECT payload, version FROM items`)
	if err != nil {
		return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}
	defer rows.Close()

	items := make([]catalogstore.StoredItem, 0)

	for rows.Next() {
		var payload []byte
		var version int64

		if scanErr := rows.Scan(&payload, &version); scanErr != nil {
			return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, scanErr)
		}

		doc, decodeErr := catalogstore.UnmarshalItemDocument(payload)
		if decodeErr != nil {
			return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, decodeErr)
		}

		items = append(items, catalogstore.StoredItem{Doc: doc, Version: catalogstore.VersionUint(version)})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Doc.Title != items[j].Doc.Title {
			return items[i].Doc.Title < items[j].Doc.Title
		}
		return items[i].Doc.ID < items[j].Doc.ID
	})

	return items, nil
}

func readAccounts(ctx context.Context, query queryFunc) ([]catalogstore.StoredAccount, error) {
	rows, err := query(ctx, `SELECT payload, version FROM accounts ORDER BY username`)
	if err != nil {
		return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}
	defer rows.Close()

	accounts := make([]catalogstore.StoredAccount, 0)

	for rows.Next() {
		var payload []byte
		var version int64

		if scanErr := rows.Scan(&payload, &version); scanErr != nil {
			return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, scanErr)
		}

		doc, decodeErr := catalogstore.UnmarshalAccountDocument(payload)
		if decodeErr != nil {
			return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, decodeErr)
		}

		accounts = append(accounts, catalogstore.StoredAccount{Doc: doc, Version: catalogstore.VersionUint(version)})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}

	return accounts, nil
}

// isWriteConflict maps SQLITE_BUSY (a concurrent writer held the database
// past the busy timeout) and constraint violations (an insert raced on the
// primary key) to the store contract's conflict signal.
func isWriteConflict(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_CONSTRAINT
	}

	return false
}
