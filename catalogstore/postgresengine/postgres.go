package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/catalogstore/postgresengine/internal/adapters"
)

const (
	defaultItemsTableName    = "items"
	defaultAccountsTableName = "accounts"

	logMsgBuildQueryFailed  = "failed to build sql query"
	logMsgDBQueryFailed     = "database query execution failed"
	logMsgDBExecFailed      = "database execution failed"
	logMsgCloseRowsFailed   = "failed to close database rows"
	logMsgScanRowFailed     = "failed to scan database row"
	logMsgDecodeDocFailed   = "failed to decode stored document"
	logMsgWriteConflict     = "write conflict detected"
	logMsgTxCommitted       = "transaction committed"
	logAttrError            = "error"
	logAttrKey              = "key"
	logAttrTable            = "table"
	logAttrExpectedVersion  = "expected_version"
	logAttrDurationMS       = "duration_ms"
	colItemID               = "item_id"
	colUsername             = "username"
	colVersion              = "version"
	colPayload              = "payload"
	castJsonb               = "?::jsonb"
	dialectPostgres         = "postgres"
	sqlstateSerialization   = "40001"
	sqlstateUniqueViolation = "23505"
)

type sqlQueryString = string

// CatalogStore implements the catalogstore contract on Postgres. It is safe
// for concurrent use; each transaction runs on its own connection from the
// underlying pool.
type CatalogStore struct {
	db                adapters.DBAdapter
	itemsTableName    string
	accountsTableName string
	logger            catalogstore.Logger
	contextualLogger  catalogstore.ContextualLogger
}

// NewCatalogStoreFromPGXPool creates a new CatalogStore using a pgx pool
// with optional configuration.
func NewCatalogStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*CatalogStore, error) {
	if db == nil {
		return nil, catalogstore.ErrNilDatabaseConnection
	}

	return buildCatalogStore(adapters.NewPGXAdapter(db), options...)
}

// NewCatalogStoreFromSQLDB creates a new CatalogStore using a sql.DB
// with optional configuration.
func NewCatalogStoreFromSQLDB(db *sql.DB, options ...Option) (*CatalogStore, error) {
	if db == nil {
		return nil, catalogstore.ErrNilDatabaseConnection
	}

	return buildCatalogStore(adapters.NewSQLAdapter(db), options...)
}

// NewCatalogStoreFromSQLX creates a new CatalogStore using a sqlx.DB
// with optional configuration.
func NewCatalogStoreFromSQLX(db *sqlx.DB, options ...Option) (*CatalogStore, error) {
	if db == nil {
		return nil, catalogstore.ErrNilDatabaseConnection
	}

	return buildCatalogStore(adapters.NewSQLXAdapter(db), options...)
}

func buildCatalogStore(db adapters.DBAdapter, options ...Option) (*CatalogStore, error) {
	cs := &CatalogStore{
		db:                db,
		itemsTableName:    defaultItemsTableName,
		accountsTableName: defaultAccountsTableName,
	}

	for _, option := range options {
		if err := option(cs); err != nil {
			return nil, err
		}
	}

	return cs, nil
}

// BeginTx opens a new read/write transaction.
func (cs *CatalogStore) BeginTx(ctx context.Context) (catalogstore.Tx, error) {
	dbTx, err := cs.db.BeginTx(ctx)
	if err != nil {
		cs.logError(ctx, logMsgDBExecFailed, logAttrError, err.Error())
		return nil, errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return &pgTx{store: cs, dbTx: dbTx}, nil
}

// ReadAll returns the latest committed items and accounts without opening a
// write transaction. This is the resync primitive of the reconciliation loop.
func (cs *CatalogStore) ReadAll(ctx context.Context) (catalogstore.CatalogSnapshot, error) {
	var empty catalogstore.CatalogSnapshot

	start := time.Now()

	items, err := cs.readItems(ctx, cs.db.Query)
	if err != nil {
		return empty, err
	}

	accounts, err := cs.readAccounts(ctx, cs.db.Query)
	if err != nil {
		return empty, err
	}

	cs.logDebug(ctx, logMsgTxCommitted, logAttrDurationMS, time.Since(start).Milliseconds())

	return catalogstore.CatalogSnapshot{Items: items, Accounts: accounts}, nil
}

type queryFunc func(ctx context.Context, query string) (adapters.DBRows, error)

func (cs *CatalogStore) readItems(ctx context.Context, query queryFunc) ([]catalogstore.StoredItem, error) {
	sqlQuery, err := cs.buildSelectAll(cs.itemsTableName, colItemID)
	if err != nil {
		return nil, err
	}

	rows, err := query(ctx, sqlQuery)
	if err != nil {
		cs.logError(ctx, logMsgDBQueryFailed, logAttrError, err.Error())
		return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}
	defer cs.closeRows(ctx, rows)

	items := make([]catalogstore.StoredItem, 0)

	for rows.Next() {
		var payload []byte
		var version int64

		if scanErr := rows.Scan(&payload, &version); scanErr != nil {
			cs.logError(ctx, logMsgScanRowFailed, logAttrError, scanErr.Error())
			return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, scanErr)
		}

		doc, decodeErr := catalogstore.UnmarshalItemDocument(payload)
		if decodeErr != nil {
			cs.logError(ctx, logMsgDecodeDocFailed, logAttrError, decodeErr.Error())
			return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, decodeErr)
		}

		items = append(items, catalogstore.StoredItem{Doc: doc, Version: catalogstore.VersionUint(version)})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Doc.Title != items[j].Doc.Title {
			return items[i].Doc.Title < items[j].Doc.Title
		}
		return items[i].Doc.ID < items[j].Doc.ID
	})

	return items, nil
}

func (cs *CatalogStore) readAccounts(ctx context.Context, query queryFunc) ([]catalogstore.StoredAccount, error) {
	sqlQuery, err := cs.buildSelectAll(cs.accountsTableName, colUsername)
	if err != nil {
		return nil, err
	}

	rows, err := query(ctx, sqlQuery)
	if err != nil {
		cs.logError(ctx, logMsgDBQueryFailed, logAttrError, err.Error())
		return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}
	defer cs.closeRows(ctx, rows)

	accounts := make([]catalogstore.StoredAccount, 0)

	for rows.Next() {
		var payload []byte
		var version int64

		if scanErr := rows.Scan(&payload, &version); scanErr != nil {
			cs.logError(ctx, logMsgScanRowFailed, logAttrError, scanErr.Error())
			return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, scanErr)
		}

		doc, decodeErr := catalogstore.UnmarshalAccountDocument(payload)
		if decodeErr != nil {
			cs.logError(ctx, logMsgDecodeDocFailed, logAttrError, decodeErr.Error())
			return nil, errors.Join(catalogstore.ErrReadingCatalogFailed, decodeErr)
		}

		accounts = append(accounts, catalogstore.StoredAccount{Doc: doc, Version: catalogstore.VersionUint(version)})
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Doc.Username < accounts[j].Doc.Username
	})

	return accounts, nil
}

// buildSelectAll builds `SELECT payload, version FROM table ORDER BY key`.
func (cs *CatalogStore) buildSelectAll(table string, keyColumn string) (sqlQueryString, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		From(table).
		Select(colPayload, colVersion).
		Order(goqu.C(keyColumn).Asc()).
		ToSQL()
	if err != nil {
		cs.logError(context.Background(), logMsgBuildQueryFailed, logAttrError, err.Error(), logAttrTable, table)
		return "", errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}

	return query, nil
}

// buildSelectOne builds `SELECT payload, version FROM table WHERE key = ...`.
func (cs *CatalogStore) buildSelectOne(table string, keyColumn string, key string) (sqlQueryString, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		From(table).
		Select(colPayload, colVersion).
		Where(goqu.C(keyColumn).Eq(key)).
		ToSQL()
	if err != nil {
		cs.logError(context.Background(), logMsgBuildQueryFailed, logAttrError, err.Error(), logAttrTable, table)
		return "", errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}

	return query, nil
}

// buildInsert builds an insert for a new document; an existing key makes the
// statement insert nothing, which the caller reports as a write conflict.
func (cs *CatalogStore) buildInsert(table string, keyColumn string, key string, payload []byte) (sqlQueryString, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		Insert(table).
		Cols(keyColumn, colVersion, colPayload).
		Vals(goqu.Vals{key, 1, goqu.L(castJsonb, string(payload))}).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		cs.logError(context.Background(), logMsgBuildQueryFailed, logAttrError, err.Error(), logAttrTable, table)
		return "", errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return query, nil
}

// buildUpdate builds a version-checked update; a stale expected version
// matches no row, which the caller reports as a write conflict.
func (cs *CatalogStore) buildUpdate(
	table string,
	keyColumn string,
	key string,
	payload []byte,
	expectedVersion catalogstore.VersionUint,
) (sqlQueryString, error) {

	query, _, err := goqu.Dialect(dialectPostgres).
		Update(table).
		Set(goqu.Record{
			colVersion: expectedVersion + 1,
			colPayload: goqu.L(castJsonb, string(payload)),
		}).
		Where(
			goqu.C(keyColumn).Eq(key),
			goqu.C(colVersion).Eq(expectedVersion),
		).
		ToSQL()
	if err != nil {
		cs.logError(context.Background(), logMsgBuildQueryFailed, logAttrError, err.Error(), logAttrTable, table)
		return "", errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return query, nil
}

// buildDelete builds a version-checked delete.
func (cs *CatalogStore) buildDelete(
	table string,
	keyColumn string,
	key string,
	expectedVersion catalogstore.VersionUint,
) (sqlQueryString, error) {

	query, _, err := goqu.Dialect(dialectPostgres).
		Delete(table).
		Where(
			goqu.C(keyColumn).Eq(key),
			goqu.C(colVersion).Eq(expectedVersion),
		).
		ToSQL()
	if err != nil {
		cs.logError(context.Background(), logMsgBuildQueryFailed, logAttrError, err.Error(), logAttrTable, table)
		return "", errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return query, nil
}

func (cs *CatalogStore) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		cs.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

// isWriteConflict maps Postgres serialization failures (and races on key
// uniqueness) to the store contract's conflict signal.
func isWriteConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlstateSerialization || pgErr.Code == sqlstateUniqueViolation
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == sqlstateSerialization || code == sqlstateUniqueViolation
	}

	return false
}

func (cs *CatalogStore) logDebug(ctx context.Context, msg string, args ...any) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.DebugContext(ctx, msg, args...)
		return
	}
	if cs.logger != nil {
		cs.logger.Debug(msg, args...)
	}
}

func (cs *CatalogStore) logInfo(ctx context.Context, msg string, args ...any) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}
	if cs.logger != nil {
		cs.logger.Info(msg, args...)
	}
}

func (cs *CatalogStore) logWarn(ctx context.Context, msg string, args ...any) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.WarnContext(ctx, msg, args...)
		return
	}
	if cs.logger != nil {
		cs.logger.Warn(msg, args...)
	}
}

func (cs *CatalogStore) logError(ctx context.Context, msg string, args ...any) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.ErrorContext(ctx, msg, args...)
		return
	}
	if cs.logger != nil {
		cs.logger.Error(msg, args...)
	}
}
