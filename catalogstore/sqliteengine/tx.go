package sqliteengine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
)

// sqliteTx implements catalogstore.Tx on an open SQLite transaction.
type sqliteTx struct {
	store *CatalogStore
	dbTx  *sql.Tx
	done  bool
}

func (tx *sqliteTx) GetItem(ctx context.Context, itemID string) (catalogstore.StoredItem, error) {
	var empty catalogstore.StoredItem

	if tx.done {
		return empty, catalogstore.ErrTxDone
	}

	row := tx.dbTx.QueryRowContext(ctx, `SELECT payload, version FROM items WHERE item_id = ?`, itemID)

	var payload []byte
	var version int64

	if err := row.Scan(&payload, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return empty, catalogstore.ErrItemNotFound
		}
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}

	doc, err := catalogstore.UnmarshalItemDocument(payload)
	if err != nil {
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}

	return catalogstore.StoredItem{Doc: doc, Version: catalogstore.VersionUint(version)}, nil
}

func (tx *sqliteTx) ListItems(ctx context.Context) ([]catalogstore.StoredItem, error) {
	if tx.done {
		return nil, catalogstore.ErrTxDone
	}

	return readItems(ctx, tx.dbTx.QueryContext)
}

func (tx *sqliteTx) PutItem(ctx context.Context, doc catalogstore.ItemDocument, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	payload, err := doc.Marshal()
	if err != nil {
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	if expectedVersion == 0 {
		return tx.execExpectingOneRow(ctx,
			`INSERT OR IGNORE INTO items (item_id, version, payload) VALUES (?, 1, ?)`,
			doc.ID, string(payload))
	}

	return tx.execExpectingOneRow(ctx,
		`UPDATE items SET version = ?, payload = ? WHERE item_id = ? AND version = ?`,
		expectedVersion+1, string(payload), doc.ID, expectedVersion)
}

func (tx *sqliteTx) DeleteItem(ctx context.Context, itemID string, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	return tx.execExpectingOneRow(ctx,
		`DELETE FROM items WHERE item_id = ? AND version = ?`,
		itemID, expectedVersion)
}

func (tx *sqliteTx) GetAccount(ctx context.Context, username string) (catalogstore.StoredAccount, error) {
	var empty catalogstore.StoredAccount

	if tx.done {
		return empty, catalogstore.ErrTxDone
	}

	row := tx.dbTx.QueryRowContext(ctx, `SELECT payload, version FROM accounts WHERE username = ?`, username)

	var payload []byte
	var version int64

	if err := row.Scan(&payload, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return empty, catalogstore.ErrAccountNotFound
		}
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}

	doc, err := catalogstore.UnmarshalAccountDocument(payload)
	if err != nil {
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}

	return catalogstore.StoredAccount{Doc: doc, Version: catalogstore.VersionUint(version)}, nil
}

func (tx *sqliteTx) ListAccounts(ctx context.Context) ([]catalogstore.StoredAccount, error) {
	if tx.done {
		return nil, catalogstore.ErrTxDone
	}

	return readAccounts(ctx, tx.dbTx.QueryContext)
}

func (tx *sqliteTx) PutAccount(ctx context.Context, doc catalogstore.AccountDocument, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	payload, err := doc.Marshal()
	if err != nil {
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	if expectedVersion == 0 {
		return tx.execExpectingOneRow(ctx,
			`INSERT OR IGNORE INTO accounts (username, version, payload) VALUES (?, 1, ?)`,
			doc.Username, string(payload))
	}

	return tx.execExpectingOneRow(ctx,
		`UPDATE accounts SET version = ?, payload = ? WHERE username = ? AND version = ?`,
		expectedVersion+1, string(payload), doc.Username, expectedVersion)
}

func (tx *sqliteTx) execExpectingOneRow(ctx context.Context, query string, args ...any) error {
	result, err := tx.dbTx.ExecContext(ctx, query, args...)
	if err != nil {
		if isWriteConflict(err) {
			return catalogstore.ErrWriteConflict
		}
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	if rowsAffected == 0 {
		return catalogstore.ErrWriteConflict
	}

	return nil
}

func (tx *sqliteTx) Commit(_ context.Context) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}
	tx.done = true

	if err := tx.dbTx.Commit(); err != nil {
		if isWriteConflict(err) {
			return catalogstore.ErrWriteConflict
		}
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return nil
}

func (tx *sqliteTx) Abort(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true

	if err := tx.dbTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return nil
}
