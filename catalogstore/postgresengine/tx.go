package postgresengine

import (
	"context"
	"errors"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/catalogstore/postgresengine/internal/adapters"
)

// pgTx implements catalogstore.Tx on an open database transaction.
//
// Writes execute immediately inside the transaction; a version mismatch
// affects zero rows and surfaces catalogstore.ErrWriteConflict right away.
// Under the default READ COMMITTED isolation a concurrent writer holding the
// row lock makes the statement block until that writer commits, after which
// the version predicate re-evaluates against the new row and misses - so of
// two overlapping writes exactly one succeeds.
type pgTx struct {
	store *CatalogStore
	dbTx  adapters.DBTx
	done  bool
}

func (tx *pgTx) GetItem(ctx context.Context, itemID string) (catalogstore.StoredItem, error) {
	var empty catalogstore.StoredItem

	if tx.done {
		return empty, catalogstore.ErrTxDone
	}

	sqlQuery, err := tx.store.buildSelectOne(tx.store.itemsTableName, colItemID, itemID)
	if err != nil {
		return empty, err
	}

	rows, err := tx.dbTx.Query(ctx, sqlQuery)
	if err != nil {
		tx.store.logError(ctx, logMsgDBQueryFailed, logAttrError, err.Error(), logAttrKey, itemID)
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}
	defer tx.store.closeRows(ctx, rows)

	if !rows.Next() {
		return empty, catalogstore.ErrItemNotFound
	}

	var payload []byte
	var version int64

	if scanErr := rows.Scan(&payload, &version); scanErr != nil {
		tx.store.logError(ctx, logMsgScanRowFailed, logAttrError, scanErr.Error(), logAttrKey, itemID)
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, scanErr)
	}

	doc, decodeErr := catalogstore.UnmarshalItemDocument(payload)
	if decodeErr != nil {
		tx.store.logError(ctx, logMsgDecodeDocFailed, logAttrError, decodeErr.Error(), logAttrKey, itemID)
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, decodeErr)
	}

	return catalogstore.StoredItem{Doc: doc, Version: catalogstore.VersionUint(version)}, nil
}

func (tx *pgTx) ListItems(ctx context.Context) ([]catalogstore.StoredItem, error) {
	if tx.done {
		return nil, catalogstore.ErrTxDone
	}

	return tx.store.readItems(ctx, tx.dbTx.Query)
}

func (tx *pgTx) PutItem(ctx context.Context, doc catalogstore.ItemDocument, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	payload, err := doc.Marshal()
	if err != nil {
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return tx.execVersionChecked(ctx, tx.store.itemsTableName, colItemID, doc.ID, payload, expectedVersion)
}

func (tx *pgTx) DeleteItem(ctx context.Context, itemID string, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	sqlQuery, err := tx.store.buildDelete(tx.store.itemsTableName, colItemID, itemID, expectedVersion)
	if err != nil {
		return err
	}

	return tx.execExpectingOneRow(ctx, sqlQuery, itemID, expectedVersion)
}

func (tx *pgTx) GetAccount(ctx context.Context, username string) (catalogstore.StoredAccount, error) {
	var empty catalogstore.StoredAccount

	if tx.done {
		return empty, catalogstore.ErrTxDone
	}

	sqlQuery, err := tx.store.buildSelectOne(tx.store.accountsTableName, colUsername, username)
	if err != nil {
		return empty, err
	}

	rows, err := tx.dbTx.Query(ctx, sqlQuery)
	if err != nil {
		tx.store.logError(ctx, logMsgDBQueryFailed, logAttrError, err.Error(), logAttrKey, username)
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, err)
	}
	defer tx.store.closeRows(ctx, rows)

	if !rows.Next() {
		return empty, catalogstore.ErrAccountNotFound
	}

	var payload []byte
	var version int64

	if scanErr := rows.Scan(&payload, &version); scanErr != nil {
		tx.store.logError(ctx, logMsgScanRowFailed, logAttrError, scanErr.Error(), logAttrKey, username)
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, scanErr)
	}

	doc, decodeErr := catalogstore.UnmarshalAccountDocument(payload)
	if decodeErr != nil {
		tx.store.logError(ctx, logMsgDecodeDocFailed, logAttrError, decodeErr.Error(), logAttrKey, username)
		return empty, errors.Join(catalogstore.ErrReadingCatalogFailed, decodeErr)
	}

	return catalogstore.StoredAccount{Doc: doc, Version: catalogstore.VersionUint(version)}, nil
}

func (tx *pgTx) ListAccounts(ctx context.Context) ([]catalogstore.StoredAccount, error) {
	if tx.done {
		return nil, catalogstore.ErrTxDone
	}

	return tx.store.readAccounts(ctx, tx.dbTx.Query)
}

func (tx *pgTx) PutAccount(ctx context.Context, doc catalogstore.AccountDocument, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	payload, err := doc.Marshal()
	if err != nil {
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return tx.execVersionChecked(ctx, tx.store.accountsTableName, colUsername, doc.Username, payload, expectedVersion)
}

// execVersionChecked runs the write as an insert for version 0 and a
// version-pinned update otherwise.
func (tx *pgTx) execVersionChecked(
	ctx context.Context,
	table string,
	keyColumn string,
	key string,
	payload []byte,
	expectedVersion catalogstore.VersionUint,
) error {

	var sqlQuery sqlQueryString
	var err error

	if expectedVersion == 0 {
		sqlQuery, err = tx.store.buildInsert(table, keyColumn, key, payload)
	} else {
		sqlQuery, err = tx.store.buildUpdate(table, keyColumn, key, payload, expectedVersion)
	}

	if err != nil {
		return err
	}

	return tx.execExpectingOneRow(ctx, sqlQuery, key, expectedVersion)
}

// execExpectingOneRow executes a statement whose predicates pin the expected
// version; zero affected rows means a concurrent transaction won.
func (tx *pgTx) execExpectingOneRow(
	ctx context.Context,
	sqlQuery sqlQueryString,
	key string,
	expectedVersion catalogstore.VersionUint,
) error {

	result, execErr := tx.dbTx.Exec(ctx, sqlQuery)
	if execErr != nil {
		if isWriteConflict(execErr) {
			return catalogstore.ErrWriteConflict
		}

		tx.store.logError(ctx, logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrKey, key)

		return errors.Join(catalogstore.ErrWritingCatalogFailed, execErr)
	}

	rowsAffected, raErr := result.RowsAffected()
	if raErr != nil {
		tx.store.logError(ctx, logMsgDBExecFailed, logAttrError, raErr.Error(), logAttrKey, key)
		return errors.Join(catalogstore.ErrWritingCatalogFailed, raErr)
	}

	if rowsAffected == 0 {
		tx.store.logInfo(ctx, logMsgWriteConflict, logAttrKey, key, logAttrExpectedVersion, expectedVersion)
		return catalogstore.ErrWriteConflict
	}

	return nil
}

// Commit commits the transaction, mapping serialization failures to the
// conflict signal.
func (tx *pgTx) Commit(ctx context.Context) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}
	tx.done = true

	if err := tx.dbTx.Commit(ctx); err != nil {
		if isWriteConflict(err) {
			tx.store.logInfo(ctx, logMsgWriteConflict, logAttrError, err.Error())
			return catalogstore.ErrWriteConflict
		}

		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return nil
}

// Abort discards all pending writes. Safe to call after Commit.
func (tx *pgTx) Abort(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true

	if err := tx.dbTx.Rollback(ctx); err != nil {
		tx.store.logWarn(ctx, logMsgDBExecFailed, logAttrError, err.Error())
		return errors.Join(catalogstore.ErrWritingCatalogFailed, err)
	}

	return nil
}
