package sqliteengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/catalogstore/sqliteengine"
	"github.com/flowlend/lending-coordinator-go/lending"
)

func Test_Commit_StoresItem_WithVersionOne(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t)
	doc := givenItemDoc(t, "Sqlite Essentials")

	// act
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutItem(ctx, doc, 0))
	require.NoError(t, tx.Commit(ctx))

	// assert
	readTx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = readTx.Abort(ctx) }()

	stored, err := readTx.GetItem(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, catalogstore.VersionUint(1), stored.Version)
	assert.Equal(t, "Sqlite Essentials", stored.Doc.Title)
}

func Test_PutItem_ReturnsWriteConflict_WhenVersionIsStale(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t)
	doc := givenCommittedItem(t, store, "Sqlite Essentials")

	// act - the document is at version 1, the writer claims to have read 99
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Abort(ctx) }()

	conflictErr := tx.PutItem(ctx, doc, 99)

	// assert
	assert.ErrorIs(t, conflictErr, catalogstore.ErrWriteConflict)
}

func Test_PutItem_ReturnsWriteConflict_WhenInsertRacesOnKey(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t)
	doc := givenCommittedItem(t, store, "Sqlite Essentials")

	// act - version 0 claims the item does not exist yet, but it does
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Abort(ctx) }()

	conflictErr := tx.PutItem(ctx, doc, 0)

	// assert
	assert.ErrorIs(t, conflictErr, catalogstore.ErrWriteConflict)
}

func Test_PutItem_ReturnsWriteConflict_WhenTitleAlreadyExists(t *testing.T) {
	// arrange - a second insert of the same title under a fresh key
	ctx := context.Background()
	store := givenStore(t)
	givenCommittedItem(t, store, "Sqlite Essentials")

	duplicate := givenItemDoc(t, "Sqlite Essentials")

	// act - the unique title index refuses the row despite the new key
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Abort(ctx) }()

	conflictErr := tx.PutItem(ctx, duplicate, 0)

	// assert
	assert.ErrorIs(t, conflictErr, catalogstore.ErrWriteConflict)
}

func Test_UpdateAndDelete_BumpAndRemove(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t)
	doc := givenCommittedItem(t, store, "Sqlite Essentials")

	// act - update at the read version, then delete at the bumped version
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	doc.Available = false
	doc.Borrower = "alice"
	require.NoError(t, tx.PutItem(ctx, doc, 1))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteItem(ctx, doc.ID, 2))
	require.NoError(t, tx.Commit(ctx))

	// assert
	readTx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = readTx.Abort(ctx) }()

	_, getErr := readTx.GetItem(ctx, doc.ID)
	assert.ErrorIs(t, getErr, catalogstore.ErrItemNotFound)
}

func Test_Abort_DiscardsWrites(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t)
	doc := givenItemDoc(t, "Sqlite Essentials")

	// act
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutItem(ctx, doc, 0))
	require.NoError(t, tx.Abort(ctx))

	// assert
	readTx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = readTx.Abort(ctx) }()

	_, getErr := readTx.GetItem(ctx, doc.ID)
	assert.ErrorIs(t, getErr, catalogstore.ErrItemNotFound)
}

func Test_FinishedTx_RefusesFurtherUse(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// act + assert
	_, getErr := tx.GetItem(ctx, "whatever")
	assert.ErrorIs(t, getErr, catalogstore.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(ctx), catalogstore.ErrTxDone)
}

func Test_ReadAll_ReturnsItemsSortedByTitle(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t)
	givenCommittedItem(t, store, "Zebra Stripes")
	givenCommittedItem(t, store, "Aardvark Habits")

	// act
	snapshot, err := store.ReadAll(ctx)

	// assert
	require.NoError(t, err)
	require.Len(t, snapshot.Items, 2)
	assert.Equal(t, "Aardvark Habits", snapshot.Items[0].Doc.Title)
	assert.Equal(t, "Zebra Stripes", snapshot.Items[1].Doc.Title)
}

func Test_Accounts_RoundTrip(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t)

	account, err := lending.BuildAccount("alice", "secret-passphrase", lending.RoleUser)
	require.NoError(t, err)
	doc := catalogstore.BuildAccountDocument(account)

	// act
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutAccount(ctx, doc, 0))
	require.NoError(t, tx.Commit(ctx))

	// assert
	readTx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = readTx.Abort(ctx) }()

	stored, err := readTx.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, catalogstore.VersionUint(1), stored.Version)
	assert.Equal(t, string(lending.RoleUser), stored.Doc.Role)
}

func givenStore(t *testing.T) *sqliteengine.CatalogStore {
	t.Helper()

	db := sqliteengine.NewTestDB(t)

	store, err := sqliteengine.NewCatalogStore(db)
	require.NoError(t, err)

	return store
}

func givenItemDoc(t *testing.T, title string) catalogstore.ItemDocument {
	t.Helper()

	item := lending.BuildLendableItem(title, "Some Author")

	return catalogstore.BuildItemDocument(item)
}

func givenCommittedItem(t *testing.T, store *sqliteengine.CatalogStore, title string) catalogstore.ItemDocument {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc := givenItemDoc(t, title)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutItem(ctx, doc, 0))
	require.NoError(t, tx.Commit(ctx))

	return doc
}
