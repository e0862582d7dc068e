package catalogstore

import (
	"context"
)

// StoredItem pairs an item document with the commit version it was read at.
// The version must be handed back on Put/Delete so the engine can detect
// conflicting writes.
type StoredItem struct {
	Doc     ItemDocument
	Version VersionUint
}

// StoredAccount pairs an account document with its commit version.
type StoredAccount struct {
	Doc     AccountDocument
	Version VersionUint
}

// CatalogSnapshot is one consistent committed view of both durable mappings,
// as produced by ReadAll for the reconciliation loop.
type CatalogSnapshot struct {
	Items    []StoredItem
	Accounts []StoredAccount
}

// Store is the external transactional store the lending engine coordinates
// through. Implementations must guarantee that of two concurrent transactions
// writing an overlapping key, exactly one commits and the other observes
// ErrWriteConflict.
type Store interface {
	// BeginTx opens a new read/write view onto the catalog.
	BeginTx(ctx context.Context) (Tx, error)

	// ReadAll refreshes to the latest committed state without opening a write
	// transaction. It is the resync primitive of the reconciliation loop.
	ReadAll(ctx context.Context) (CatalogSnapshot, error)
}

// Tx is one transactional view. All writes are version-checked: passing the
// version a document was read at lets the engine reject the write with
// ErrWriteConflict when a concurrent transaction committed in between.
// A conflict may surface at write time or at Commit, depending on the
// engine; callers must treat both the same way.
//
// A Tx must be finished exactly once, with either Commit or Abort.
type Tx interface {
	GetItem(ctx context.Context, itemID string) (StoredItem, error)
	ListItems(ctx context.Context) ([]StoredItem, error)
	PutItem(ctx context.Context, doc ItemDocument, expectedVersion VersionUint) error
	DeleteItem(ctx context.Context, itemID string, expectedVersion VersionUint) error

	GetAccount(ctx context.Context, username string) (StoredAccount, error)
	ListAccounts(ctx context.Context) ([]StoredAccount, error)
	PutAccount(ctx context.Context, doc AccountDocument, expectedVersion VersionUint) error

	// Commit atomically applies all writes, or returns ErrWriteConflict.
	Commit(ctx context.Context) error

	// Abort discards all pending writes. Safe to call after a failed Commit.
	Abort(ctx context.Context) error
}
