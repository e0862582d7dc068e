package catalogstore

import (
	"errors"
)

var (
	// ErrWriteConflict is returned at Put/Delete/Commit time when another
	// transaction wrote an overlapping key since this transaction began.
	// It is the only retryable storage error.
	ErrWriteConflict = errors.New("write conflict, concurrent transaction won")

	// ErrItemNotFound is returned when the requested item id is not in the catalog.
	ErrItemNotFound = errors.New("item not found")

	// ErrAccountNotFound is returned when the requested username is not in the accounts store.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNilDatabaseConnection is returned when an engine is constructed without a connection.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTableName is returned when an empty table name is supplied to an engine option.
	ErrEmptyTableName = errors.New("empty table name supplied")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("transaction has already been committed or aborted")

	// ErrReadingCatalogFailed is returned when a catalog read fails for infrastructure reasons.
	ErrReadingCatalogFailed = errors.New("reading the catalog failed")

	// ErrWritingCatalogFailed is returned when a catalog write fails for infrastructure reasons.
	ErrWritingCatalogFailed = errors.New("writing the catalog failed")
)

// VersionUint is a type alias for uint, representing the commit version of a
// stored document. Version 0 means "does not exist yet"; every committed
// write increments it by one.
type VersionUint = uint
