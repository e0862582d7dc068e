package postgresengine

import (
	"github.com/flowlend/lending-coordinator-go/catalogstore"
)

// Option defines a functional option for configuring the CatalogStore.
type Option func(*CatalogStore) error

// WithItemsTableName sets a custom table name for the items collection.
func WithItemsTableName(name string) Option {
	return func(cs *CatalogStore) error {
		if name == "" {
			return catalogstore.ErrEmptyTableName
		}

		cs.itemsTableName = name

		return nil
	}
}

// WithAccountsTableName sets a custom table name for the accounts collection.
func WithAccountsTableName(name string) Option {
	return func(cs *CatalogStore) error {
		if name == "" {
			return catalogstore.ErrEmptyTableName
		}

		cs.accountsTableName = name

		return nil
	}
}

// WithLogger sets a logger for store-internal warnings and errors.
func WithLogger(logger catalogstore.Logger) Option {
	return func(cs *CatalogStore) error {
		cs.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, used in preference to the
// plain logger when both are configured.
func WithContextualLogger(logger catalogstore.ContextualLogger) Option {
	return func(cs *CatalogStore) error {
		cs.contextualLogger = logger
		return nil
	}
}
