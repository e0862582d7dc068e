// Package memoryengine implements the catalogstore contract with an
// in-process store. It keeps the full commit-time conflict discipline of the
// SQL engines (per-key version counters, exactly one winner per overlapping
// write) and exists so that unit tests and embedded demo setups can run
// without a database server.
package memoryengine

import (
	"context"
	"sort"
	"sync"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
)

type storedPayload struct {
	payload []byte
	version catalogstore.VersionUint
}

// Store is an in-process catalogstore.Store. The zero value is not usable,
// construct it with NewStore.
type Store struct {
	mu       sync.Mutex
	items    map[string]storedPayload
	accounts map[string]storedPayload

	injectedReadErr   error
	injectedReadCount int
}

// NewStore creates an empty in-process store.
func NewStore() *Store {
	return &Store{
		items:    make(map[string]storedPayload),
		accounts: make(map[string]storedPayload),
	}
}

// InjectReadError makes the next `times` read operations (GetItem, ListItems,
// ReadAll, ...) fail with err, simulating transient store failures. Test hook.
func (s *Store) InjectReadError(err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.injectedReadErr = err
	s.injectedReadCount = times
}

// takeInjectedReadError must be called with the mutex held.
func (s *Store) takeInjectedReadError() error {
	if s.injectedReadCount <= 0 {
		return nil
	}

	s.injectedReadCount--

	return s.injectedReadErr
}

// BeginTx opens a transactional view. Reads observe the committed state at
// the time of each read; writes are staged and applied atomically at Commit
// after re-validating every expected version.
func (s *Store) BeginTx(_ context.Context) (catalogstore.Tx, error) {
	return &memTx{store: s}, nil
}

// ReadAll returns one consistent committed view of items and accounts.
func (s *Store) ReadAll(_ context.Context) (catalogstore.CatalogSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeInjectedReadError(); err != nil {
		return catalogstore.CatalogSnapshot{}, err
	}

	items, err := s.listItemsLocked()
	if err != nil {
		return catalogstore.CatalogSnapshot{}, err
	}

	accounts, err := s.listAccountsLocked()
	if err != nil {
		return catalogstore.CatalogSnapshot{}, err
	}

	return catalogstore.CatalogSnapshot{Items: items, Accounts: accounts}, nil
}

func (s *Store) listItemsLocked() ([]catalogstore.StoredItem, error) {
	items := make([]catalogstore.StoredItem, 0, len(s.items))

	for _, stored := range s.items {
		doc, err := catalogstore.UnmarshalItemDocument(stored.payload)
		if err != nil {
			return nil, err
		}

		items = append(items, catalogstore.StoredItem{Doc: doc, Version: stored.version})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Doc.Title != items[j].Doc.Title {
			return items[i].Doc.Title < items[j].Doc.Title
		}
		return items[i].Doc.ID < items[j].Doc.ID
	})

	return items, nil
}

func (s *Store) listAccountsLocked() ([]catalogstore.StoredAccount, error) {
	accounts := make([]catalogstore.StoredAccount, 0, len(s.accounts))

	for _, stored := range s.accounts {
		doc, err := catalogstore.UnmarshalAccountDocument(stored.payload)
		if err != nil {
			return nil, err
		}

		accounts = append(accounts, catalogstore.StoredAccount{Doc: doc, Version: stored.version})
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Doc.Username < accounts[j].Doc.Username
	})

	return accounts, nil
}

type stagedWrite struct {
	key             string
	isAccount       bool
	payload         []byte // nil means delete
	expectedVersion catalogstore.VersionUint
}

type memTx struct {
	store  *Store
	writes []stagedWrite
	done   bool
}

func (tx *memTx) GetItem(_ context.Context, itemID string) (catalogstore.StoredItem, error) {
	if tx.done {
		return catalogstore.StoredItem{}, catalogstore.ErrTxDone
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if err := tx.store.takeInjectedReadError(); err != nil {
		return catalogstore.StoredItem{}, err
	}

	stored, ok := tx.store.items[itemID]
	if !ok {
		return catalogstore.StoredItem{}, catalogstore.ErrItemNotFound
	}

	doc, err := catalogstore.UnmarshalItemDocument(stored.payload)
	if err != nil {
		return catalogstore.StoredItem{}, err
	}

	return catalogstore.StoredItem{Doc: doc, Version: stored.version}, nil
}

func (tx *memTx) ListItems(_ context.Context) ([]catalogstore.StoredItem, error) {
	if tx.done {
		return nil, catalogstore.ErrTxDone
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if err := tx.store.takeInjectedReadError(); err != nil {
		return nil, err
	}

	return tx.store.listItemsLocked()
}

func (tx *memTx) PutItem(_ context.Context, doc catalogstore.ItemDocument, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	payload, err := doc.Marshal()
	if err != nil {
		return err
	}

	tx.writes = append(tx.writes, stagedWrite{key: doc.ID, payload: payload, expectedVersion: expectedVersion})

	return nil
}

func (tx *memTx) DeleteItem(_ context.Context, itemID string, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	tx.writes = append(tx.writes, stagedWrite{key: itemID, expectedVersion: expectedVersion})

	return nil
}

func (tx *memTx) GetAccount(_ context.Context, username string) (catalogstore.StoredAccount, error) {
	if tx.done {
		return catalogstore.StoredAccount{}, catalogstore.ErrTxDone
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if err := tx.store.takeInjectedReadError(); err != nil {
		return catalogstore.StoredAccount{}, err
	}

	stored, ok := tx.store.accounts[username]
	if !ok {
		return catalogstore.StoredAccount{}, catalogstore.ErrAccountNotFound
	}

	doc, err := catalogstore.UnmarshalAccountDocument(stored.payload)
	if err != nil {
		return catalogstore.StoredAccount{}, err
	}

	return catalogstore.StoredAccount{Doc: doc, Version: stored.version}, nil
}

func (tx *memTx) ListAccounts(_ context.Context) ([]catalogstore.StoredAccount, error) {
	if tx.done {
		return nil, catalogstore.ErrTxDone
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if err := tx.store.takeInjectedReadError(); err != nil {
		return nil, err
	}

	return tx.store.listAccountsLocked()
}

func (tx *memTx) PutAccount(_ context.Context, doc catalogstore.AccountDocument, expectedVersion catalogstore.VersionUint) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}

	payload, err := doc.Marshal()
	if err != nil {
		return err
	}

	tx.writes = append(tx.writes, stagedWrite{key: doc.Username, isAccount: true, payload: payload, expectedVersion: expectedVersion})

	return nil
}

// Commit re-validates every staged write against the current committed
// version and applies all of them atomically, or none on a conflict. Staged
// item inserts are additionally checked against committed titles, matching
// the unique title index of the SQL engines: two racing inserts of the same
// title write different keys, so the version check alone would let both
// through.
func (tx *memTx) Commit(_ context.Context) error {
	if tx.done {
		return catalogstore.ErrTxDone
	}
	tx.done = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for _, write := range tx.writes {
		current := tx.currentVersionLocked(write)
		if current != write.expectedVersion {
			return catalogstore.ErrWriteConflict
		}
	}

	for _, write := range tx.writes {
		if write.isAccount || write.payload == nil || write.expectedVersion != 0 {
			continue
		}

		doc, err := catalogstore.UnmarshalItemDocument(write.payload)
		if err != nil {
			return err
		}

		if tx.store.titleTakenLocked(doc.ID, doc.Title) {
			return catalogstore.ErrWriteConflict
		}
	}

	for _, write := range tx.writes {
		target := tx.store.items
		if write.isAccount {
			target = tx.store.accounts
		}

		if write.payload == nil {
			delete(target, write.key)
			continue
		}

		target[write.key] = storedPayload{payload: write.payload, version: write.expectedVersion + 1}
	}

	return nil
}

// titleTakenLocked reports whether a committed item other than itemID
// already carries the title. Must be called with the store mutex held.
func (s *Store) titleTakenLocked(itemID string, title string) bool {
	for key, stored := range s.items {
		if key == itemID {
			continue
		}

		doc, err := catalogstore.UnmarshalItemDocument(stored.payload)
		if err != nil {
			continue
		}

		if doc.Title == title {
			return true
		}
	}

	return false
}

func (tx *memTx) currentVersionLocked(write stagedWrite) catalogstore.VersionUint {
	target := tx.store.items
	if write.isAccount {
		target = tx.store.accounts
	}

	if stored, ok := target[write.key]; ok {
		return stored.version
	}

	return 0
}

// Abort discards all staged writes.
func (tx *memTx) Abort(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.writes = nil

	return nil
}
