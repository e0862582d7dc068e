package catalogstore

import (
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/flowlend/lending-coordinator-go/lending"
)

// ItemSchemaVersion is the current schema of ItemDocument. Documents written
// before the pending-request workflow existed carry version 1 and are
// upgraded by Migrate at load time; earlier records without a schema field
// report version 0.
const ItemSchemaVersion = 2

var (
	// ErrInvalidDocumentJSON is returned when a stored document cannot be decoded.
	ErrInvalidDocumentJSON = errors.New("document json is not valid")

	// ErrInvalidItemDocument is returned when a decoded item document violates
	// the lending invariants.
	ErrInvalidItemDocument = errors.New("item document violates lending invariants")

	// ErrUnknownSchemaVersion is returned when a document reports a schema
	// version newer than this build understands.
	ErrUnknownSchemaVersion = errors.New("item document has an unknown schema version")
)

var json = jsoniter.ConfigFastest

// ItemDocument is the stored representation of a lending.LendableItem. The
// advisory lock state is deliberately absent: it is volatile and scoped to a
// single process.
type ItemDocument struct {
	SchemaVersion int                      `json:"schemaVersion"`
	ID            string                   `json:"id"`
	Title         string                   `json:"title"`
	Author        string                   `json:"author"`
	Available     bool                     `json:"available"`
	Borrower      string                   `json:"borrower,omitempty"`
	BorrowedAt    *time.Time               `json:"borrowedAt,omitempty"`
	Queue         []lending.QueueEntry     `json:"waitingQueue"`
	Pending       []lending.PendingRequest `json:"pendingRequests"`
}

// BuildItemDocument creates the stored representation of an item at the
// current schema version.
func BuildItemDocument(item lending.LendableItem) ItemDocument {
	doc := ItemDocument{
		SchemaVersion: ItemSchemaVersion,
		ID:            item.ID,
		Title:         item.Title,
		Author:        item.Author,
		Available:     item.Available,
		Borrower:      item.Borrower,
		Queue:         item.Queue.Entries(),
		Pending:       item.Pending.Requests(),
	}

	if !item.BorrowedAt.IsZero() {
		borrowedAt := item.BorrowedAt
		doc.BorrowedAt = &borrowedAt
	}

	return doc
}

// Migrate upgrades a document written by an older schema to the current one.
// This replaces the old scattered create-if-missing checks with one explicit
// step at load time: version 0/1 documents gain empty queue structures and
// are stamped with the current schema version.
func (d ItemDocument) Migrate() (ItemDocument, error) {
	if d.SchemaVersion > ItemSchemaVersion {
		return ItemDocument{}, ErrUnknownSchemaVersion
	}

	if d.Queue == nil {
		d.Queue = []lending.QueueEntry{}
	}

	if d.Pending == nil {
		d.Pending = []lending.PendingRequest{}
	}

	d.SchemaVersion = ItemSchemaVersion

	return d, nil
}

// Validate checks the lending invariants the document must satisfy.
func (d ItemDocument) Validate() error {
	if d.Available != (d.Borrower == "") {
		return ErrInvalidItemDocument
	}

	for _, entry := range d.Queue {
		if entry.UserID == d.Borrower {
			return ErrInvalidItemDocument
		}
		for _, pending := range d.Pending {
			if pending.UserID == entry.UserID {
				return ErrInvalidItemDocument
			}
		}
	}

	return nil
}

// ToItem restores the domain item from the document. The advisory lock
// starts unlocked, as it always does after a load.
func (d ItemDocument) ToItem() (lending.LendableItem, error) {
	migrated, err := d.Migrate()
	if err != nil {
		return lending.LendableItem{}, err
	}

	if err := migrated.Validate(); err != nil {
		return lending.LendableItem{}, err
	}

	item := lending.LendableItem{
		ID:        migrated.ID,
		Title:     migrated.Title,
		Author:    migrated.Author,
		Available: migrated.Available,
		Borrower:  migrated.Borrower,
		Queue:     lending.BuildWaitingQueue(migrated.Queue),
		Pending:   lending.BuildPendingRequestQueue(migrated.Pending),
	}

	if migrated.BorrowedAt != nil {
		item.BorrowedAt = *migrated.BorrowedAt
	}

	return item, nil
}

// Marshal encodes the document as JSON.
func (d ItemDocument) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalItemDocument decodes a stored item document.
func UnmarshalItemDocument(payload []byte) (ItemDocument, error) {
	if !json.Valid(payload) {
		return ItemDocument{}, ErrInvalidDocumentJSON
	}

	var doc ItemDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ItemDocument{}, errors.Join(ErrInvalidDocumentJSON, err)
	}

	return doc, nil
}

// AccountDocument is the stored representation of a lending.Account.
type AccountDocument struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
	IsLoggedIn   bool   `json:"isLoggedIn"`
}

// BuildAccountDocument creates the stored representation of an account.
func BuildAccountDocument(account lending.Account) AccountDocument {
	return AccountDocument{
		Username:     account.Username,
		PasswordHash: account.PasswordHash,
		Role:         string(account.Role),
		IsLoggedIn:   account.IsLoggedIn,
	}
}

// ToAccount restores the domain account from the document.
func (d AccountDocument) ToAccount() lending.Account {
	return lending.Account{
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		Role:         lending.Role(d.Role),
		IsLoggedIn:   d.IsLoggedIn,
	}
}

// Marshal encodes the document as JSON.
func (d AccountDocument) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalAccountDocument decodes a stored account document.
func UnmarshalAccountDocument(payload []byte) (AccountDocument, error) {
	if !json.Valid(payload) {
		return AccountDocument{}, ErrInvalidDocumentJSON
	}

	var doc AccountDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return AccountDocument{}, errors.Join(ErrInvalidDocumentJSON, err)
	}

	return doc, nil
}
