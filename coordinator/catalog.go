package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/lending"
)

// Messages reported by the coordination shell, as opposed to the item state
// machine itself.
const (
	msgItemLocked          = "item is being modified by another user"
	msgItemNotFound        = "item not found"
	msgUnknownUser         = "unknown user"
	msgNotPermitted        = "you do not have permission to perform this action"
	msgOnlyBorrowerOrAdmin = "only the current borrower or an admin can return this item"
	msgDuplicateTitle      = "an item with this title already exists"
	msgItemBorrowedNoDel   = "item cannot be deleted while it is borrowed"
	msgCatalogBusy         = "the catalog is busy, please try again"
	fmtItemAdded           = "item %q added"
	fmtItemDeleted         = "item %q deleted"
)

// Catalog is the transactional service over the lendable-item mapping. Every
// mutating operation runs as: acquire the in-process item lock, begin a store
// transaction, load and migrate the item document, run the state-machine
// transition, commit when the item changed, and raise the change signal. The
// whole cycle is replayed from a clean read when the store reports a write
// conflict.
type Catalog struct {
	store     catalogstore.Store
	notifier  *ChangeNotifier
	locks     *itemLocks
	clock     func() time.Time
	logger    catalogstore.Logger
	metrics   catalogstore.MetricsCollector
	retryOpts []RetryOption
}

// CatalogOption configures a Catalog using the functional options pattern.
type CatalogOption func(*Catalog) error

// WithNotifier shares an existing change notifier, so a session's reconciler
// observes this catalog's mutations promptly.
func WithNotifier(notifier *ChangeNotifier) CatalogOption {
	return func(c *Catalog) error {
		if notifier == nil {
			return errors.New("notifier must not be nil")
		}
		c.notifier = notifier
		return nil
	}
}

// WithClock replaces the time source, for tests.
func WithClock(clock func() time.Time) CatalogOption {
	return func(c *Catalog) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		c.clock = clock
		return nil
	}
}

// WithLogger sets a logger for operational warnings and errors.
func WithLogger(logger catalogstore.Logger) CatalogOption {
	return func(c *Catalog) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector passed to the retry policy.
func WithMetrics(metrics catalogstore.MetricsCollector) CatalogOption {
	return func(c *Catalog) error {
		if metrics == nil {
			return ErrNilMetricsCollector
		}
		c.metrics = metrics
		return nil
	}
}

// WithRetryPolicy overrides the default conflict-retry policy.
func WithRetryPolicy(options ...RetryOption) CatalogOption {
	return func(c *Catalog) error {
		c.retryOpts = options
		return nil
	}
}

// NewCatalog creates a catalog service on the given store.
func NewCatalog(store catalogstore.Store, options ...CatalogOption) (*Catalog, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}

	c := &Catalog{
		store:    store,
		notifier: NewChangeNotifier(),
		locks:    newItemLocks(),
		clock:    time.Now,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Notifier returns the change notifier this catalog raises after commits.
func (c *Catalog) Notifier() *ChangeNotifier {
	return c.notifier
}

// ItemSummary is the read model returned by ListItems.
type ItemSummary struct {
	ID           string
	Title        string
	Author       string
	Available    bool
	Borrower     string
	QueueSummary string
	QueueMembers []string
	PendingCount int
}

// AddItem creates a new available item. Admin only; duplicate titles are
// rejected so items stay uniquely named.
func (c *Catalog) AddItem(ctx context.Context, actor lending.UserIDString, title string, author string) (lending.Outcome, error) {
	var outcome lending.Outcome

	operation := func(ctx context.Context) error {
		outcome = lending.Outcome{}

		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Abort(ctx) }()

		account, found, err := c.loadAccount(ctx, tx, actor)
		if err != nil {
			return err
		}
		if !found {
			outcome = lending.Rejected(msgUnknownUser)
			return nil
		}
		if !account.HasPermission(lending.ActionAdd) {
			outcome = lending.Rejected(msgNotPermitted)
			return nil
		}

		existing, err := tx.ListItems(ctx)
		if err != nil {
			return err
		}
		for _, stored := range existing {
			if stored.Doc.Title == title {
				outcome = lending.Rejected(msgDuplicateTitle)
				return nil
			}
		}

		item := lending.BuildLendableItem(title, author)
		if err := tx.PutItem(ctx, catalogstore.BuildItemDocument(item), 0); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		outcome = lending.Accepted(fmt.Sprintf(fmtItemAdded, title))

		return nil
	}

	err := RetryOnConflict(ctx, operation, c.retryOptions("add_item")...)
	if err == nil && outcome.Mutated() {
		c.notifier.MarkDirty()
	}

	return c.finish(outcome, err)
}

// DeleteItem removes an item from the catalog. Admin only; legal only while
// the item is available.
func (c *Catalog) DeleteItem(ctx context.Context, actor lending.UserIDString, itemID lending.ItemIDString) (lending.Outcome, error) {
	if !c.locks.TryAcquire(itemID, actor) {
		return lending.Rejected(msgItemLocked), nil
	}
	defer c.locks.Release(itemID, actor)

	var outcome lending.Outcome

	operation := func(ctx context.Context) error {
		outcome = lending.Outcome{}

		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Abort(ctx) }()

		account, found, err := c.loadAccount(ctx, tx, actor)
		if err != nil {
			return err
		}
		if !found {
			outcome = lending.Rejected(msgUnknownUser)
			return nil
		}
		if !account.HasPermission(lending.ActionDelete) {
			outcome = lending.Rejected(msgNotPermitted)
			return nil
		}

		stored, err := tx.GetItem(ctx, itemID)
		if errors.Is(err, catalogstore.ErrItemNotFound) {
			outcome = lending.Rejected(msgItemNotFound)
			return nil
		}
		if err != nil {
			return err
		}

		item, err := stored.Doc.ToItem()
		if err != nil {
			return err
		}
		if !item.CanBeDeleted() {
			outcome = lending.Rejected(msgItemBorrowedNoDel)
			return nil
		}

		if err := tx.DeleteItem(ctx, itemID, stored.Version); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		outcome = lending.Accepted(fmt.Sprintf(fmtItemDeleted, item.Title))

		return nil
	}

	err := RetryOnConflict(ctx, operation, c.retryOptions("delete_item")...)
	if err == nil && outcome.Mutated() {
		c.notifier.MarkDirty()
	}

	return c.finish(outcome, err)
}

// Borrow attempts to grant the item to the user. The enrollment confirmation
// is captured once by the caller and replayed unchanged across conflict
// retries.
func (c *Catalog) Borrow(ctx context.Context, user lending.UserIDString, itemID lending.ItemIDString, confirm bool) (lending.Outcome, error) {
	return c.mutateItem(ctx, "borrow", user, itemID, lending.ActionBorrow,
		func(_ lending.Account, item *lending.LendableItem) lending.Outcome {
			return item.Borrow(user, confirm, c.clock())
		})
}

// Return gives the item back. Only the current borrower or an admin may
// return it; a waiting head receives it in the same commit.
func (c *Catalog) Return(ctx context.Context, actor lending.UserIDString, itemID lending.ItemIDString) (lending.Outcome, error) {
	return c.mutateItem(ctx, "return", actor, itemID, lending.ActionReturn,
		func(account lending.Account, item *lending.LendableItem) lending.Outcome {
			if item.Borrower != actor && !account.IsAdmin() {
				return lending.Rejected(msgOnlyBorrowerOrAdmin)
			}
			return item.Return(c.clock())
		})
}

// JoinQueue enrolls the user into the item's waiting queue.
func (c *Catalog) JoinQueue(ctx context.Context, user lending.UserIDString, itemID lending.ItemIDString, confirm bool) (lending.Outcome, error) {
	return c.mutateItem(ctx, "join_queue", user, itemID, lending.ActionBorrow,
		func(_ lending.Account, item *lending.LendableItem) lending.Outcome {
			return item.JoinQueue(user, confirm, c.clock())
		})
}

// LeaveQueue withdraws the user from the item's waiting queue.
func (c *Catalog) LeaveQueue(ctx context.Context, user lending.UserIDString, itemID lending.ItemIDString) (lending.Outcome, error) {
	return c.mutateItem(ctx, "leave_queue", user, itemID, lending.ActionBorrow,
		func(_ lending.Account, item *lending.LendableItem) lending.Outcome {
			return item.LeaveQueue(user)
		})
}

// RequestBorrow files a borrow request for admin approval.
func (c *Catalog) RequestBorrow(ctx context.Context, user lending.UserIDString, itemID lending.ItemIDString, confirm bool) (lending.Outcome, error) {
	return c.mutateItem(ctx, "request_borrow", user, itemID, lending.ActionBorrow,
		func(_ lending.Account, item *lending.LendableItem) lending.Outcome {
			return item.RequestBorrow(user, confirm, c.clock())
		})
}

// ApproveRequest approves the target user's pending borrow request. Admin
// only; only the head of the pending queue may be approved.
func (c *Catalog) ApproveRequest(ctx context.Context, admin lending.UserIDString, itemID lending.ItemIDString, targetUser lending.UserIDString) (lending.Outcome, error) {
	return c.mutateItem(ctx, "approve_request", admin, itemID, lending.ActionApprove,
		func(_ lending.Account, item *lending.LendableItem) lending.Outcome {
			return item.ApproveRequest(targetUser, admin, c.clock())
		})
}

// RejectRequest removes the target user's pending borrow request. Admin only.
func (c *Catalog) RejectRequest(ctx context.Context, admin lending.UserIDString, itemID lending.ItemIDString, targetUser lending.UserIDString, reason string) (lending.Outcome, error) {
	return c.mutateItem(ctx, "reject_request", admin, itemID, lending.ActionApprove,
		func(_ lending.Account, item *lending.LendableItem) lending.Outcome {
			return item.RejectRequest(targetUser, admin, reason)
		})
}

// ListItems returns summaries of all items in title order, read from one
// consistent transactional view.
func (c *Catalog) ListItems(ctx context.Context) ([]ItemSummary, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Abort(ctx) }()

	stored, err := tx.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]ItemSummary, 0, len(stored))

	for _, s := range stored {
		item, convErr := s.Doc.ToItem()
		if convErr != nil {
			return nil, convErr
		}

		summaries = append(summaries, ItemSummary{
			ID:           item.ID,
			Title:        item.Title,
			Author:       item.Author,
			Available:    item.Available,
			Borrower:     item.Borrower,
			QueueSummary: item.Queue.Summary(),
			QueueMembers: item.Queue.Members(),
			PendingCount: item.Pending.Len(),
		})
	}

	return summaries, nil
}

// PendingRequests returns the item's pending borrow requests in filing order,
// for admin review.
func (c *Catalog) PendingRequests(ctx context.Context, itemID lending.ItemIDString) ([]lending.PendingRequest, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Abort(ctx) }()

	stored, err := tx.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	item, err := stored.Doc.ToItem()
	if err != nil {
		return nil, err
	}

	return item.PendingRequests(), nil
}

// mutateItem runs one state-machine transition inside the transactional
// template shared by all item mutations.
func (c *Catalog) mutateItem(
	ctx context.Context,
	operation string,
	actor lending.UserIDString,
	itemID lending.ItemIDString,
	action lending.Action,
	transition func(account lending.Account, item *lending.LendableItem) lending.Outcome,
) (lending.Outcome, error) {

	if !c.locks.TryAcquire(itemID, actor) {
		return lending.Rejected(msgItemLocked), nil
	}
	defer c.locks.Release(itemID, actor)

	var outcome lending.Outcome

	attempt := func(ctx context.Context) error {
		outcome = lending.Outcome{}

		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Abort(ctx) }()

		account, found, err := c.loadAccount(ctx, tx, actor)
		if err != nil {
			return err
		}
		if !found {
			outcome = lending.Rejected(msgUnknownUser)
			return nil
		}
		if !account.HasPermission(action) {
			outcome = lending.Rejected(msgNotPermitted)
			return nil
		}

		stored, err := tx.GetItem(ctx, itemID)
		if errors.Is(err, catalogstore.ErrItemNotFound) {
			outcome = lending.Rejected(msgItemNotFound)
			return nil
		}
		if err != nil {
			return err
		}

		item, err := stored.Doc.ToItem()
		if err != nil {
			return err
		}

		outcome = transition(account, &item)
		if !outcome.Mutated() {
			return nil
		}

		if err := tx.PutItem(ctx, catalogstore.BuildItemDocument(item), stored.Version); err != nil {
			return err
		}

		return tx.Commit(ctx)
	}

	err := RetryOnConflict(ctx, attempt, c.retryOptions(operation)...)
	if err == nil && outcome.Mutated() {
		c.notifier.MarkDirty()
	}

	return c.finish(outcome, err)
}

// retryOptions combines the configured policy with per-operation metrics
// labeling.
func (c *Catalog) retryOptions(operation string) []RetryOption {
	options := append([]RetryOption{}, c.retryOpts...)
	if c.metrics != nil {
		options = append(options, WithRetryMetrics(c.metrics, operation))
	}
	return options
}

// loadAccount reads the actor's account inside the transaction; a missing
// account is a business rejection, not an error.
func (c *Catalog) loadAccount(ctx context.Context, tx catalogstore.Tx, username lending.UserIDString) (lending.Account, bool, error) {
	stored, err := tx.GetAccount(ctx, username)
	if errors.Is(err, catalogstore.ErrAccountNotFound) {
		return lending.Account{}, false, nil
	}
	if err != nil {
		return lending.Account{}, false, err
	}

	return stored.Doc.ToAccount(), true, nil
}

// finish maps an exhausted conflict retry to the distinct "please try again"
// surface and logs infrastructure failures.
func (c *Catalog) finish(outcome lending.Outcome, err error) (lending.Outcome, error) {
	if err == nil {
		return outcome, nil
	}

	if errors.Is(err, catalogstore.ErrWriteConflict) {
		if c.logger != nil {
			c.logger.Warn("conflict retries exhausted", "error", err.Error())
		}
		return lending.Rejected(msgCatalogBusy), err
	}

	if c.logger != nil {
		c.logger.Error("catalog operation failed", "error", err.Error())
	}

	return lending.Outcome{}, err
}
