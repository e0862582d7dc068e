package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/catalogstore/memoryengine"
	"github.com/flowlend/lending-coordinator-go/coordinator"
	"github.com/flowlend/lending-coordinator-go/lending"
)

func Test_Borrow_GrantsAvailableItem(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	// act
	outcome, err := catalog.Borrow(ctx, "alice", itemID, false)

	// assert
	require.NoError(t, err)
	assert.True(t, outcome.OK)

	item := findItem(t, catalog, itemID)
	assert.False(t, item.Available)
	assert.Equal(t, "alice", item.Borrower)
}

func Test_Return_HandsOffToQueueHead(t *testing.T) {
	// arrange - alice holds the item, bob waits at position 1
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	joined, err := catalog.JoinQueue(ctx, "bob", itemID, true)
	require.NoError(t, err)
	require.True(t, joined.OK)
	assert.Contains(t, joined.Message, "position 1")

	// act
	returned, err := catalog.Return(ctx, "alice", itemID)
	mustAccept(t, returned, err)

	// assert - the hand-off never exposed an available state
	item := findItem(t, catalog, itemID)
	assert.False(t, item.Available)
	assert.Equal(t, "bob", item.Borrower)
	assert.Empty(t, item.QueueMembers)
}

func Test_Borrow_EnrollsCaller_WhenItemIsBorrowed(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	// act
	outcome, err := catalog.Borrow(ctx, "bob", itemID, true)

	// assert - the borrow failed but the enrollment was committed
	require.NoError(t, err)
	assert.False(t, outcome.OK)

	item := findItem(t, catalog, itemID)
	assert.Equal(t, []string{"bob"}, item.QueueMembers)
}

func Test_Borrow_ReportsExistingPosition_ForQueuedUser(t *testing.T) {
	// arrange - bob and carol queue in that order
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob", "carol")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	joined, err := catalog.JoinQueue(ctx, "bob", itemID, true)
	mustAccept(t, joined, err)

	joined, err = catalog.JoinQueue(ctx, "carol", itemID, true)
	mustAccept(t, joined, err)

	// act
	outcome, err := catalog.Borrow(ctx, "carol", itemID, true)

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Message, "position 2")
}

func Test_FIFO_AcrossReturns(t *testing.T) {
	// arrange - bob joins strictly before carol
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob", "carol")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	joined, err := catalog.JoinQueue(ctx, "bob", itemID, true)
	mustAccept(t, joined, err)

	joined, err = catalog.JoinQueue(ctx, "carol", itemID, true)
	mustAccept(t, joined, err)

	// act + assert - every return serves the earliest waiter first
	returned, err := catalog.Return(ctx, "alice", itemID)
	mustAccept(t, returned, err)
	assert.Equal(t, "bob", findItem(t, catalog, itemID).Borrower)

	returned, err = catalog.Return(ctx, "bob", itemID)
	mustAccept(t, returned, err)
	assert.Equal(t, "carol", findItem(t, catalog, itemID).Borrower)

	returned, err = catalog.Return(ctx, "carol", itemID)
	mustAccept(t, returned, err)
	assert.True(t, findItem(t, catalog, itemID).Available)
}

func Test_Return_Rejected_ForNonBorrowerNonAdmin(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	// act
	outcome, err := catalog.Return(ctx, "bob", itemID)

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Equal(t, "alice", findItem(t, catalog, itemID).Borrower)
}

func Test_Return_Allowed_ForAdmin(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	// act
	outcome, err := catalog.Return(ctx, "admin", itemID)

	// assert
	require.NoError(t, err)
	assert.True(t, outcome.OK)
	assert.True(t, findItem(t, catalog, itemID).Available)
}

func Test_AddItem_RejectsDuplicateTitle(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin")
	catalog := givenCatalog(t, store)
	givenItem(t, catalog, "The Go Programming Language")

	// act
	outcome, err := catalog.AddItem(ctx, "admin", "The Go Programming Language", "Someone Else")

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)

	items, err := catalog.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func Test_AddItem_Rejected_ForNonAdmin(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice")
	catalog := givenCatalog(t, store)

	// act
	outcome, err := catalog.AddItem(ctx, "alice", "Sneaky Addition", "Alice")

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)
}

func Test_DeleteItem_Rejected_WhileBorrowed(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	// act
	outcome, err := catalog.DeleteItem(ctx, "admin", itemID)

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Equal(t, "alice", findItem(t, catalog, itemID).Borrower)
}

func Test_DeleteItem_RemovesAvailableItem(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	// act
	outcome, err := catalog.DeleteItem(ctx, "admin", itemID)

	// assert
	require.NoError(t, err)
	assert.True(t, outcome.OK)

	items, err := catalog.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func Test_ApproveRequest_EnrollsUser_WhenItemBecameBorrowed(t *testing.T) {
	// arrange - alice files a request while the item is free, then bob takes it
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	requested, err := catalog.RequestBorrow(ctx, "alice", itemID, false)
	mustAccept(t, requested, err)

	borrowed, err := catalog.Borrow(ctx, "bob", itemID, false)
	mustAccept(t, borrowed, err)

	// act
	outcome, err := catalog.ApproveRequest(ctx, "admin", itemID, "alice")

	// assert - alice is queued, not granted custody
	require.NoError(t, err)
	assert.True(t, outcome.OK)

	item := findItem(t, catalog, itemID)
	assert.Equal(t, "bob", item.Borrower)
	assert.Equal(t, []string{"alice"}, item.QueueMembers)
	assert.Zero(t, item.PendingCount)
}

func Test_ApproveRequest_Rejected_OutOfOrder(t *testing.T) {
	// arrange - requests filed in order [alice, bob]
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	requested, err := catalog.RequestBorrow(ctx, "alice", itemID, false)
	mustAccept(t, requested, err)

	requested, err = catalog.RequestBorrow(ctx, "bob", itemID, true)
	mustAccept(t, requested, err)

	// act - bob cannot be approved while alice's request is outstanding
	outcome, err := catalog.ApproveRequest(ctx, "admin", itemID, "bob")
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Message, "alice")

	// approving alice unblocks bob
	approved, err := catalog.ApproveRequest(ctx, "admin", itemID, "alice")
	mustAccept(t, approved, err)

	returned, err := catalog.Return(ctx, "alice", itemID)
	mustAccept(t, returned, err)

	outcome, err = catalog.ApproveRequest(ctx, "admin", itemID, "bob")
	require.NoError(t, err)
	assert.True(t, outcome.OK)
	assert.Equal(t, "bob", findItem(t, catalog, itemID).Borrower)
}

func Test_ApproveRequest_Rejected_ForNonAdmin(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	requested, err := catalog.RequestBorrow(ctx, "alice", itemID, false)
	mustAccept(t, requested, err)

	// act
	outcome, err := catalog.ApproveRequest(ctx, "bob", itemID, "alice")

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Equal(t, 1, findItem(t, catalog, itemID).PendingCount)
}

func Test_RejectRequest_RemovesPendingRequest(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	requested, err := catalog.RequestBorrow(ctx, "alice", itemID, false)
	mustAccept(t, requested, err)

	// act
	outcome, err := catalog.RejectRequest(ctx, "admin", itemID, "alice", "not this month")

	// assert
	require.NoError(t, err)
	assert.True(t, outcome.OK)
	assert.Contains(t, outcome.Message, "not this month")
	assert.Zero(t, findItem(t, catalog, itemID).PendingCount)
}

func Test_PendingRequests_ReturnsFilingOrder(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	requested, err := catalog.RequestBorrow(ctx, "alice", itemID, false)
	mustAccept(t, requested, err)

	requested, err = catalog.RequestBorrow(ctx, "bob", itemID, true)
	mustAccept(t, requested, err)

	// act
	pending, err := catalog.PendingRequests(ctx, itemID)

	// assert
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "alice", pending[0].UserID)
	assert.Equal(t, "bob", pending[1].UserID)
}

func Test_LeaveQueue_WithdrawsUser(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	joined, err := catalog.JoinQueue(ctx, "bob", itemID, true)
	mustAccept(t, joined, err)

	// act
	outcome, err := catalog.LeaveQueue(ctx, "bob", itemID)

	// assert
	require.NoError(t, err)
	assert.True(t, outcome.OK)
	assert.Empty(t, findItem(t, catalog, itemID).QueueMembers)
}

func Test_JoinQueue_Rejected_ForPendingRequester_CatalogStaysReadable(t *testing.T) {
	// arrange - victor files a request while the item is free, then uma borrows
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "uma", "victor")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	requested, err := catalog.RequestBorrow(ctx, "victor", itemID, false)
	mustAccept(t, requested, err)

	borrowed, err := catalog.Borrow(ctx, "uma", itemID, false)
	mustAccept(t, borrowed, err)

	// act - neither explicit nor implicit enrollment may double-book victor
	joined, err := catalog.JoinQueue(ctx, "victor", itemID, true)
	require.NoError(t, err)
	assert.False(t, joined.OK)

	reBorrowed, err := catalog.Borrow(ctx, "victor", itemID, true)
	require.NoError(t, err)
	assert.False(t, reBorrowed.OK)

	// assert - the stored document still loads on every read path
	item := findItem(t, catalog, itemID)
	assert.Empty(t, item.QueueMembers)
	assert.Equal(t, 1, item.PendingCount)
}

func Test_UnknownActor_IsRejected(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")

	// act
	outcome, err := catalog.Borrow(ctx, "nobody", itemID, false)

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.True(t, findItem(t, catalog, itemID).Available)
}

func Test_Mutation_RaisesDirtySignal_RejectionDoesNot(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice")
	catalog := givenCatalog(t, store)
	itemID := givenItem(t, catalog, "The Go Programming Language")
	drainDirty(catalog.Notifier())

	// act + assert - a committed mutation raises the signal
	borrowed, err := catalog.Borrow(ctx, "alice", itemID, false)
	mustAccept(t, borrowed, err)

	select {
	case <-catalog.Notifier().Dirty():
	default:
		t.Fatal("expected the dirty signal after a committed mutation")
	}

	// a pure rejection commits nothing and stays silent
	outcome, err := catalog.Borrow(ctx, "alice", itemID, false)
	require.NoError(t, err)
	require.False(t, outcome.OK)

	select {
	case <-catalog.Notifier().Dirty():
		t.Fatal("a rejection must not raise the dirty signal")
	default:
	}
}

func Test_ConcurrentBorrows_ExactlyOneWins(t *testing.T) {
	// arrange - two independent clients race for the same available item
	ctx := context.Background()
	store := givenStoreWithAccounts(t, "admin", "alice", "bob")

	catalogA := givenCatalog(t, store)
	catalogB := givenCatalog(t, store)
	itemID := givenItem(t, catalogA, "The Go Programming Language")

	var outcomeA, outcomeB lending.Outcome
	var wg sync.WaitGroup
	wg.Add(2)

	// act
	go func() {
		defer wg.Done()
		outcomeA, _ = catalogA.Borrow(ctx, "alice", itemID, true)
	}()
	go func() {
		defer wg.Done()
		outcomeB, _ = catalogB.Borrow(ctx, "bob", itemID, true)
	}()
	wg.Wait()

	// assert - exactly one succeeded, the loser observed the post-commit state
	assert.NotEqual(t, outcomeA.OK, outcomeB.OK, "exactly one of the two borrows must win")

	item := findItem(t, catalogA, itemID)
	require.False(t, item.Available)

	winner, loser := "alice", "bob"
	if outcomeB.OK {
		winner, loser = "bob", "alice"
	}

	assert.Equal(t, winner, item.Borrower)
	assert.Equal(t, []string{loser}, item.QueueMembers)
}

// --- helpers ---

func givenStoreWithAccounts(t *testing.T, usernames ...string) *memoryengine.Store {
	t.Helper()

	ctx := context.Background()
	store := memoryengine.NewStore()

	for _, username := range usernames {
		role := lending.RoleUser
		if username == "admin" {
			role = lending.RoleAdmin
		}

		doc := catalogstore.AccountDocument{Username: username, Role: string(role)}

		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.PutAccount(ctx, doc, 0))
		require.NoError(t, tx.Commit(ctx))
	}

	return store
}

func givenCatalog(t *testing.T, store *memoryengine.Store) *coordinator.Catalog {
	t.Helper()

	catalog, err := coordinator.NewCatalog(store,
		coordinator.WithRetryPolicy(
			coordinator.WithMaxAttempts(3),
			coordinator.WithRetryDelay(time.Millisecond),
		),
	)
	require.NoError(t, err)

	return catalog
}

func givenItem(t *testing.T, catalog *coordinator.Catalog, title string) string {
	t.Helper()

	ctx := context.Background()

	outcome, err := catalog.AddItem(ctx, "admin", title, "Some Author")
	require.NoError(t, err)
	require.True(t, outcome.OK, outcome.Message)

	items, err := catalog.ListItems(ctx)
	require.NoError(t, err)

	for _, item := range items {
		if item.Title == title {
			return item.ID
		}
	}

	t.Fatalf("item %q not found after adding it", title)
	return ""
}

func findItem(t *testing.T, catalog *coordinator.Catalog, itemID string) coordinator.ItemSummary {
	t.Helper()

	items, err := catalog.ListItems(context.Background())
	require.NoError(t, err)

	for _, item := range items {
		if item.ID == itemID {
			return item
		}
	}

	t.Fatalf("item %s not found", itemID)
	return coordinator.ItemSummary{}
}

func mustAccept(t *testing.T, outcome lending.Outcome, err error) {
	t.Helper()

	require.NoError(t, err)
	require.True(t, outcome.OK, outcome.Message)
}

func drainDirty(notifier *coordinator.ChangeNotifier) {
	select {
	case <-notifier.Dirty():
	default:
	}
}
