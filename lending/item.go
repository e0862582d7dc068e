package lending

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Rejection messages reported by the item state machine. Formats take the
// arguments named in their suffix.
const (
	msgItemBusy                = "item is being modified by another user"
	msgItemAvailable           = "item is available, you can borrow it directly"
	msgAlreadyBorrower         = "you have already borrowed this item"
	msgItemNotBorrowed         = "item is not borrowed"
	msgItemBorrowed            = "item is borrowed"
	msgEnrollmentCanceled      = "queue enrollment canceled"
	msgRequestCanceled         = "borrow request canceled"
	msgBorrowed                = "item borrowed successfully"
	msgReturned                = "item returned successfully"
	msgRequestFiled            = "borrow request filed, awaiting admin approval"
	fmtEnrolled                = "you have been added to the waiting queue at position %d"
	fmtAlreadyQueued           = "you are already at position %d in the waiting queue (since %s)"
	fmtAlreadyPending          = "you already have a pending borrow request for this item"
	fmtBorrowedEnrolled        = "item is borrowed by %s; %s; current queue: %s"
	fmtHeldForHead             = "item is being held for %s (position 1 in the waiting queue)"
	fmtRequestFiledAtPosition  = "borrow request filed, awaiting admin approval (position %d in the pending list)"
	fmtNoPendingRequest        = "no pending borrow request found for %s"
	fmtBlockedByEarlierRequest = "cannot approve this request, an earlier request by %s (filed %s) is still pending"
	fmtApprovedIntoQueue       = "request approved, %s was added to the waiting queue because the item is currently borrowed"
	fmtApprovedGranted         = "request approved, item granted to %s"
	fmtApprovedGrantedPending  = "request approved, item granted to %s (%d requests still pending)"
	fmtRequestRejected         = "borrow request by %s was rejected"
	fmtRequestRejectedReason   = "borrow request by %s was rejected: %s"
	fmtStaleRequestRemoved     = "%s already borrowed this item, their stale request was removed"
)

const itemTimeFormat = "2006-01-02 15:04:05"

// LendableItem is the shared resource unit governed by the lending state
// machine. It owns one WaitingQueue and one PendingRequestQueue and is
// mutated exclusively through its own operations, each of which acquires the
// item's advisory lock for the duration of the call.
//
// Invariants maintained by all operations:
//   - Available == false exactly when Borrower is set.
//   - Borrower is never in the item's waiting queue.
//   - A user appears in the waiting queue at most once, in the pending
//     request queue at most once, and never in both at the same time.
//
// The advisory lock only prevents two operations in the same process from
// interleaving on one item; cross-process exclusion is the store's
// commit-time conflict detection, which the coordinator retries on.
type LendableItem struct {
	ID         ItemIDString
	Title      string
	Author     string
	Available  bool
	Borrower   UserIDString // empty when Available
	BorrowedAt time.Time    // zero when Available
	Queue      WaitingQueue
	Pending    PendingRequestQueue

	// Advisory lock state, volatile: never persisted, reset on load.
	locked   bool
	lockedBy UserIDString
}

// BuildLendableItem creates a new available item with a generated id and
// empty queues, for the administrative add operation.
func BuildLendableItem(title string, author string) LendableItem {
	return LendableItem{
		ID:        uuid.New().String(),
		Title:     title,
		Author:    author,
		Available: true,
	}
}

// TryLock attempts to acquire the item's advisory lock for the given user.
// It fails only when the item is currently locked by a different user and is
// re-entrant for the current holder.
func (item *LendableItem) TryLock(userID UserIDString) bool {
	if item.locked && item.lockedBy != userID {
		return false
	}

	item.locked = true
	item.lockedBy = userID

	return true
}

// ReleaseLock releases the advisory lock. It is safe to call when unlocked.
func (item *LendableItem) ReleaseLock() {
	item.locked = false
	item.lockedBy = ""
}

// IsLockedBy reports whether the advisory lock is currently held by the user.
func (item *LendableItem) IsLockedBy(userID UserIDString) bool {
	return item.locked && item.lockedBy == userID
}

// JoinQueue enrolls the user into the waiting queue.
//
// Rejected when the item is available (it should be borrowed directly), when
// the user is the current borrower, or when the user is already queued.
// Enrollment requires the caller's explicit confirmation, captured once
// before the operation and passed in so that conflict retries never
// re-solicit it.
func (item *LendableItem) JoinQueue(userID UserIDString, confirm bool, now time.Time) Outcome {
	if !item.TryLock(userID) {
		return Rejected(msgItemBusy)
	}
	defer item.ReleaseLock()

	if item.Available {
		return Rejected(msgItemAvailable)
	}

	if item.Borrower == userID {
		return Rejected(msgAlreadyBorrower)
	}

	if position, joinedAt, queued := item.Queue.Position(userID); queued {
		return Rejected(fmt.Sprintf(fmtAlreadyQueued, position, joinedAt.Format(itemTimeFormat)))
	}

	if item.Pending.Contains(userID) {
		return Rejected(fmtAlreadyPending)
	}

	if !confirm {
		return Rejected(msgEnrollmentCanceled)
	}

	item.Queue.Add(userID, now)

	return Accepted(fmt.Sprintf(fmtEnrolled, item.Queue.Len()))
}

// LeaveQueue withdraws the user from the waiting queue.
func (item *LendableItem) LeaveQueue(userID UserIDString) Outcome {
	if !item.TryLock(userID) {
		return Rejected(msgItemBusy)
	}
	defer item.ReleaseLock()

	if !item.Queue.Remove(userID) {
		return Rejected("you are not in the waiting queue")
	}

	return Accepted("you have left the waiting queue")
}

// Borrow attempts to grant the item to the user.
//
// When the item is unavailable the user is implicitly enrolled into the
// waiting queue (subject to the confirmation captured in confirm) and the
// resulting position is reported. When the item is available but the waiting
// queue is non-empty, only the head of the queue may borrow; anyone else is
// rejected with a message naming the head.
func (item *LendableItem) Borrow(userID UserIDString, confirm bool, now time.Time) Outcome {
	if !item.TryLock(userID) {
		return Rejected(msgItemBusy)
	}
	defer item.ReleaseLock()

	if !item.Available {
		return item.borrowWhileUnavailable(userID, confirm, now)
	}

	if item.Queue.Len() > 0 && !item.Queue.IsNext(userID) {
		head, _ := item.Queue.Head()
		return Rejected(fmt.Sprintf(fmtHeldForHead, head.UserID))
	}

	item.grantTo(userID, now)

	return Accepted(msgBorrowed)
}

// borrowWhileUnavailable handles a borrow attempt against a borrowed item:
// the caller either learns they already hold it, gets enrolled into the
// queue, or learns their existing position.
func (item *LendableItem) borrowWhileUnavailable(userID UserIDString, confirm bool, now time.Time) Outcome {
	if item.Borrower == userID {
		return Rejected(msgAlreadyBorrower)
	}

	if item.Queue.Contains(userID) {
		if item.Queue.IsNext(userID) {
			// The head should have been promoted by the return hand-off, so
			// observing this state means the item really is still borrowed.
			return Rejected(msgItemBorrowed)
		}

		position, joinedAt, _ := item.Queue.Position(userID)

		return Rejected(fmt.Sprintf(fmtAlreadyQueued, position, joinedAt.Format(itemTimeFormat)))
	}

	if item.Pending.Contains(userID) {
		return Rejected(fmtAlreadyPending)
	}

	if !confirm {
		return Rejected(fmt.Sprintf(fmtBorrowedEnrolled, item.Borrower, msgEnrollmentCanceled, item.Queue.Summary()))
	}

	item.Queue.Add(userID, now)

	enrolled := fmt.Sprintf(fmtEnrolled, item.Queue.Len())

	return RejectedButEnrolled(fmt.Sprintf(fmtBorrowedEnrolled, item.Borrower, enrolled, item.Queue.Summary()))
}

// Return gives the item back.
//
// When the waiting queue is non-empty the item is handed off directly to the
// head of the queue without ever exposing an intermediate available state;
// otherwise it becomes available again.
func (item *LendableItem) Return(now time.Time) Outcome {
	holder := item.Borrower
	if holder == "" {
		holder = "unknown"
	}

	if !item.TryLock(holder) {
		return Rejected(msgItemBusy)
	}
	defer item.ReleaseLock()

	if item.Available {
		return Rejected(msgItemNotBorrowed)
	}

	if next, ok := item.Queue.Head(); ok {
		// Atomic hand-off: the borrower changes but the item never becomes
		// available in between.
		item.grantTo(next.UserID, now)
		return Accepted(msgReturned)
	}

	item.Available = true
	item.Borrower = ""
	item.BorrowedAt = time.Time{}

	return Accepted(msgReturned)
}

// RequestBorrow files a borrow request for admin approval.
//
// When the item is unavailable the user is offered waiting-queue enrollment
// (subject to confirm) instead of a pending request. When the item is
// available, confirmation is required only when other requests are already
// pending, to warn the caller of their position.
func (item *LendableItem) RequestBorrow(userID UserIDString, confirm bool, now time.Time) Outcome {
	if !item.TryLock(userID) {
		return Rejected(msgItemBusy)
	}
	defer item.ReleaseLock()

	if !item.Available {
		if item.Borrower == userID {
			return Rejected(msgAlreadyBorrower)
		}

		if position, joinedAt, queued := item.Queue.Position(userID); queued {
			return Rejected(fmt.Sprintf(fmtAlreadyQueued, position, joinedAt.Format(itemTimeFormat)))
		}

		if item.Pending.Contains(userID) {
			return Rejected(fmtAlreadyPending)
		}

		if !confirm {
			return Rejected(msgEnrollmentCanceled)
		}

		item.Queue.Add(userID, now)

		return Accepted(fmt.Sprintf(fmtEnrolled, item.Queue.Len()))
	}

	if item.Pending.Contains(userID) {
		return Rejected(fmtAlreadyPending)
	}

	if item.Pending.Len() > 0 && !confirm {
		return Rejected(msgRequestCanceled)
	}

	item.Pending.Add(userID, now)

	if position, _ := item.Pending.Position(userID); position > 1 {
		return Accepted(fmt.Sprintf(fmtRequestFiledAtPosition, position))
	}

	return Accepted(msgRequestFiled)
}

// ApproveRequest approves the target user's pending borrow request.
//
// Only the head of the pending queue may be approved; approving a later
// request is rejected with a message naming the blocking earlier request. If
// the item became unavailable since the request was filed, the approved user
// is moved into the waiting queue instead of being granted custody.
func (item *LendableItem) ApproveRequest(targetUser UserIDString, adminUser UserIDString, now time.Time) Outcome {
	if !item.TryLock(adminUser) {
		return Rejected(msgItemBusy)
	}
	defer item.ReleaseLock()

	if !item.Pending.Contains(targetUser) {
		return Rejected(fmt.Sprintf(fmtNoPendingRequest, targetUser))
	}

	if !item.Pending.IsHead(targetUser) {
		head, _ := item.Pending.Head()
		return Rejected(fmt.Sprintf(fmtBlockedByEarlierRequest, head.UserID, head.RequestedAt.Format(itemTimeFormat)))
	}

	item.Pending.Remove(targetUser)

	if item.Borrower == targetUser {
		// The filer borrowed the item itself in the meantime; enrolling them
		// would put the borrower into their own waiting queue.
		return Accepted(fmt.Sprintf(fmtStaleRequestRemoved, targetUser))
	}

	if !item.Available {
		item.Queue.Add(targetUser, now)
		return Accepted(fmt.Sprintf(fmtApprovedIntoQueue, targetUser))
	}

	item.grantTo(targetUser, now)

	if remaining := item.Pending.Len(); remaining > 0 {
		return Accepted(fmt.Sprintf(fmtApprovedGrantedPending, targetUser, remaining))
	}

	return Accepted(fmt.Sprintf(fmtApprovedGranted, targetUser))
}

// RejectRequest removes the target user's pending borrow request without
// changing availability.
func (item *LendableItem) RejectRequest(targetUser UserIDString, adminUser UserIDString, reason string) Outcome {
	if !item.TryLock(adminUser) {
		return Rejected(msgItemBusy)
	}
	defer item.ReleaseLock()

	if !item.Pending.Remove(targetUser) {
		return Rejected(fmt.Sprintf(fmtNoPendingRequest, targetUser))
	}

	if reason != "" {
		return Accepted(fmt.Sprintf(fmtRequestRejectedReason, targetUser, reason))
	}

	return Accepted(fmt.Sprintf(fmtRequestRejected, targetUser))
}

// PendingRequests returns the pending borrow requests in filing order.
func (item *LendableItem) PendingRequests() []PendingRequest {
	return item.Pending.Requests()
}

// CanBeDeleted reports whether the administrative delete operation is legal
// for this item, which is only the case while it is available.
func (item *LendableItem) CanBeDeleted() bool {
	return item.Available
}

// grantTo makes the user the borrower, removing them from the waiting queue
// so the borrower is never also queued.
func (item *LendableItem) grantTo(userID UserIDString, now time.Time) {
	item.Available = false
	item.Borrower = userID
	item.BorrowedAt = now
	item.Queue.Remove(userID)
}
