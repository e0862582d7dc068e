package lending

import (
	"fmt"
	"strings"
	"time"
)

// QueueEntry is one position in a WaitingQueue: who is waiting and since when.
type QueueEntry struct {
	UserID   UserIDString `json:"userId"`
	JoinedAt time.Time    `json:"joinedAt"`
}

// WaitingQueue is the per-item fairness queue: an ordered list of users
// waiting to borrow an item that is currently lent out. Insertion order is
// priority order, strict FIFO, and a user appears at most once.
type WaitingQueue struct {
	entries []QueueEntry
}

// BuildWaitingQueue creates a WaitingQueue from existing entries, for example
// when restoring an item from its stored document. The slice is copied.
func BuildWaitingQueue(entries []QueueEntry) WaitingQueue {
	q := WaitingQueue{}
	q.entries = append(q.entries, entries...)

	return q
}

// Add appends the user to the tail of the queue.
// It returns false if the user is already queued, leaving the queue unchanged.
func (q *WaitingQueue) Add(userID UserIDString, joinedAt time.Time) bool {
	if q.Contains(userID) {
		return false
	}

	q.entries = append(q.entries, QueueEntry{UserID: userID, JoinedAt: joinedAt})

	return true
}

// Remove deletes the user from the queue, preserving the order of the
// remaining entries. It returns false if the user was not queued.
func (q *WaitingQueue) Remove(userID UserIDString) bool {
	for i, entry := range q.entries {
		if entry.UserID == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}

	return false
}

// Contains reports whether the user is anywhere in the queue.
func (q *WaitingQueue) Contains(userID UserIDString) bool {
	for _, entry := range q.entries {
		if entry.UserID == userID {
			return true
		}
	}

	return false
}

// IsNext reports whether the user is at the head of a non-empty queue.
func (q *WaitingQueue) IsNext(userID UserIDString) bool {
	return len(q.entries) > 0 && q.entries[0].UserID == userID
}

// Head returns the user at the head of the queue.
// The second return value is false when the queue is empty.
func (q *WaitingQueue) Head() (QueueEntry, bool) {
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}

	return q.entries[0], true
}

// Position returns the 1-based queue position of the user and the time they
// joined. The third return value is false when the user is not queued.
func (q *WaitingQueue) Position(userID UserIDString) (int, time.Time, bool) {
	for i, entry := range q.entries {
		if entry.UserID == userID {
			return i + 1, entry.JoinedAt, true
		}
	}

	return 0, time.Time{}, false
}

// Len returns the number of queued users.
func (q *WaitingQueue) Len() int {
	return len(q.entries)
}

// Entries returns a copy of the queue in priority order.
func (q *WaitingQueue) Entries() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)

	return out
}

// Members returns the queued user ids in priority order.
func (q *WaitingQueue) Members() []UserIDString {
	members := make([]UserIDString, 0, len(q.entries))
	for _, entry := range q.entries {
		members = append(members, entry.UserID)
	}

	return members
}

// Summary renders the queue as a single human-readable line, for example
// "1. alice (since 2025-08-01 10:00:00), 2. bob (since 2025-08-01 10:05:00)".
func (q *WaitingQueue) Summary() string {
	if len(q.entries) == 0 {
		return "nobody is waiting"
	}

	parts := make([]string, 0, len(q.entries))
	for i, entry := range q.entries {
		parts = append(parts, fmt.Sprintf("%d. %s (since %s)", i+1, entry.UserID, entry.JoinedAt.Format(queueTimeFormat)))
	}

	return strings.Join(parts, ", ")
}

const queueTimeFormat = "2006-01-02 15:04:05"
