package lending

import "time"

// PendingRequest is one borrow request awaiting admin approval.
type PendingRequest struct {
	UserID      UserIDString `json:"userId"`
	RequestedAt time.Time    `json:"requestedAt"`
}

// PendingRequestQueue holds the per-item borrow requests awaiting admin
// approval, in the order they were filed. Only the head of the queue may be
// approved; rejection may target any entry.
type PendingRequestQueue struct {
	requests []PendingRequest
}

// BuildPendingRequestQueue creates a PendingRequestQueue from existing
// requests, for example when restoring an item from its stored document.
// The slice is copied.
func BuildPendingRequestQueue(requests []PendingRequest) PendingRequestQueue {
	q := PendingRequestQueue{}
	q.requests = append(q.requests, requests...)

	return q
}

// Add appends a request for the user to the tail of the queue.
// It returns false if the user already has a pending request.
func (q *PendingRequestQueue) Add(userID UserIDString, requestedAt time.Time) bool {
	if q.Contains(userID) {
		return false
	}

	q.requests = append(q.requests, PendingRequest{UserID: userID, RequestedAt: requestedAt})

	return true
}

// Remove deletes the user's request, preserving the order of the remaining
// requests. It returns false if the user has no pending request.
func (q *PendingRequestQueue) Remove(userID UserIDString) bool {
	for i, request := range q.requests {
		if request.UserID == userID {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return true
		}
	}

	return false
}

// Contains reports whether the user has a pending request.
func (q *PendingRequestQueue) Contains(userID UserIDString) bool {
	_, found := q.Find(userID)
	return found
}

// Find returns the user's pending request if one exists.
func (q *PendingRequestQueue) Find(userID UserIDString) (PendingRequest, bool) {
	for _, request := range q.requests {
		if request.UserID == userID {
			return request, true
		}
	}

	return PendingRequest{}, false
}

// IsHead reports whether the user's request is at the head of a non-empty queue.
func (q *PendingRequestQueue) IsHead(userID UserIDString) bool {
	return len(q.requests) > 0 && q.requests[0].UserID == userID
}

// Head returns the request at the head of the queue.
// The second return value is false when the queue is empty.
func (q *PendingRequestQueue) Head() (PendingRequest, bool) {
	if len(q.requests) == 0 {
		return PendingRequest{}, false
	}

	return q.requests[0], true
}

// Position returns the 1-based position of the user's request.
// The second return value is false when the user has no pending request.
func (q *PendingRequestQueue) Position(userID UserIDString) (int, bool) {
	for i, request := range q.requests {
		if request.UserID == userID {
			return i + 1, true
		}
	}

	return 0, false
}

// Len returns the number of pending requests.
func (q *PendingRequestQueue) Len() int {
	return len(q.requests)
}

// Requests returns a copy of the pending requests in filing order.
func (q *PendingRequestQueue) Requests() []PendingRequest {
	out := make([]PendingRequest, len(q.requests))
	copy(out, q.requests)

	return out
}
