package lending

// Outcome represents the result of a domain operation: whether the requested
// transition succeeded, a human-readable message explaining the result, and
// whether the item was mutated and therefore needs to be committed.
//
// A rejected Outcome is a business decision, not an error. Callers that need
// to distinguish infrastructure failures (store errors, exhausted conflict
// retries) receive those as ordinary Go errors alongside the Outcome.
//
// IMPORTANT: Outcome should only be constructed using the provided factory
// functions Accepted, Rejected, and RejectedButEnrolled, so that the mutation
// flag always matches what the operation actually did.
type Outcome struct {
	OK      bool
	Message string
	mutated bool
}

// Accepted creates an Outcome for a transition that was applied.
func Accepted(message string) Outcome {
	return Outcome{OK: true, Message: message, mutated: true}
}

// Rejected creates an Outcome for a transition that was refused by a
// business rule, leaving all state unchanged.
func Rejected(message string) Outcome {
	return Outcome{OK: false, Message: message}
}

// RejectedButEnrolled creates an Outcome for a borrow attempt that could not
// be satisfied but enrolled the caller into the waiting queue as a side
// effect. The operation did not succeed, yet the item changed and the change
// must be committed.
func RejectedButEnrolled(message string) Outcome {
	return Outcome{OK: false, Message: message, mutated: true}
}

// Mutated reports whether the operation changed the item, successful or not.
// The coordinator commits the enclosing transaction only when this is true.
func (o Outcome) Mutated() bool {
	return o.mutated
}
