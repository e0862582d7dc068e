package lending

// Instead of implementing full value objects, alias types keep the
// signatures in this package self-describing.

// ItemIDString represents a lendable item identifier.
type ItemIDString = string

// UserIDString represents a user identifier (the account username).
type UserIDString = string
