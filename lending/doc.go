// Package lending contains the pure domain core of the lending coordination
// engine: the per-item state machine with its fairness queues, the outcome
// type every operation reports through, and the account record with its role
// permissions.
//
// Nothing in this package performs I/O. All operations are synchronous
// transitions on in-memory state and report business rejections as
// Outcome values, never as errors. Persistence, transactions, conflict
// retry, and change propagation live in the coordinator and catalogstore
// packages.
package lending
