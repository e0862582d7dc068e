// Package coordinator is the orchestration shell around the lending domain
// core. It runs every catalog-mutating operation inside a store transaction,
// retries the whole operation on write conflicts, raises the change signal
// after successful commits, and hosts the background reconciliation loop
// that keeps each connected client's view of the catalog fresh.
package coordinator
