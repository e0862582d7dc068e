// Package catalogstore defines the contract the lending engine consumes from
// the external transactional store: the Store and Tx interfaces with
// commit-time write-conflict signaling, the JSON documents items and accounts
// are persisted as (with an explicit schema-migration step at load), and the
// dependency-free observability interfaces the engines report through.
//
// Engines implementing the contract live in the subpackages postgresengine,
// sqliteengine, and memoryengine.
package catalogstore
