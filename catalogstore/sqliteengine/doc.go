// Package sqliteengine implements the catalogstore contract on SQLite,
// using the pure-Go modernc.org/sqlite driver. It is meant for single-node
// deployments and local development where running Postgres is overkill.
//
// Documents live as JSON text in two tables:
//
//	CREATE TABLE items (
//	    item_id TEXT PRIMARY KEY,
//	    version INTEGER NOT NULL,
//	    payload TEXT NOT NULL
//	);
//
//	CREATE TABLE accounts (
//	    username TEXT PRIMARY KEY,
//	    version  INTEGER NOT NULL,
//	    payload  TEXT NOT NULL
//	);
//
// A unique expression index on json_extract(payload, '$.title') backs the
// unique-title rule for items, so racing inserts of the same title conflict
// at the store even though they carry different keys.
//
// The write discipline is identical to the Postgres engine: inserts use
// INSERT OR IGNORE, updates and deletes pin the expected version in the
// WHERE clause, and zero affected rows surfaces ErrWriteConflict.
package sqliteengine
