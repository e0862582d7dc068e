// Package postgresengine implements the catalogstore contract on Postgres.
//
// Items and accounts are stored as JSONB documents in two tables, each row
// carrying a commit version. Every write is version-checked: an UPDATE or
// DELETE whose WHERE clause pins the expected version affects zero rows when
// a concurrent transaction committed first, and an INSERT for a supposedly
// new key inserts nothing when the key already exists. Both cases surface
// catalogstore.ErrWriteConflict; Postgres serialization failures at commit
// are mapped to the same error.
//
// Expected schema (table names are configurable via options):
//
//	CREATE TABLE items (
//	    item_id  TEXT PRIMARY KEY,
//	    version  BIGINT NOT NULL,
//	    payload  JSONB NOT NULL
//	);
//
//	CREATE TABLE accounts (
//	    username TEXT PRIMARY KEY,
//	    version  BIGINT NOT NULL,
//	    payload  JSONB NOT NULL
//	);
//
//	CREATE UNIQUE INDEX items_title_idx ON items ((payload->>'title'));
//
// The title index backs the unique-title rule for items: two clients adding
// the same title race on the index rather than on a shared key, and the
// loser's insert lands on the ON CONFLICT DO NOTHING clause, which reports
// zero affected rows and thus ErrWriteConflict.
//
// The engine can be constructed from a pgxpool.Pool, a sql.DB, or a sqlx.DB;
// all three run the same generated SQL through a thin adapter layer.
package postgresengine
