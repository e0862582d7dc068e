// Package adapters provides database driver adapters for the Postgres
// catalog store engine. Each adapter wraps one way of talking to Postgres
// (pgx pool, sqlx, standard library sql.DB) behind the small DBAdapter /
// DBTx interfaces the engine is written against.
package adapters
