package config

import (
	"database/sql"
	"log"

	"github.com/flowlend/lending-coordinator-go/catalogstore/sqliteengine"
)

// SQLiteDBConfig creates a configured *sql.DB for a SQLite catalog database
// with the schema applied.
func SQLiteDBConfig() *sql.DB {
	db, err := sqliteengine.Open(SQLitePath())
	if err != nil {
		log.Fatal("Failed to open database connection, error: ", err)
	}

	if err := sqliteengine.EnsureSchema(db); err != nil {
		log.Fatal("Failed to create database schema, error: ", err)
	}

	return db
}
