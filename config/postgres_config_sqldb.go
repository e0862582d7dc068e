package config

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresSQLDBConfig creates a configured *sql.DB for the catalog database.
func PostgresSQLDBConfig() *sql.DB {
	const defaultMaxOpenConnections = 50
	const defaultMaxIdleConnections = 10
	const defaultMaxConnLifetime = time.Hour
	const defaultMaxConnIdleTime = time.Minute * 5

	db, err := sql.Open("postgres", PostgresDSN())
	if err != nil {
		log.Fatal("Failed to open database connection, error: ", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConnections)
	db.SetMaxIdleConns(defaultMaxIdleConnections)
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)

	if pingErr := db.PingContext(context.Background()); pingErr != nil {
		log.Fatal("Failed to ping database, error: ", pingErr)
	}

	return db
}
