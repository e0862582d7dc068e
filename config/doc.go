// Package config provides database configuration helpers for the lending
// coordination engine.
//
// It contains factory functions for creating catalog database connections
// using the supported drivers (pgx.Pool, sql.DB, sqlx.DB, SQLite) with
// pre-configured DSNs overridable through environment variables.
//
// This package is part of the shell (infrastructure) layer.
package config
