// Package database provides SQLite connection management and schema
// migrations for Haven Core.
//
// # Connection
//
// The database opens in WAL mode with a busy timeout and a single
// connection, matching SQLite's single-writer model. All repositories
// share one *DB.
//
// # Migrations
//
// Migrations are embedded SQL files registered via the migrations
// package. Filenames follow YYYYMMDD_HHMMSS_description.up.sql with an
// optional .down.sql counterpart. Each migration applies in its own
// transaction and is recorded in schema_migrations.
package database
