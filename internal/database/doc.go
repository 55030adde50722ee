// Package database opens the connection manager's backing databases.
//
// Connect returns a pgx pool for PostgreSQL deployments. OpenSQLite returns a
// sqlx handle on an embedded SQLite file for single-node and development runs.
package database
