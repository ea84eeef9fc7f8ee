// Package store provides the persistence gateway shared by the job queue and the credential store.
// Each Gateway owns one bounded connection pool for one logical database and runs every
// operation as a unit of work: one connection, one transaction, commit on success and
// rollback on any error. Supported drivers are SQLite (modernc, WAL mode) and PostgreSQL (pgx).
package store
