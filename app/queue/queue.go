// Package queue implements the mcp101 ordered job queue: jobs with an explicit rank (higher rank is
// closer to the head of the queue) and a single-row status snapshot pushed by the external controller.
// All operations run as units of work on the jobs database gateway.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/wirecutter/app/store"
)

// UnitOfWork runs op inside one transaction on one pooled connection, see store.Gateway
type UnitOfWork interface {
	Do(ctx context.Context, op func(tx *sqlx.Tx) error) error
}

// Service provides job, rank and status operations
type Service struct {
	gw    UnitOfWork
	now   func() time.Time
	newID func() string
}

// Schema defines tables used by the queue, per driver
var Schema = store.Schema{
	store.DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS jobs (
			jobid TEXT PRIMARY KEY,
			user_name TEXT NOT NULL,
			a INTEGER NOT NULL DEFAULT 0,
			b INTEGER NOT NULL DEFAULT 0,
			c INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ranks (
			jobid TEXT PRIMARY KEY,
			job_rank INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ranks_job_rank ON ranks(job_rank)`,
		`CREATE TABLE IF NOT EXISTS status_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pushed_at INTEGER NOT NULL,
			info TEXT NOT NULL
		)`,
	},
	store.DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS jobs (
			jobid TEXT PRIMARY KEY,
			user_name TEXT NOT NULL,
			a BIGINT NOT NULL DEFAULT 0,
			b BIGINT NOT NULL DEFAULT 0,
			c BIGINT NOT NULL DEFAULT 0,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ranks (
			jobid TEXT PRIMARY KEY,
			job_rank BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ranks_job_rank ON ranks(job_rank)`,
		`CREATE TABLE IF NOT EXISTS status_table (
			id BIGSERIAL PRIMARY KEY,
			pushed_at BIGINT NOT NULL,
			info TEXT NOT NULL
		)`,
	},
}

// New makes a queue service on top of the jobs database
func New(gw UnitOfWork) *Service {
	return &Service{gw: gw, now: time.Now, newID: uuid.NewString}
}
