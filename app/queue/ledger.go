package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/wirecutter/app/store"
)

// RankEntry sets the rank of a single job
type RankEntry struct {
	JobID string `json:"jobid" jsonschema:"minLength=1"`
	Rank  int64  `json:"jobRank"`
}

// Rerank applies rank entries in the given order as one unit of work. Either all entries are
// applied or none: an entry for an unknown job fails the whole batch with ErrNotFound.
func (s *Service) Rerank(ctx context.Context, entries []RankEntry) error {
	for i, e := range entries {
		if strings.TrimSpace(e.JobID) == "" {
			return fmt.Errorf("%w: entry %d has no jobid", store.ErrInvalid, i)
		}
	}
	if len(entries) == 0 {
		return nil
	}

	err := s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`UPDATE ranks SET job_rank = ? WHERE jobid = ?`))
		if err != nil {
			return fmt.Errorf("failed to prepare rank update: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			res, err := stmt.ExecContext(ctx, e.Rank, e.JobID)
			if err != nil {
				return fmt.Errorf("failed to update rank of job %s: %w", e.JobID, err)
			}
			if err := expectAffected(res, e.JobID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[DEBUG] ranks updated for %d jobs", len(entries))
	return nil
}

// nextRank returns the rank for a new job: current max + 1, or 0 if the ledger is empty.
// It is not locked against concurrent creates, two of them may get the same rank.
func nextRank(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	var rank int64
	err := tx.GetContext(ctx, &rank, `SELECT job_rank FROM ranks ORDER BY job_rank DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get max rank: %w", err)
	}
	return rank + 1, nil
}

func insertRank(ctx context.Context, tx *sqlx.Tx, jobID string, rank int64) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO ranks (jobid, job_rank) VALUES (?, ?)`), jobID, rank); err != nil {
		return fmt.Errorf("failed to insert rank for job %s: %w", jobID, err)
	}
	return nil
}

func deleteRank(ctx context.Context, tx *sqlx.Tx, jobID string) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM ranks WHERE jobid = ?`), jobID); err != nil {
		return fmt.Errorf("failed to delete rank for job %s: %w", jobID, err)
	}
	return nil
}
