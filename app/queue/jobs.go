package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/wirecutter/app/store"
)

// field limits for job payloads
const (
	maxUserLen        = 128
	maxTitleLen       = 256
	maxDescriptionLen = 4096
)

// Job is a queued work item joined with its rank
type Job struct {
	ID          string `db:"jobid"`
	User        string `db:"user_name"`
	A           int64  `db:"a"`
	B           int64  `db:"b"`
	C           int64  `db:"c"`
	Title       string `db:"title"`
	Description string `db:"description"`
	Rank        int64  `db:"job_rank"`
}

// JobFields is the payload for a new job
type JobFields struct {
	User        string `json:"user" jsonschema:"minLength=1,maxLength=128"`
	A           int64  `json:"a"`
	B           int64  `json:"b"`
	C           int64  `json:"c"`
	Title       string `json:"title" jsonschema:"minLength=1,maxLength=256"`
	Description string `json:"description" jsonschema:"maxLength=4096"`
}

// Validate checks required fields and limits
func (f JobFields) Validate() error {
	if strings.TrimSpace(f.User) == "" {
		return fmt.Errorf("%w: user is required", store.ErrInvalid)
	}
	if utf8.RuneCountInString(f.User) > maxUserLen {
		return fmt.Errorf("%w: user is longer than %d characters", store.ErrInvalid, maxUserLen)
	}
	return validateText(f.Title, f.Description)
}

// JobUpdate is the payload for updating a job, all fields are overwritten
type JobUpdate struct {
	Title       string `json:"title" jsonschema:"minLength=1,maxLength=256"`
	Description string `json:"description" jsonschema:"maxLength=4096"`
	A           int64  `json:"a"`
	B           int64  `json:"b"`
	C           int64  `json:"c"`
}

// Validate checks required fields and limits
func (u JobUpdate) Validate() error {
	return validateText(u.Title, u.Description)
}

func validateText(title, description string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", store.ErrInvalid)
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return fmt.Errorf("%w: title is longer than %d characters", store.ErrInvalid, maxTitleLen)
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return fmt.Errorf("%w: description is longer than %d characters", store.ErrInvalid, maxDescriptionLen)
	}
	return nil
}

const selectJobs = `SELECT j.jobid, j.user_name, j.a, j.b, j.c, j.title, j.description, r.job_rank
	FROM jobs j JOIN ranks r ON j.jobid = r.jobid`

// List returns all jobs, head of the queue (highest rank) first
func (s *Service) List(ctx context.Context) ([]Job, error) {
	jobs := []Job{}
	err := s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &jobs, selectJobs+" ORDER BY r.job_rank DESC"); err != nil {
			return fmt.Errorf("failed to query jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Get returns a single job by id
func (s *Service) Get(ctx context.Context, jobID string) (job Job, err error) {
	err = s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		job, err = getJob(ctx, tx, jobID)
		return err
	})
	return job, err
}

// Create adds a new job to the queue with the next (highest) rank and returns it.
// The rank lookup and both inserts share one unit of work.
func (s *Service) Create(ctx context.Context, fields JobFields) (Job, error) {
	if err := fields.Validate(); err != nil {
		return Job{}, err
	}
	job := Job{
		ID:          s.newID(),
		User:        fields.User,
		A:           fields.A,
		B:           fields.B,
		C:           fields.C,
		Title:       fields.Title,
		Description: fields.Description,
	}

	err := s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		rank, err := nextRank(ctx, tx)
		if err != nil {
			return err
		}
		job.Rank = rank

		_, err = tx.NamedExecContext(ctx, `INSERT INTO jobs (jobid, user_name, a, b, c, title, description)
			VALUES (:jobid, :user_name, :a, :b, :c, :title, :description)`, job)
		if err != nil {
			return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
		}
		return insertRank(ctx, tx, job.ID, rank)
	})
	if err != nil {
		return Job{}, err
	}

	log.Printf("[DEBUG] job %s created by %q with rank %d", job.ID, job.User, job.Rank)
	return job, nil
}

// Update overwrites title, description and numeric fields of an existing job
func (s *Service) Update(ctx context.Context, jobID string, upd JobUpdate) (job Job, err error) {
	if err := upd.Validate(); err != nil {
		return Job{}, err
	}

	err = s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE jobs SET title = ?, description = ?, a = ?, b = ?, c = ? WHERE jobid = ?`),
			upd.Title, upd.Description, upd.A, upd.B, upd.C, jobID)
		if err != nil {
			return fmt.Errorf("failed to update job %s: %w", jobID, err)
		}
		if err := expectAffected(res, jobID); err != nil {
			return err
		}
		job, err = getJob(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// Delete removes a job together with its rank
func (s *Service) Delete(ctx context.Context, jobID string) error {
	err := s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM jobs WHERE jobid = ?`), jobID)
		if err != nil {
			return fmt.Errorf("failed to delete job %s: %w", jobID, err)
		}
		if err := expectAffected(res, jobID); err != nil {
			return err
		}
		return deleteRank(ctx, tx, jobID)
	})
	if err != nil {
		return err
	}
	log.Printf("[DEBUG] job %s deleted", jobID)
	return nil
}

func getJob(ctx context.Context, tx *sqlx.Tx, jobID string) (job Job, err error) {
	err = tx.GetContext(ctx, &job, tx.Rebind(selectJobs+" WHERE j.jobid = ?"), jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// expectAffected maps zero affected rows to ErrNotFound
func expectAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows for job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
	}
	return nil
}
