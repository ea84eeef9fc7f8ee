package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/wirecutter/app/store"
)

// StatusEntry is a single labeled value reported by the controller
type StatusEntry struct {
	Label string `json:"label" jsonschema:"minLength=1"`
	Info  string `json:"info"`
}

// Snapshot is the latest pushed controller status
type Snapshot struct {
	Time    time.Time
	Entries []StatusEntry
}

// Push records entries as the current status. The first push inserts the row, every later push
// overwrites the most recent one, so only one snapshot is ever retrievable.
func (s *Service) Push(ctx context.Context, entries []StatusEntry) (Snapshot, error) {
	for i, e := range entries {
		if strings.TrimSpace(e.Label) == "" {
			return Snapshot{}, fmt.Errorf("%w: entry %d has no label", store.ErrInvalid, i)
		}
	}
	if entries == nil {
		entries = []StatusEntry{}
	}
	info, err := json.Marshal(entries)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode status: %w", err)
	}
	snap := Snapshot{Time: time.UnixMilli(s.now().UnixMilli()), Entries: entries}
	ts := snap.Time.UnixMilli()

	err = s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		var count int
		if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM status_table`); err != nil {
			return fmt.Errorf("failed to count status rows: %w", err)
		}
		if count == 0 {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO status_table (pushed_at, info) VALUES (?, ?)`), ts, string(info)); err != nil {
				return fmt.Errorf("failed to insert status: %w", err)
			}
			return nil
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE status_table SET pushed_at = ?, info = ?
			WHERE id = (SELECT id FROM status_table ORDER BY pushed_at DESC, id DESC LIMIT 1)`), ts, string(info))
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Latest returns the current status snapshot, ErrNotFound if nothing was pushed yet
func (s *Service) Latest(ctx context.Context) (snap Snapshot, err error) {
	var row struct {
		PushedAt int64  `db:"pushed_at"`
		Info     string `db:"info"`
	}
	err = s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &row, `SELECT pushed_at, info FROM status_table ORDER BY pushed_at DESC, id DESC LIMIT 1`)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("status: %w", store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	snap.Time = time.UnixMilli(row.PushedAt)
	if err := json.Unmarshal([]byte(row.Info), &snap.Entries); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return snap, nil
}
