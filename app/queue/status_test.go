package queue

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/wirecutter/app/store"
)

func TestService_Status(t *testing.T) {
	svc, gw := newTestService(t)
	ctx := t.Context()

	ts := time.Date(2026, 10, 16, 12, 30, 45, 123456789, time.UTC)
	svc.now = func() time.Time { return ts }

	t.Run("latest on empty table", func(t *testing.T) {
		_, err := svc.Latest(ctx)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("push then latest round-trips", func(t *testing.T) {
		entries := []StatusEntry{{Label: "speed", Info: "12"}, {Label: "state", Info: "cutting"}}
		pushed, err := svc.Push(ctx, entries)
		require.NoError(t, err)
		assert.True(t, pushed.Time.Equal(ts.Truncate(time.Millisecond)))

		snap, err := svc.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, entries, snap.Entries)
		assert.True(t, snap.Time.Equal(pushed.Time))
		assert.Equal(t, 1, countRows(t, gw, "status_table"))
	})

	t.Run("repeated pushes keep a single snapshot", func(t *testing.T) {
		for i := range 5 {
			ts = ts.Add(time.Second)
			_, err := svc.Push(ctx, []StatusEntry{{Label: "step", Info: string(rune('a' + i))}})
			require.NoError(t, err)
		}
		snap, err := svc.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, []StatusEntry{{Label: "step", Info: "e"}}, snap.Entries)
		assert.True(t, snap.Time.Equal(ts.Truncate(time.Millisecond)))
		assert.Equal(t, 1, countRows(t, gw, "status_table"))
	})

	t.Run("empty entries", func(t *testing.T) {
		_, err := svc.Push(ctx, nil)
		require.NoError(t, err)
		snap, err := svc.Latest(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Entries)
	})

	t.Run("entry without label is rejected", func(t *testing.T) {
		_, err := svc.Push(ctx, []StatusEntry{{Label: "ok"}, {Info: "x"}})
		require.ErrorIs(t, err, store.ErrInvalid)
	})
}

func TestService_StatusOverwritesOnlyMostRecent(t *testing.T) {
	svc, gw := newTestService(t)
	ctx := t.Context()

	// legacy data with more than one row
	err := gw.Do(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO status_table (pushed_at, info) VALUES (1000, '[{"label":"old","info":"1"}]')`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO status_table (pushed_at, info) VALUES (2000, '[{"label":"newer","info":"2"}]')`)
		return err
	})
	require.NoError(t, err)

	snap, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StatusEntry{{Label: "newer", Info: "2"}}, snap.Entries)
	assert.Equal(t, int64(2000), snap.Time.UnixMilli())

	_, err = svc.Push(ctx, []StatusEntry{{Label: "fresh", Info: "3"}})
	require.NoError(t, err)

	var infos []string
	err = gw.Do(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &infos, `SELECT info FROM status_table ORDER BY id`)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`[{"label":"old","info":"1"}]`, `[{"label":"fresh","info":"3"}]`}, infos)

	snap, err = svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StatusEntry{{Label: "fresh", Info: "3"}}, snap.Entries)
}
