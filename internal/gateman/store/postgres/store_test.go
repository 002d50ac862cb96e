package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	pgstore "github.com/Pi-Jeremy/gateman/internal/gateman/store/postgres"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

func TestPostgresStore(t *testing.T) {
	pool := newTestPool(t)
	s := pgstore.New(pool)
	ctx := context.Background()

	truncate := func(t *testing.T) {
		t.Helper()
		_, err := pool.Exec(ctx, `TRUNCATE scan_logs, staff_assignments, tickets, events`)
		require.NoError(t, err)
	}

	t.Run("event round trip keeps price precision", func(t *testing.T) {
		truncate(t)
		want := seedEvent(t, s, "ev-1", 10)

		got, err := s.GetEvent(ctx, "ev-1")
		require.NoError(t, err)
		assert.True(t, want.TicketPrice.Equal(got.TicketPrice), "price %s", got.TicketPrice)
		assert.Equal(t, want.Date, got.Date)

		_, err = s.GetEvent(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrEventNotFound)
	})

	t.Run("batch over limit leaves no rows", func(t *testing.T) {
		truncate(t)
		seedEvent(t, s, "ev-1", 5)
		require.NoError(t, s.InsertBatch(ctx, "ev-1", makeTickets("A", 3)))

		err := s.InsertBatch(ctx, "ev-1", makeTickets("B", 3))
		assert.ErrorIs(t, err, store.ErrTicketLimitExceeded)
		assert.Equal(t, 3, countRows(t, pool, "tickets", "ev-1"))
	})

	t.Run("duplicate code maps to conflict", func(t *testing.T) {
		truncate(t)
		seedEvent(t, s, "ev-1", 10)
		seedEvent(t, s, "ev-2", 10)
		require.NoError(t, s.InsertBatch(ctx, "ev-1", makeTickets("A", 2)))

		dup := makeTickets("A", 1)
		dup[0].ID = "other-id"
		err := s.InsertBatch(ctx, "ev-2", dup)
		assert.ErrorIs(t, err, store.ErrCodeConflict)
	})

	t.Run("batch for unknown event", func(t *testing.T) {
		truncate(t)
		err := s.InsertBatch(ctx, "nope", makeTickets("A", 1))
		assert.ErrorIs(t, err, store.ErrEventNotFound)
	})

	t.Run("concurrent scans admit exactly once", func(t *testing.T) {
		truncate(t)
		seedEvent(t, s, "ev-1", 1)
		require.NoError(t, s.InsertBatch(ctx, "ev-1", makeTickets("C", 1)))

		const n = 12
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				at := time.Now().UTC()
				_, ok, err := s.MarkScanned(ctx, store.ScanAttempt{
					EventID: "ev-1", Code: "C0000", StaffID: fmt.Sprintf("v%d", i), At: at,
					Log: types.ScanLog{
						ID: fmt.Sprintf("log-%d", i), EventID: "ev-1", TicketCode: "C0000",
						StaffID: fmt.Sprintf("v%d", i), Status: types.StatusSuccess, Message: "ok", CreatedAt: at,
					},
				})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, applied)
		st, err := s.CountTickets(ctx, "ev-1")
		require.NoError(t, err)
		assert.Equal(t, 1, st.Scanned)
		assert.Equal(t, 1, countRows(t, pool, "scan_logs", "ev-1"))
	})

	t.Run("logs newest first and leaderboard", func(t *testing.T) {
		truncate(t)
		seedEvent(t, s, "ev-1", 10)
		base := time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC)
		recs := []types.ScanLog{
			{ID: "l1", EventID: "ev-1", TicketCode: "X", StaffID: "v1", Status: types.StatusSuccess, Message: "ok", CreatedAt: base},
			{ID: "l2", EventID: "ev-1", TicketCode: "Y", StaffID: "v2", Status: types.StatusSuccess, Message: "ok", CreatedAt: base.Add(time.Second)},
			{ID: "l3", EventID: "ev-1", TicketCode: "Z", StaffID: "v2", Status: types.StatusSuccess, Message: "ok", CreatedAt: base.Add(2 * time.Second)},
			{ID: "l4", EventID: "ev-1", TicketCode: "Z", StaffID: "v1", Status: types.StatusAlreadyScanned, Message: "dup", CreatedAt: base.Add(3 * time.Second)},
		}
		for _, r := range recs {
			require.NoError(t, s.AppendScanLog(ctx, r))
		}

		logs, err := s.ListScanLogs(ctx, "ev-1", 2)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "l4", logs[0].ID)
		assert.Equal(t, "l3", logs[1].ID)

		all, err := s.ListScanLogs(ctx, "ev-1", 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		board, err := s.StaffScanCounts(ctx, "ev-1")
		require.NoError(t, err)
		assert.Equal(t, []types.StaffScanCount{{StaffID: "v2", Count: 2}, {StaffID: "v1", Count: 1}}, board)
	})

	t.Run("scan log for unknown event", func(t *testing.T) {
		truncate(t)
		err := s.AppendScanLog(ctx, types.ScanLog{
			ID: "l1", EventID: "gone", TicketCode: "A", StaffID: "v1",
			Status: types.StatusNotFound, Message: "m", CreatedAt: time.Now().UTC(),
		})
		assert.ErrorIs(t, err, store.ErrEventNotFound)
		assert.Zero(t, countRows(t, pool, "scan_logs", "gone"))
	})

	t.Run("assignment duplicate and unknown event", func(t *testing.T) {
		truncate(t)
		seedEvent(t, s, "ev-1", 10)
		require.NoError(t, s.Assign(ctx, types.StaffAssignment{StaffID: "v1", EventID: "ev-1"}))
		assert.ErrorIs(t, s.Assign(ctx, types.StaffAssignment{StaffID: "v1", EventID: "ev-1"}), store.ErrAlreadyAssigned)
		assert.ErrorIs(t, s.Assign(ctx, types.StaffAssignment{StaffID: "v1", EventID: "nope"}), store.ErrEventNotFound)

		ok, err := s.IsAssigned(ctx, "v1", "ev-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("cascade delete is idempotent", func(t *testing.T) {
		truncate(t)
		seedEvent(t, s, "ev-1", 10)
		require.NoError(t, s.InsertBatch(ctx, "ev-1", makeTickets("D", 3)))
		require.NoError(t, s.Assign(ctx, types.StaffAssignment{StaffID: "v1", EventID: "ev-1"}))
		require.NoError(t, s.AppendScanLog(ctx, types.ScanLog{
			ID: "l1", EventID: "ev-1", TicketCode: "D0000", StaffID: "v1",
			Status: types.StatusNotFound, Message: "x", CreatedAt: time.Now().UTC(),
		}))

		existed, err := s.DeleteEventCascade(ctx, "ev-1")
		require.NoError(t, err)
		assert.True(t, existed)
		for _, table := range []string{"tickets", "scan_logs", "staff_assignments"} {
			assert.Zero(t, countRows(t, pool, table, "ev-1"), table)
		}

		existed, err = s.DeleteEventCascade(ctx, "ev-1")
		require.NoError(t, err)
		assert.False(t, existed)
	})
}
