package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Pi-Jeremy/gateman/internal/clock"
	"github.com/Pi-Jeremy/gateman/internal/gateman/codegen"
	"github.com/Pi-Jeremy/gateman/internal/gateman/notify"
	"github.com/Pi-Jeremy/gateman/internal/gateman/service"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store/memory"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

var (
	admin  = types.Caller{StaffID: "admin-1", Role: types.RoleAdmin}
	vendor = types.Caller{StaffID: "vendor-1", Role: types.RoleVendor}
)

var errStoreDown = errors.New("connection refused")

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStore wraps the memory store and fails selected operations.
type flakyStore struct {
	*memory.Store
	failMarkScanned bool
	failFind        bool
	failInsert      bool
	conflicts       int // InsertBatch returns ErrCodeConflict this many times
}

func (f *flakyStore) MarkScanned(ctx context.Context, a store.ScanAttempt) (types.Ticket, bool, error) {
	if f.failMarkScanned {
		return types.Ticket{}, false, errStoreDown
	}
	return f.Store.MarkScanned(ctx, a)
}

func (f *flakyStore) FindTicketByCode(ctx context.Context, code string) (types.Ticket, error) {
	if f.failFind {
		return types.Ticket{}, errStoreDown
	}
	return f.Store.FindTicketByCode(ctx, code)
}

func (f *flakyStore) InsertBatch(ctx context.Context, eventID string, tickets []types.Ticket) error {
	if f.failInsert {
		return errStoreDown
	}
	if f.conflicts > 0 {
		f.conflicts--
		return store.ErrCodeConflict
	}
	return f.Store.InsertBatch(ctx, eventID, tickets)
}

type fixture struct {
	store      *flakyStore
	hub        *notify.Hub
	clock      *clock.Manual
	auth       *service.Authorizer
	admission  *service.AdmissionService
	issuer     *service.Issuer
	events     *service.EventService
	staff      *service.StaffService
	attendance *service.Attendance
	watcher    *service.StatsWatcher
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithGenerator(t, nil)
}

func newFixtureWithGenerator(t *testing.T, gen codegen.Generator) *fixture {
	t.Helper()
	if gen == nil {
		g, err := codegen.NewRandom(codegen.DefaultLength)
		if err != nil {
			t.Fatalf("codegen: %v", err)
		}
		gen = g
	}
	st := &flakyStore{Store: memory.New()}
	hub := notify.NewHub()
	clk := clock.NewManual(time.Date(2026, 11, 1, 19, 0, 0, 0, time.UTC))
	deps := service.Deps{Notifier: hub, Clock: clk, Logger: silentLogger()}
	auth := service.NewAuthorizer(st)
	att := service.NewAttendance(st, auth, deps)

	return &fixture{
		store:      st,
		hub:        hub,
		clock:      clk,
		auth:       auth,
		admission:  service.NewAdmissionService(st, auth, time.Second, deps),
		issuer:     service.NewIssuer(st, auth, gen, service.IssuerConfig{CodeRetries: 3}, deps),
		events:     service.NewEventService(st, auth, deps),
		staff:      service.NewStaffService(st, auth, deps),
		attendance: att,
		watcher:    service.NewStatsWatcher(att, 20*time.Millisecond, deps),
	}
}

func (f *fixture) createEvent(t *testing.T, limit int) types.Event {
	t.Helper()
	ev, err := f.events.CreateEvent(context.Background(), admin, service.CreateEventInput{
		Name:        "Launch Party",
		Date:        time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC),
		TicketPrice: decimal.RequireFromString("25.00"),
		TicketLimit: limit,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return ev
}

func (f *fixture) issue(t *testing.T, eventID string, n int) []types.Ticket {
	t.Helper()
	tickets, err := f.issuer.IssueBatch(context.Background(), admin, eventID, n)
	if err != nil {
		t.Fatalf("issue batch: %v", err)
	}
	return tickets
}
