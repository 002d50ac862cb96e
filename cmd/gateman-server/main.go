package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Pi-Jeremy/gateman/internal/clock"
	"github.com/Pi-Jeremy/gateman/internal/config"
	"github.com/Pi-Jeremy/gateman/internal/db"
	"github.com/Pi-Jeremy/gateman/internal/gateman/codegen"
	"github.com/Pi-Jeremy/gateman/internal/gateman/metrics"
	"github.com/Pi-Jeremy/gateman/internal/gateman/notify"
	"github.com/Pi-Jeremy/gateman/internal/gateman/service"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store/memory"
	pgstore "github.com/Pi-Jeremy/gateman/internal/gateman/store/postgres"
	sqlitestore "github.com/Pi-Jeremy/gateman/internal/gateman/store/sqlite"
	"github.com/Pi-Jeremy/gateman/internal/grpcapi"
	"github.com/Pi-Jeremy/gateman/internal/httpapi"
)

const shutdownGrace = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gateman-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, closeNotifier, err := openNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	gen, err := codegen.NewRandom(cfg.CodeLength)
	if err != nil {
		return err
	}

	m := metrics.New()
	deps := service.Deps{
		Notifier: notifier,
		Metrics:  m,
		Clock:    clock.NewSystem(),
		Logger:   logger,
	}
	auth := service.NewAuthorizer(st)
	admission := service.NewAdmissionService(st, auth, cfg.AdmitTimeout, deps)
	issuer := service.NewIssuer(st, auth, gen, service.IssuerConfig{CodeRetries: cfg.CodeRetries}, deps)
	events := service.NewEventService(st, auth, deps)
	staff := service.NewStaffService(st, auth, deps)
	attendance := service.NewAttendance(st, auth, deps)
	watcher := service.NewStatsWatcher(attendance, cfg.StatsPollInterval, deps)

	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:     logger,
		Addr:       cfg.HTTPAddr,
		Metrics:    m,
		Admission:  admission,
		Issuer:     issuer,
		Events:     events,
		Staff:      staff,
		Attendance: attendance,
		Watcher:    watcher,
		Ready:      ready,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpcapi.NewServer(grpcapi.Dependencies{
			Logger:     logger,
			Admission:  admission,
			Issuer:     issuer,
			Events:     events,
			Attendance: attendance,
			Watcher:    watcher,
		})
		g.Go(func() error {
			logger.Info("grpc listening", "addr", cfg.GRPCAddr)
			return grpcSrv.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.Shutdown(shutdownCtx)
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", "gateman-server")
}

// openStore returns the configured backend, a readiness probe and a
// release func.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(context.Context) error, func(), error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil, func() {}, nil

	case "postgres":
		pool, err := pgstore.Open(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("postgres store ready")
		return pgstore.New(pool), pool.Ping, pool.Close, nil

	default:
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Env == "dev" {
			if err := db.SeedDev(ctx, conn); err != nil {
				_ = conn.Close()
				return nil, nil, nil, fmt.Errorf("seed dev data: %w", err)
			}
			logger.Info("dev data seeded", "event_id", db.DevEventID, "vendor", db.DevStaffID)
		}
		w := db.NewWorker(conn)
		logger.Info("sqlite store ready", "path", cfg.DBPath)
		closeFn := func() {
			w.Close()
			_ = conn.Close()
		}
		return sqlitestore.New(conn, w), conn.PingContext, closeFn, nil
	}
}

func openNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
	if cfg.RedisURL == "" {
		return notify.NewHub(), func() {}, nil
	}
	client, err := notify.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("redis notifications enabled")
	return notify.NewRedisNotifier(client, logger), func() { _ = client.Close() }, nil
}
