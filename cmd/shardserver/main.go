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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/gridshard/internal/admin"
	"github.com/udisondev/gridshard/internal/auth"
	"github.com/udisondev/gridshard/internal/config"
	"github.com/udisondev/gridshard/internal/db"
	"github.com/udisondev/gridshard/internal/game"
	_ "github.com/udisondev/gridshard/internal/game/arena"
	"github.com/udisondev/gridshard/internal/gateway"
	"github.com/udisondev/gridshard/internal/metrics"
	"github.com/udisondev/gridshard/internal/shard"
)

const DefaultConfigPath = "config/shardserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := DefaultConfigPath
	if p := os.Getenv("GRIDSHARD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("gridshard starting",
		"log_level", cfg.LogLevel,
		"tick_interval_ms", cfg.TickIntervalMS,
		"game_module", cfg.GameModule)

	// Losing the store at startup is fatal; the process refuses to run.
	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	store := db.NewPostgresStore(database.Pool())

	adapter, err := game.NewAdapter(cfg.GameModule)
	if err != nil {
		return fmt.Errorf("loading game module: %w", err)
	}
	if err := adapter.OnInit(ctx, game.NewStoreHandle(store)); err != nil {
		return fmt.Errorf("initializing game module: %w", err)
	}

	tokenTTL, err := cfg.Auth.ParsedTokenTTL()
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		TokenTTL:           tokenTTL,
		AutoCreateAccounts: cfg.Auth.AutoCreateAccounts,
	}, db.NewAccountRepository(database.Pool()))
	if err != nil {
		return err
	}

	m := metrics.New()
	registry := shard.NewRegistry()
	defer registry.Close()
	queue := shard.NewIntentQueue()

	engine := shard.NewEngine(shard.EngineConfig{
		TickInterval:    cfg.TickInterval(),
		ZoneParallelism: cfg.ZoneParallelism,
	}, store, queue, registry, adapter, m)

	gw := gateway.New(gateway.Config{
		SendQueueSize: cfg.SendQueueSize,
		WriteTimeout:  cfg.SinkWriteTimeout(),
	}, registry, queue, store, authSvc, m)

	router := chi.NewRouter()
	router.Get("/ws", gw.HandleWS)
	router.Mount("/auth", auth.NewHandler(authSvc).Routes())
	router.Mount("/admin", admin.NewHandler(engine, store, registry, cfg.Auth.AdminToken).Routes())
	router.Handle("/metrics", m.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("http server started", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
