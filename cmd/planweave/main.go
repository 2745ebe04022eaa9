package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/planweave/planweave/internal/api"
	"github.com/planweave/planweave/internal/engine"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/provider"
	"github.com/planweave/planweave/internal/scheduler"
	"github.com/planweave/planweave/internal/secrets"
	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/internal/streaming"
	"github.com/planweave/planweave/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "planweave:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := provider.NewRegistry()
	provider.RegisterBuiltins(registry, &http.Client{Timeout: 30 * time.Second})

	creds, credManager, err := buildCredentialSource(cfg, st)
	if err != nil {
		return err
	}

	validator, err := validation.NewPlanValidator()
	if err != nil {
		return fmt.Errorf("build plan validator: %w", err)
	}

	plans := newFilePlanSource()
	loaded, err := plans.LoadDir(cfg.PlansDir)
	if err != nil {
		return err
	}
	logger.Info("plans loaded", slog.Int("count", loaded), slog.String("dir", cfg.PlansDir))

	executor := engine.NewStepExecutor(registry, creds, st, logger, engine.StepExecutorConfig{
		BackoffBase: cfg.BackoffBase,
	})
	driver := engine.NewDriver(executor, logger)
	orch := engine.NewOrchestrator(st, plans, driver, validator, logger)

	hub := streaming.NewMemoryHub()
	orch.SetEventSink(hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.NewScheduler(orch, logger)
	for _, plan := range plans.All() {
		if !plan.Enabled || plan.Trigger == nil || plan.Trigger.Cron == "" {
			continue
		}
		if err := sched.Register(plan); err != nil {
			logger.Warn("skipping cron plan",
				slog.String("plan_id", plan.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	apiServer := api.NewServer(orch, logger)
	apiServer.SetEventHub(hub)
	apiServer.SetPlanSource(plans)
	if credManager != nil {
		apiServer.SetCredentialManager(credManager)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openStore(cfg Config) (store.Store, error) {
	switch cfg.StoreKind {
	case "memory":
		return store.NewMemoryStore(), nil
	case "libsql", "":
		if err := os.MkdirAll(planweaveDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(context.Background()); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreKind)
	}
}

// buildCredentialSource prefers the encrypted vault when a key is
// configured, falling back to the static credentials file. The second
// return value is non-nil only for the vault: file-based credentials
// have no write API.
func buildCredentialSource(cfg Config, st store.Store) (provider.CredentialSource, *secrets.Manager, error) {
	if keyHex := os.Getenv("PLANWEAVE_VAULT_KEY"); keyHex != "" {
		key, err := secrets.KeyFromHex(keyHex)
		if err != nil {
			return nil, nil, err
		}
		vault, err := secrets.NewAESVault(st, key)
		if err != nil {
			return nil, nil, err
		}
		mgr := secrets.NewManager(vault)
		return mgr, mgr, nil
	}

	static := provider.NewStaticCredentials()
	if err := loadCredentials(cfg.CredsPath, static); err != nil {
		return nil, nil, err
	}
	return static, nil, nil
}

// loadCredentials reads a {"user_id": {"provider": {...}}} JSON file.
// A missing file is fine; credentials are optional.
func loadCredentials(path string, creds *provider.StaticCredentials) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read credentials file %s: %w", path, err)
	}
	var byUser map[string]map[string]map[string]any
	if err := json.Unmarshal(data, &byUser); err != nil {
		return fmt.Errorf("parse credentials file %s: %w", path, err)
	}
	for userID, byProvider := range byUser {
		for providerName, c := range byProvider {
			creds.Set(userID, providerName, c)
		}
	}
	return nil
}
