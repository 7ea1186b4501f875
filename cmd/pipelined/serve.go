package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokligence/ragflow-pipeline/internal/config"
	"github.com/tokligence/ragflow-pipeline/internal/health"
	"github.com/tokligence/ragflow-pipeline/internal/hooks"
	"github.com/tokligence/ragflow-pipeline/internal/httpserver"
	"github.com/tokligence/ragflow-pipeline/internal/logging"
	"github.com/tokligence/ragflow-pipeline/internal/metrics"
	"github.com/tokligence/ragflow-pipeline/internal/pipeline"
	"github.com/tokligence/ragflow-pipeline/internal/ragflow"
	"github.com/tokligence/ragflow-pipeline/internal/session"
	sessionbadger "github.com/tokligence/ragflow-pipeline/internal/session/badger"
	sessionpg "github.com/tokligence/ragflow-pipeline/internal/session/postgres"
	sessionsqlite "github.com/tokligence/ragflow-pipeline/internal/session/sqlite"
	"github.com/tokligence/ragflow-pipeline/internal/version"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadPipelineConfig(configRoot)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if listenAddr != "" {
		cfg.HTTPAddress = listenAddr
	}

	logs, err := logging.Setup(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Name: "pipelined"})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logs.Close()
	log.Printf("ragflow pipeline %s env=%s", version.FullInfo(), cfg.Environment)
	for _, name := range cfg.BareEnv {
		log.Printf("valve %s taken from bare environment variable; set RAGFLOW_%s to be explicit", name, name)
	}

	store, err := openSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	log.Printf("session store=%s", cfg.SessionStore)

	client, err := ragflow.New(ragflow.Config{
		APIKey:         cfg.Valves.APIKey,
		AgentID:        cfg.Valves.AgentID,
		Host:           cfg.Valves.Host,
		Port:           cfg.Valves.Port,
		Lang:           cfg.Valves.Lang,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logs.Logger("ragflow"),
	})
	if err != nil {
		return err
	}

	var dispatcher *hooks.Dispatcher
	if cfg.Hooks.Enabled {
		dispatcher = &hooks.Dispatcher{}
		dispatcher.Register(cfg.Hooks.BuildScriptHandler())
		log.Printf("hooks dispatcher enabled script=%s", cfg.Hooks.ScriptPath)
	}

	collector := metrics.NewCollector()
	pipe := pipeline.New(client, pipeline.Options{
		ID:      cfg.PipelineID,
		Name:    cfg.PipelineName,
		Store:   store,
		Hooks:   dispatcher,
		Metrics: collector,
		Logger:  logs.Logger("pipeline"),
		Debug:   cfg.Debug || logs.Debug(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pipe.OnStartup(ctx); err != nil {
		return fmt.Errorf("pipeline startup: %w", err)
	}

	httpSrv := httpserver.New(pipe, collector)
	httpSrv.SetLogger(logs.Level(), logs.Logger("http"))
	httpSrv.SetHealthChecker(health.New(health.Config{BackendURL: client.BaseURL(), Store: store}))
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("pipeline %s listening on %s backend=%s", cfg.PipelineID, cfg.HTTPAddress, client.BaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	return pipe.OnShutdown(shutdownCtx)
}

// openSessionStore builds the configured conversation -> session store.
func openSessionStore(cfg config.PipelineConfig) (session.Store, error) {
	switch cfg.SessionStore {
	case config.StoreSQLite:
		return sessionsqlite.New(cfg.SessionDBPath)
	case config.StorePostgres:
		return sessionpg.New(cfg.SessionDSN, 10, 5, 30*time.Minute)
	case config.StoreBadger:
		return sessionbadger.New(sessionbadger.Config{Path: cfg.SessionDBPath})
	case config.StoreMemory, "":
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}
