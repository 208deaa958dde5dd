package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/config"
	"github.com/haasonsaas/hearth/internal/hub"
	"github.com/haasonsaas/hearth/internal/observability"
	"github.com/haasonsaas/hearth/internal/rpc"
	"github.com/haasonsaas/hearth/internal/runtime"
	"github.com/haasonsaas/hearth/internal/store"
)

const shutdownGrace = 10 * time.Second

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hearth daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	location, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	logLevel := cfg.LogLevel
	if debugMode {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level: logLevel,
		Sink:  st,
	})
	metrics := observability.NewMetrics()

	_, stopTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "hearth",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = stopTracing(shutdownCtx)
	}()

	hubClient := hub.New(cfg.HABaseURL, cfg.HAToken,
		hub.WithLogger(logger),
		hub.WithMetrics(metrics),
	)
	if err := hubClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to hub at %s: %w", cfg.HABaseURL, err)
	}
	defer hubClient.Close()

	ref := cfg.AutomationModelRef()
	driver, err := buildDriver(cfg, ref, logger)
	if err != nil {
		return err
	}
	logger.Info("automation model ready", "driver", ref.Driver, "model", ref.Model)

	engine := agent.NewEngine(
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
	)
	catalogue := catalog.New(cfg.AutomationsDir, catalog.WithLogger(logger))

	rt := runtime.New(runtime.Config{
		Store:          st,
		Catalogue:      catalogue,
		Hub:            hubClient,
		Engine:         engine,
		Driver:         driver,
		Model:          modelName(ref),
		Location:       location,
		MemoryPath:     cfg.MemoryPath,
		CuesDir:        filepath.Join(cfg.AutomationsDir, "cues"),
		TokenOverrides: cfg.ModelTokenBudgets,
		Logger:         logger,
		Metrics:        metrics,
	})

	rpcSrv := &http.Server{
		Addr:    cfg.RPCAddr,
		Handler: rpc.NewServer(rpc.NewHandler(rt), rpc.WithLogger(logger), rpc.WithMetrics(metrics)),
	}
	errCh := make(chan error, 3)
	go func() {
		logger.Info("rpc listening", "addr", cfg.RPCAddr)
		if err := rpcSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", observability.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}
	go func() {
		errCh <- rt.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("fatal", "error", runErr)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = rpcSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}
