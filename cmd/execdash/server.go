package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/aggregate"
	"github.com/greenworks/execdash/internal/api"
	"github.com/greenworks/execdash/internal/chat"
	"github.com/greenworks/execdash/internal/config"
	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/ingest"
	"github.com/greenworks/execdash/internal/logging"
	"github.com/greenworks/execdash/internal/proxy"
	"github.com/greenworks/execdash/internal/storage"
	"github.com/greenworks/execdash/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, ingest worker and scheduler (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, source and ledger status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// app is the wired set of components shared by serve, mcp and local ingest.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	store      *storage.Store
	connectors *connector.Set
	sweeper    *ingest.Orchestrator
	receiver   *ingest.Receiver
	dashboard  *aggregate.Aggregator
}

func connectorConfig(cfg config.Config) connector.Config {
	return connector.Config{
		Aircall: connector.AircallConfig{
			APIID:        cfg.Aircall.APIID,
			APIToken:     cfg.Aircall.APIToken,
			WebhookToken: cfg.Aircall.WebhookToken,
			BaseURL:      cfg.Aircall.BaseURL,
		},
		WhatConverts: connector.WhatConvertsConfig{
			APIKey:       cfg.WhatConverts.APIKey,
			WebhookToken: cfg.WhatConverts.WebhookToken,
			BaseURL:      cfg.WhatConverts.BaseURL,
		},
		ISN: connector.ISNConfig{
			APIKey:       cfg.ISN.APIKey,
			CompanyKey:   cfg.ISN.CompanyKey,
			WebhookToken: cfg.ISN.WebhookToken,
			BaseURL:      cfg.ISN.BaseURL,
		},
		ElevenLabs: connector.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabs.APIKey,
			AgentID: cfg.ElevenLabs.AgentID,
			VoiceID: cfg.ElevenLabs.VoiceID,
			BaseURL: cfg.ElevenLabs.BaseURL,
		},
	}
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	metrics := telemetry.New()

	store, err := storage.Open(cfg.Storage.Target())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	store.SetStaleRunAfter(cfg.Ingest.StaleRunAfter)

	connectors := connector.NewSet(connectorConfig(cfg), connector.Options{
		Timeout:               cfg.Ingest.RequestTimeout,
		PageSize:              cfg.Ingest.PageSize,
		MaxPages:              cfg.Ingest.MaxPages,
		AllowUnsignedWebhooks: cfg.Ingest.AllowUnsignedWebhooks,
		Logger:                logger,
		Metrics:               metrics,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		store:      store,
		connectors: connectors,
		sweeper:    ingest.NewOrchestrator(store, connectors, metrics, logger),
		receiver:   ingest.NewReceiver(store, connectors, metrics, logger),
		dashboard: aggregate.New(connectors, aggregate.Options{
			TTL:          cfg.Cache.TTL,
			FetchTimeout: cfg.Cache.FetchTimeout,
			Metrics:      metrics,
			Logger:       logger,
		}),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", zap.Error(err))
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "execdash version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, flush, err := logging.Install(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer flush()

	// Refuse to start twice on the same port.
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(cfg.Server.URL() + "/health"); err == nil {
		resp.Body.Close()
		printWarning("execdash is already running on %s", cfg.Server.Addr())
		return fmt.Errorf("server already running on %s", cfg.Server.Addr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	llm := proxy.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if !llm.Configured() {
		logger.Warn("llm.api_key not set, /chat will answer 503")
	}
	chatSvc := chat.NewService(llm, a.store, a.connectors, chat.Options{
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Logger:    logger,
	})

	handler := api.NewHandler(api.Deps{
		Token:     cfg.Auth.APIToken,
		Store:     a.store,
		Sweeper:   a.sweeper,
		Webhooks:  a.receiver,
		Dashboard: a.dashboard,
		Chat:      chatSvc,
		Speech:    a.connectors.Speech,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Background sweeps: queued jobs and the nightly schedule.
	worker := ingest.NewWorker(a.store, a.sweeper, 500*time.Millisecond, logger)
	go worker.Run(ctx)
	scheduler := ingest.NewScheduler(a.store, cfg.Ingest.ScheduleInterval, ingest.ScopeAll, logger)
	go scheduler.Run(ctx)

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("storage", string(a.store.Dialect())))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.LoadUnchecked()
	if err != nil {
		return err
	}

	// stdout carries the protocol; zap writes to stderr.
	logger, flush, err := logging.Install(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// Sweeps queued through run_sweep are drained while the session lasts.
	worker := ingest.NewWorker(a.store, a.sweeper, time.Second, logger)
	go worker.Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     a.store,
		Sweeper:   a.sweeper,
		Dashboard: a.dashboard,
	})
	logger.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.LoadUnchecked()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    cfg.Server.URL(),
		token:      cfg.Auth.APIToken,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Storage", "%s", storageLabel(cfg))
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running on %s", cfg.Server.Addr())
	printStatus("Storage", "%s", storageLabel(cfg))

	if cfg.Auth.APIToken == "" {
		printWarning("auth.api_token not set, skipping source and ledger status")
		return nil
	}

	if resp, err := client.get(ctx, "/dashboard/sources"); err == nil {
		var sources map[string]aggregate.SourceStatus
		if decodeJSON(resp, &sources) == nil {
			for _, name := range []string{"calls", "leads", "inspections", "bots"} {
				st, ok := sources[name]
				if !ok {
					continue
				}
				printStatus("Source "+name, "%s", sourceLabel(st))
			}
		}
	}

	if resp, err := client.get(ctx, "/etl-runs?limit=1"); err == nil {
		var runs []storage.EtlRun
		if decodeJSON(resp, &runs) == nil && len(runs) > 0 {
			r := runs[0]
			printStatus("Last run", "%s %s at %s", r.Source, runStatus(r.Status), r.RunStarted.Local().Format(time.RFC3339))
		}
	}
	return nil
}

func storageLabel(cfg config.Config) string {
	if cfg.Storage.DSN != "" {
		return "postgres"
	}
	return "sqlite at " + cfg.Storage.DataDir
}

func sourceLabel(st aggregate.SourceStatus) string {
	switch {
	case !st.Configured:
		return colorize(colorYellow, "not configured (synthetic data)")
	case !st.Available:
		return colorize(colorRed, "unavailable: "+st.LastError)
	default:
		return colorize(colorGreen, "ok")
	}
}
