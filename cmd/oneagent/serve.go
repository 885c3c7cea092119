// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/internal/version"
	"github.com/oneagent-io/oneagent/pkg/a2a"
	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/llm"
	"github.com/oneagent-io/oneagent/pkg/mcp/server"
	"github.com/oneagent-io/oneagent/pkg/mcp/transport"
	"github.com/oneagent-io/oneagent/pkg/monitor"
	"github.com/oneagent-io/oneagent/pkg/nlacs"
	"github.com/oneagent-io/oneagent/pkg/origin"
	"github.com/oneagent-io/oneagent/pkg/session"
	"github.com/oneagent-io/oneagent/pkg/tools"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server over streamable HTTP+SSE",
	Long: heredoc.Doc(`
		Starts the MCP endpoint on ONEAGENT_MCP_HOST:ONEAGENT_MCP_PORT
		with /health, /health/sessions, and /metrics alongside it.
		With ONEAGENT_MCP_STDIO_ONLY=1 no listener is bound and the
		server speaks newline-delimited JSON-RPC on stdin/stdout.
	`),
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		if cfg.MCP.StdioOnly {
			return runStdio(cfg, logger)
		}
		return runServe(cfg, logger)
	},
}

// app holds the wired components shared by the HTTP and stdio modes.
type app struct {
	bb       *backbone.Backbone
	sessions *session.Manager
	janitor  *session.Janitor
	registry *tools.Registry
	engine   *server.Engine
	origins  *origin.Validator
	mon      *monitor.Monitor

	bus      *a2a.EventBus
	agents   *a2a.Registry
	comms    *a2a.Service
	coord    *nlacs.Service
	reloader *origin.Reloader
	store    *session.SQLStore

	logger *zap.Logger
	cfg    *Config
}

// buildApp wires the full component graph from configuration.
func buildApp(ctx context.Context, cfg *Config, logger *zap.Logger) (*app, error) {
	var cache backbone.Cache
	if cfg.Cache.Backend == "redis" {
		rc, err := backbone.NewRedisCache(ctx, cfg.Cache.RedisAdr, cfg.Cache.RedisPwd, cfg.Cache.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		cache = rc
	}
	bb, err := backbone.New(backbone.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("create backbone: %w", err)
	}

	mgrOpts := session.ManagerOptions{
		IdleTimeout:        cfg.MCP.SessionTimeout,
		EventTTL:           cfg.MCP.EventLogTTL,
		MaxEventsPerStream: cfg.MCP.MaxEventsPerSession,
		Logger:             logger,
	}
	var store *session.SQLStore
	if cfg.Store.Backend != "cache" {
		store, err = session.NewSQLStore(cfg.Store.Backend, cfg.Store.DSN, cfg.MCP.MaxEventsPerSession)
		if err != nil {
			_ = bb.Close()
			return nil, fmt.Errorf("open %s session store: %w", cfg.Store.Backend, err)
		}
		mgrOpts.Store = store
		mgrOpts.Events = store
	}
	sessions := session.NewManager(bb, mgrOpts)
	janitor := session.NewJanitor(sessions, cfg.MCP.SessionCleanupInterval, logger)

	bus := a2a.NewEventBus(0, logger)
	agents := a2a.NewRegistry(bb, bus, a2a.RegistryOptions{
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatTimeout:  cfg.Heartbeat.Timeout,
		Logger:            logger,
	})
	comms := a2a.NewService(bb, agents, bus, a2a.ServiceOptions{Logger: logger})

	var llmClient llm.Client
	if cfg.LLM.Provider != "" {
		llmClient, err = llm.New(ctx, llm.Config{
			Provider:    cfg.LLM.Provider,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Region:      cfg.LLM.Region,
			Profile:     cfg.LLM.Profile,
			MaxTokens:   cfg.LLM.MaxTok,
			Temperature: cfg.LLM.Temp,
		})
		if err != nil {
			_ = bb.Close()
			return nil, fmt.Errorf("create llm client: %w", err)
		}
	}
	coord := nlacs.NewService(bb, comms, bus, nlacs.ServiceOptions{LLM: llmClient, Logger: logger})

	registry := tools.NewRegistry(bb, logger)
	mon := monitor.New(bb, sessions, monitor.Options{Logger: logger})
	if err := tools.RegisterBuiltins(ctx, registry, mon, logger); err != nil {
		_ = bb.Close()
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	engine := server.NewEngine(server.Options{
		Name:     "oneagent",
		Version:  version.Get(),
		Sessions: sessions,
		Registry: registry,
		Logger:   logger,
	})

	origins := origin.NewValidator(origin.Config{
		AllowedOrigins:          cfg.Origins(),
		AllowLocalhost:          cfg.MCP.AllowLocalhost,
		RequireOriginHeader:     cfg.MCP.RequireOriginHeader,
		LogUnauthorizedAttempts: true,
	}, bb.Cache(), logger)

	a := &app{
		bb:       bb,
		sessions: sessions,
		janitor:  janitor,
		registry: registry,
		engine:   engine,
		origins:  origins,
		mon:      mon,
		bus:      bus,
		agents:   agents,
		comms:    comms,
		coord:    coord,
		store:    store,
		logger:   logger,
		cfg:      cfg,
	}

	if cfg.MCP.OriginsFile != "" {
		reloader, err := origin.NewReloader(cfg.MCP.OriginsFile, 0, func(path string) {
			patterns, rerr := readOriginsFile(path)
			if rerr != nil {
				logger.Warn("origins file reload failed", zap.String("path", path), zap.Error(rerr))
				return
			}
			origins.SetPatterns(patterns)
		}, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("watch origins file: %w", err)
		}
		a.reloader = reloader
	}

	return a, nil
}

// close tears components down in reverse dependency order.
func (a *app) close() {
	if a.reloader != nil {
		_ = a.reloader.Close()
	}
	if err := a.comms.Close(); err != nil {
		a.logger.Warn("communication service close failed", zap.Error(err))
	}
	if err := a.bus.Close(); err != nil {
		a.logger.Warn("event bus close failed", zap.Error(err))
	}
	if err := a.sessions.Close(); err != nil {
		a.logger.Warn("session manager close failed", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("session store close failed", zap.Error(err))
		}
	}
	if err := a.bb.Close(); err != nil {
		a.logger.Warn("backbone close failed", zap.Error(err))
	}
}

func runServe(cfg *Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.janitor.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	if a.reloader != nil {
		if err := a.reloader.Start(); err != nil {
			return fmt.Errorf("start origins watcher: %w", err)
		}
	}

	// Offline agents are swept on the heartbeat cadence.
	go func() {
		ticker := time.NewTicker(cfg.Heartbeat.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.agents.SweepOffline(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("agent sweep failed", zap.Error(err))
				}
			}
		}
	}()

	mcpHandler, err := transport.NewHTTPServer(transport.HTTPServerOptions{
		Engine:  a.engine,
		Origins: a.origins,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	monHandler := monitor.Handler(a.mon)

	mux := http.NewServeMux()
	mux.Handle("/health", monHandler)
	mux.Handle("/health/sessions", monHandler)
	mux.Handle("/metrics", monHandler)
	mux.Handle("/", mcpHandler)

	if cfg.MCP.Host == "0.0.0.0" && len(cfg.Origins()) == 0 {
		logger.Warn("binding all interfaces with no origin allowlist; only localhost origins are accepted",
			zap.Bool("allowLocalhost", cfg.MCP.AllowLocalhost))
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP server listening",
			zap.String("addr", cfg.Addr()),
			zap.String("version", version.Get()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := a.janitor.Stop(shutdownCtx); err != nil {
		logger.Warn("janitor stop incomplete", zap.Error(err))
	}
	return nil
}

// readOriginsFile parses one origin pattern per line; blank lines and
// #-comments are skipped.
func readOriginsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-provided allowlist path
	if err != nil {
		return nil, err
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}
