// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/augment"
	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/lmstudio"
	"github.com/jeranaias/rigrun-chat/internal/logger"
	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/offline"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/sources"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

const (
	shutdownTimeout = 10 * time.Second
	reloadDebounce  = 500 * time.Millisecond
)

type serveOptions struct {
	host    string
	port    int
	offline bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "block web search, URL fetch and non-localhost remotes")
	return cmd
}

// apply writes flag overrides into cfg.
func (o serveOptions) apply(cfg *config.Config) {
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if o.offline {
		cfg.OfflineMode = true
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds the long-lived components of a running server.
type app struct {
	config  *config.Holder
	log     *logger.Logger
	guard   *offline.Guard
	store   storage.Store
	history *session.Store
	engine  *ollama.Engine
	remote  *lmstudio.Client
	server  *server.Server
}

// newApp builds every component from cfg. The caller owns Close.
func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	live := config.NewHolder(cfg)
	m := metrics.New()
	guard := offline.NewGuard(cfg.OfflineMode)

	store, err := storage.Open(cfg.History.Backend, cfg.History.Dir)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	history := session.New(store, session.Config{
		MaxMessages:      cfg.History.MaxHistoryMessages,
		MaxConversations: cfg.History.MaxConversations,
	}, session.WithLogger(log), session.WithMetrics(m))
	history.Initialize()

	registry, err := sources.Open(sources.Options{
		Path:        cfg.Sources.RegistryPath,
		CloneDir:    cfg.Sources.CloneDir,
		MaxFileSize: cfg.Sources.MaxFileSize,
		Runner:      sources.ExecRunner{Timeout: time.Duration(cfg.Sources.GitTimeoutSecs) * time.Second},
		Logger:      log,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open source registry: %w", err)
	}

	engine := ollama.NewEngine(ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: cfg.Local.OllamaURL,
	}), log)

	remote := lmstudio.New(lmstudio.Config{
		BaseURL:        cfg.LMStudio.URL,
		Model:          cfg.LMStudio.Model,
		ProbeTimeout:   time.Duration(cfg.LMStudio.ProbeTimeoutSecs) * time.Second,
		RequestTimeout: time.Duration(cfg.LMStudio.RequestTimeoutSecs) * time.Second,
		Guard:          guard,
		Logger:         log,
	})

	pipeline := &augment.Pipeline{
		Files:    registry,
		Fetcher:  tools.NewWebFetcher(cfg.Search.URLContentMaxChars, cfg.AllowPrivateNetworks),
		Searcher: tools.NewDuckDuckGo(time.Duration(cfg.Search.TimeoutMs) * time.Millisecond),
		Guard:    guard,
		Log:      log,
		Metrics:  m,
	}

	orchestrator := chat.New(chat.Deps{
		Engine:  engine,
		Remote:  remote,
		Store:   history,
		Augment: pipeline,
		Config:  live.Provider(),
		Log:     log,
		Metrics: m,
	})

	srv := server.New(server.Deps{
		Chat:    orchestrator,
		Store:   history,
		Engine:  engine,
		Remote:  remote,
		Sources: registry,
		Guard:   guard,
		Config:  live.Provider(),
		Log:     log,
		Metrics: m,
		Version: Version,
	})

	return &app{
		config:  live,
		log:     log,
		guard:   guard,
		store:   store,
		history: history,
		engine:  engine,
		remote:  remote,
		server:  srv,
	}, nil
}

// reload applies a changed config file to the running components. Server
// listen settings only take effect on restart.
func (a *app) reload(cfg *config.Config) {
	a.config.Set(cfg)
	a.guard.SetEnabled(cfg.OfflineMode)
	a.remote.SetTarget(cfg.LMStudio.URL, cfg.LMStudio.Model)
	a.log.Info("CONFIG_RELOADED").
		Bool("use_local_llm", cfg.Chat.UseLocalLLM).
		Str("lmstudio_url", cfg.LMStudio.URL).
		Bool("offline", cfg.OfflineMode).
		Msg("Configuration reloaded")
}

// preload loads the default local model in the background.
func (a *app) preload(ctx context.Context, name string) {
	if name == "" {
		return
	}
	go func() {
		if err := a.engine.LoadModel(ctx, name); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("MODEL_PRELOAD_FAILED").Err(err).Str("model", name).Msg("Default model not loaded")
		}
	}()
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("HISTORY_CLOSE_FAILED").Err(err).Msg("History store close failed")
	}
}

// =============================================================================
// SERVE
// =============================================================================

func runServe(opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts.apply(cfg)

	log := newLogger(cfg)
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Local.LoadOnStart {
		a.preload(ctx, cfg.Local.DefaultModel)
	}

	if path, err := configPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			w, err := config.Watch(path, reloadDebounce, func(next *config.Config) {
				opts.apply(next)
				a.reload(next)
			}, func(err error) {
				log.Warn("CONFIG_RELOAD_FAILED").Err(err).Str("path", path).Msg("Config file change ignored")
			})
			if err != nil {
				log.Warn("CONFIG_WATCH_FAILED").Err(err).Msg("Config hot reload disabled")
			} else {
				defer w.Close()
			}
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("SERVER_STOPPED").Msg("Server stopped")
	return nil
}
