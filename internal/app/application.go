// Package app assembles the components into a runnable server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"codeshare/internal/api"
	"codeshare/internal/broadcast"
	"codeshare/internal/history"
	"codeshare/internal/presence"
	"codeshare/internal/ranking"
	"codeshare/internal/config"
	"codeshare/internal/registry"
	"codeshare/internal/state"
	"codeshare/internal/tasks"
	"codeshare/internal/websocket"
	"codeshare/pkg/interfaces"
)

// Application owns every long-lived component and their lifecycle.
type Application struct {
	config     *config.Config
	history    *history.Store // nil when disabled
	registry   *registry.Registry
	presence   *presence.Manager
	router     *broadcast.Router
	engine     *tasks.Engine
	httpServer *http.Server
	log        zerolog.Logger

	reaperCancel context.CancelFunc
}

// NewApplication wires the components in dependency order:
// History -> Registry -> Presence -> Broadcast -> Tasks -> Ranking ->
// WebSocket -> API -> HTTP.
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var store *history.Store
	var recorder interfaces.EventRecorder
	var eventLog api.EventLog
	if cfg.HistoryPath != "" {
		s, err := history.NewStore(cfg.HistoryPath, log)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		store = s
		recorder = s
		eventLog = s
	}

	reg := registry.New(cfg.CodeAttempts, cfg.IdleWindow, log)

	pres := presence.NewManager(reg, cfg.DisconnectGrace, log)
	router := broadcast.NewRouter(pres, reg, recorder, log)
	// Presence announces grace-timer evictions through the router; the
	// cycle is broken by wiring the hook after both exist.
	pres.SetBroadcaster(router)

	engine, err := tasks.NewEngine(tasks.Default(), log)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("build task engine: %w", err)
	}
	rank := ranking.NewService(reg)

	wsHandler := websocket.NewHandler(reg, pres, router, engine,
		cfg.WriteBuffer, cfg.PingInterval, cfg.PongTimeout, log)
	apiServer := api.NewServer(reg, pres, router, engine, rank, eventLog, log)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		history:    store,
		registry:   reg,
		presence:   pres,
		router:     router,
		engine:     engine,
		httpServer: httpServer,
		log:        log.With().Str("component", "app").Logger(),
	}, nil
}

// Start launches the idle-session reaper and the HTTP server. It
// returns once the server is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.httpServer.Addr).Msg("starting server")

	reaperCtx, cancel := context.WithCancel(ctx)
	app.reaperCancel = cancel
	go app.registry.Run(reaperCtx, app.config.SweepInterval, func(sess *state.Session) {
		app.presence.DisconnectAll(sess)
	})

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("server started")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Stop shuts the application down in reverse order: HTTP first so no
// new work arrives, then the reaper, then the event log.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Error().Err(err).Msg("http shutdown")
	}
	if app.reaperCancel != nil {
		app.reaperCancel()
	}
	if app.history != nil {
		if err := app.history.Close(); err != nil {
			app.log.Error().Err(err).Msg("event log close")
		}
	}

	app.log.Info().Msg("shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
