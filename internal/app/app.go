// Package app wires the server components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"parley/pkg/banner"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/presence"
	"parley/pkg/session"
	"parley/pkg/store"
)

// App encapsulates the server components.
type App struct {
	cfg     *config.Config
	version string

	st       *store.Store
	registry *presence.Registry
	pool     *session.Pool

	// sessions counts live connection loops so teardown can wait for
	// them before the pool and store go away underneath a dispatch
	sessions       sync.WaitGroup
	cancelSessions context.CancelFunc

	srv *http.Server
}

// New opens the store and builds the shared components. It does not
// listen; call Run to start serving and block until shutdown.
func New(cfg *config.Config, version string) (*App, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %q: %w", cfg.Storage.DBPath, err)
	}
	return &App{
		cfg:      cfg,
		version:  version,
		st:       st,
		registry: presence.NewRegistry(),
		pool:     session.NewPool(cfg.Session.Workers, cfg.Session.QueueDepth),
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a
// fatal listener error occurs.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.cfg, a.version)

	// sessions get their own context: Server.Shutdown does not wait for
	// hijacked websocket connections, so teardown cancels this and waits
	// for every session loop to exit before touching pool or store
	sctx, cancel := context.WithCancel(ctx)
	a.cancelSessions = cancel

	errCh, err := a.startHTTP(sctx)
	if err != nil {
		cancel()
		return err
	}

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		a.closeComponents()
		return err
	}
}

// shutdown stops the listener, then tears down the shared components.
// Stopping the server first lets in-flight upgrades finish cleanly.
func (a *App) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.srv.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_incomplete", "err", err)
	}
	a.closeComponents()
}

// closeComponents drains the session loops, then closes the pool and the
// store, in that order.
func (a *App) closeComponents() {
	a.cancelSessions()
	a.sessions.Wait()
	a.pool.Close()
	if err := a.st.Close(); err != nil {
		logger.Error("store_close_failed", "err", err)
	}
	logger.Info("server_stopped")
}
