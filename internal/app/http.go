package app

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parley/pkg/logger"
	"parley/pkg/session"
)

const shutdownGrace = 5 * time.Second

// The chat protocol carries its own authentication, so cross-origin
// browser clients are allowed through the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// router builds the HTTP surface: the chat websocket, probes, metrics
// and an optional static file tree at the root.
func (a *App) router(ctx context.Context) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", a.wsHandler(ctx)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if a.cfg.Server.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(a.cfg.Server.StaticDir)))
	}
	return r
}

// wsHandler upgrades the connection and hands it to a session, one
// goroutine per connection.
func (a *App) wsHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket_upgrade_failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		logger.Info("connection_accepted", "remote", r.RemoteAddr)
		s := session.New(conn, a.st, a.registry, a.pool, session.Options{
			EventBuffer: a.cfg.Session.EventBuffer,
			RPS:         a.cfg.Session.RPS,
			Burst:       a.cfg.Session.Burst,
		})
		a.sessions.Add(1)
		go func() {
			defer a.sessions.Done()
			s.Run(ctx)
		}()
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
}

// listen opens the configured listener: a unix socket when one is set,
// a TCP socket otherwise. A stale socket file from an unclean previous
// exit is removed first.
func (a *App) listen() (net.Listener, error) {
	if sock := a.cfg.Server.UnixSocket; sock != "" {
		if _, err := os.Stat(sock); err == nil {
			if err := os.Remove(sock); err != nil {
				return nil, err
			}
		}
		return net.Listen("unix", sock)
	}
	return net.Listen("tcp", a.cfg.Addr())
}

// startHTTP opens the listener and starts the server in a goroutine,
// returning a channel carrying any fatal serve error.
func (a *App) startHTTP(ctx context.Context) (<-chan error, error) {
	ln, err := a.listen()
	if err != nil {
		return nil, err
	}
	a.srv = &http.Server{Handler: a.router(ctx)}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.Serve(ln)
	}()
	logger.Info("server_started", "addr", ln.Addr().String())
	return errCh, nil
}
