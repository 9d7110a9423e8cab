// Package web is the settings surface: an HTML form, a small JSON API and a
// websocket feed of loop status.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scheerer/ambilamp/internal/ambilight"
	"github.com/scheerer/ambilamp/internal/logging"
	"github.com/scheerer/ambilamp/internal/screen"
	"github.com/scheerer/ambilamp/internal/settings"
)

var logger = logging.New("web")

const maxBodySize = 64 << 10

// LoopController is the part of ambilight.Controller the handlers drive.
type LoopController interface {
	Start() error
	Stop() error
	State() ambilight.State
	Status() ambilight.Status
}

type MonitorLister interface {
	Monitors() ([]screen.Monitor, error)
}

type Server struct {
	addr     string
	store    *settings.Store
	loop     LoopController
	monitors MonitorLister
	hub      *Hub
	leveler  logging.Leveler
	upgrader websocket.Upgrader

	httpServer *http.Server
}

func NewServer(addr string, store *settings.Store, loop LoopController, monitors MonitorLister, hub *Hub) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		loop:     loop,
		monitors: monitors,
		hub:      hub,
		leveler:  logging.GetLeveler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /update", s.handleUpdateForm)
	mux.HandleFunc("POST /start", s.handleStartForm)
	mux.HandleFunc("POST /stop", s.handleStopForm)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/monitors", s.handleMonitors)
	mux.HandleFunc("POST /api/loop/start", s.handleLoopStart)
	mux.HandleFunc("POST /api/loop/stop", s.handleLoopStop)
	mux.HandleFunc("GET /api/log-level", s.handleGetLogLevels)
	mux.HandleFunc("PUT /api/log-level", s.handlePutLogLevel)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return limitBody(maxBodySize, mux)
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.With(zap.Error(err)).Error("Settings server shutdown error")
		}
	}()

	logger.With(zap.String("addr", s.addr)).Info("Settings server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func limitBody(maxSize int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		}
		next.ServeHTTP(w, r)
	})
}
