package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server is the HTTP API server for gridsync.
type Server struct {
	config      Config
	http        *http.Server
	pool        *StorePool
	metrics     *Metrics
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	closing  bool
	wg       sync.WaitGroup
}

// NewServer creates a new Server with the given config.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if cfg.SessionQueue <= 0 {
		cfg.SessionQueue = 1024
	}
	s := &Server{
		config:      cfg,
		pool:        NewStorePool(cfg.DataDir),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(cfg.RateLimitWrite, rateWindow, maxRateClients),
		sessions:    make(map[string]*session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16384,
		CheckOrigin:     s.checkOrigin,
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server, ends every stream session, and
// closes all dataset stores.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	// Hijacked connections are not tracked by http.Server.
	s.mu.Lock()
	s.closing = true
	for _, sess := range s.sessions {
		sess.stop()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	s.pool.CloseAll()
	return err
}

// register tracks sess for shutdown. It fails once Shutdown has begun.
func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.metrics.SessionOpened()
	return true
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.metrics.SessionClosed()
	s.wg.Done()
}

// Handler returns the server's HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// SessionCount returns the number of open stream sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Datasets
	mux.HandleFunc("GET /v1/datasets", s.requireToken(s.handleListDatasets))
	mux.HandleFunc("POST /v1/datasets", s.requireToken(s.withRateLimit(s.handleCreateDataset)))
	mux.HandleFunc("GET /v1/datasets/{name}", s.requireToken(s.withDataset(s.handleGetDataset)))
	mux.HandleFunc("GET /v1/datasets/{name}/stream", s.requireToken(s.handleStream))

	// Records
	mux.HandleFunc("POST /v1/datasets/{name}/records", s.requireToken(s.withRateLimit(s.withDataset(s.handleInsertRecords))))
	mux.HandleFunc("DELETE /v1/datasets/{name}/records", s.requireToken(s.withRateLimit(s.withDataset(s.handleRemoveRecords))))
	mux.HandleFunc("GET /v1/datasets/{name}/records/{id}", s.requireToken(s.withDataset(s.handleGetRecord)))
	mux.HandleFunc("PATCH /v1/datasets/{name}/records/{id}", s.requireToken(s.withRateLimit(s.withDataset(s.handleUpdateRecord))))
	mux.HandleFunc("DELETE /v1/datasets/{name}/records/{id}", s.requireToken(s.withRateLimit(s.withDataset(s.handleDeleteRecord))))

	// Fields
	mux.HandleFunc("POST /v1/datasets/{name}/fields", s.requireToken(s.withRateLimit(s.withDataset(s.handleAddFields))))
	mux.HandleFunc("DELETE /v1/datasets/{name}/fields/{field}", s.requireToken(s.withRateLimit(s.withDataset(s.handleRemoveField))))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, s.CORSMiddleware, maxBytesMiddleware(10<<20))
}

// handleHealth returns a health check response, pinging the open stores.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.SessionCount()})
}
