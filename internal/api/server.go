package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gnmradar/gnm/internal/store"
)

const lastByTargetCacheTTL = 5 * time.Second

// Server wraps the HTTP server and mux for the read API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	cache      *ResponseCache
}

// NewServer creates an API server wired with all routes. An empty token
// disables authentication on the /api/ routes.
func NewServer(port int, token string, db *store.DB) *Server {
	return NewServerWithAddress("", port, token, db)
}

// NewServerWithAddress creates an API server with an explicit listen address.
func NewServerWithAddress(listenAddress string, port int, token string, db *store.DB) *Server {
	repo := store.NewRepo(db)
	cache := NewResponseCache(64, lastByTargetCacheTTL)
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /health", HandleHealth(db))

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/last", HandleLast(repo))
	authed.Handle("GET /api/last-by-target", HandleLastByTarget(repo, cache))
	authed.Handle("GET /api/timeseries", HandleTimeseries(repo))
	authed.Handle("GET /api/meta/targets", HandleTargets(repo))

	mux.Handle("/api/", AuthMiddleware(token, authed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		cache:      cache,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cache.Close()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
