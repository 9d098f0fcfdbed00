package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/i18n"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
	hmdltls "grimm.is/hmdl/internal/tls"
)

// HTTPSMarker records that the secure server has bound.
type HTTPSMarker interface {
	SetupStore
	MarkHTTPSStarted(ctx context.Context) error
}

// SecureServer serves HTTPS once a certificate has been published.
type SecureServer struct {
	store   HTTPSMarker
	ready   *events.Topic[hmdltls.Ready]
	refresh *events.Signal
	health  StatusReporter
	routes  RouteRegistrar
	addr    string
	cfg     ServerConfig
	logger  *logging.Logger

	bound chan struct{}
}

// SecureOptions configures a SecureServer.
type SecureOptions struct {
	Store   HTTPSMarker
	Ready   *events.Topic[hmdltls.Ready]
	Refresh *events.Signal
	Health  StatusReporter
	Routes  RouteRegistrar
	Addr    string
	Config  ServerConfig
	Logger  *logging.Logger
}

// NewSecureServer creates the secure server.
func NewSecureServer(opts SecureOptions) *SecureServer {
	return &SecureServer{
		store:   opts.Store,
		ready:   opts.Ready,
		refresh: opts.Refresh,
		health:  opts.Health,
		routes:  opts.Routes,
		addr:    opts.Addr,
		cfg:     opts.Config,
		logger:  opts.Logger,
		bound:   make(chan struct{}),
	}
}

// Name returns the service name.
func (s *SecureServer) Name() string { return "secure-http" }

// Bound is closed once the TLS listener is accepting connections.
func (s *SecureServer) Bound() <-chan struct{} { return s.bound }

// Handler builds the routed handler for the secure server.
func (s *SecureServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/is-setup", func(w http.ResponseWriter, r *http.Request) {
		status, err := currentStatus(r.Context(), s.store)
		if err != nil {
			s.logger.Error("failed to read settings", "error", err)
			WriteErrorCtx(w, r, http.StatusInternalServerError, i18n.MsgInternalError)
			return
		}
		WriteJSON(w, http.StatusOK, isSetupBody(status))
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, s.health)
	})
	mux.Handle("GET /metrics", metrics.Handler())
	if s.routes != nil {
		s.routes.RegisterRoutes(mux)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteErrorCtx(w, r, http.StatusNotFound, i18n.MsgNotFound)
	})
	return wrap(s.logger, mux)
}

// Run waits for the first published TLS configuration, binds, records that
// HTTPS has started, and serves until ctx ends.
func (s *SecureServer) Run(ctx context.Context) error {
	sub := s.ready.Subscribe()
	ready, err := sub.Recv(ctx)
	if err != nil {
		return nil
	}

	inner, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind secure server %s: %w", s.addr, err)
	}
	ln := tls.NewListener(inner, ready.Config)
	close(s.bound)
	s.logger.Info("secure server listening", "addr", inner.Addr().String(), "domain", ready.Settings.Domain)

	if err := s.store.MarkHTTPSStarted(ctx); err != nil {
		s.logger.Error("failed to record https start", "error", err)
	} else {
		s.refresh.Notify()
	}

	return serve(ctx, newHTTPServer(s.cfg, s.Handler()), ln, s.cfg.ShutdownTimeout)
}
