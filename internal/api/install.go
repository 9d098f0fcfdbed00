package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/i18n"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
	"grimm.is/hmdl/internal/ratelimit"
	"grimm.is/hmdl/internal/services"
	"grimm.is/hmdl/internal/setup"
	"grimm.is/hmdl/internal/state"
	hmdltls "grimm.is/hmdl/internal/tls"
)

// SetupStore is the part of the store the install endpoints use.
type SetupStore interface {
	GetSettings(ctx context.Context) (*state.Settings, error)
	InsertSettings(ctx context.Context, st state.Settings) error
}

// IsSetupResponse is the body of GET /api/is-setup.
type IsSetupResponse struct {
	Status string  `json:"status"`
	Domain *string `json:"domain"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Services []services.ServiceStatus `json:"services,omitempty"`
}

// InstallServer is the plaintext server. Before a certificate exists it
// accepts the one-time setup; afterwards it redirects to the secure server.
type InstallServer struct {
	store      SetupStore
	ready      *events.Topic[hmdltls.Ready]
	refresh    *events.Signal
	health     StatusReporter
	addr       string
	securePort int
	cfg        ServerConfig
	logger     *logging.Logger
	limiter    *ratelimit.Limiter

	// setupMu serializes POST /api/setup so the lockout check and the
	// insert cannot interleave.
	setupMu sync.Mutex
	handler http.Handler
}

// InstallOptions configures an InstallServer.
type InstallOptions struct {
	Store      SetupStore
	Ready      *events.Topic[hmdltls.Ready]
	Refresh    *events.Signal
	Health     StatusReporter
	Addr       string
	SecurePort int
	Config     ServerConfig
	Logger     *logging.Logger
	// SetupLimiter bounds POST /api/setup per client address. Defaults to
	// 10 requests a minute.
	SetupLimiter *ratelimit.Limiter
}

// NewInstallServer creates the install server.
func NewInstallServer(opts InstallOptions) *InstallServer {
	s := &InstallServer{
		store:      opts.Store,
		ready:      opts.Ready,
		refresh:    opts.Refresh,
		health:     opts.Health,
		addr:       opts.Addr,
		securePort: opts.SecurePort,
		cfg:        opts.Config,
		logger:     opts.Logger,
		limiter:    opts.SetupLimiter,
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewLimiter(10, time.Minute, nil)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/is-setup", s.handleIsSetup)
	mux.HandleFunc("POST /api/setup", s.handleSetup)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/", s.handleFallback)
	s.handler = wrap(s.logger, mux)
	return s
}

// Name returns the service name.
func (s *InstallServer) Name() string { return "install-http" }

// Handler returns the routed handler, for tests and embedding.
func (s *InstallServer) Handler() http.Handler { return s.handler }

// Run binds and serves until ctx ends. A bind failure is fatal.
func (s *InstallServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind install server %s: %w", s.addr, err)
	}
	s.logger.Info("install server listening", "addr", ln.Addr().String())
	return serve(ctx, newHTTPServer(s.cfg, s.handler), ln, s.cfg.ShutdownTimeout)
}

func (s *InstallServer) handleIsSetup(w http.ResponseWriter, r *http.Request) {
	status, err := currentStatus(r.Context(), s.store)
	if err != nil {
		s.logger.Error("failed to read settings", "error", err)
		WriteErrorCtx(w, r, http.StatusInternalServerError, i18n.MsgInternalError)
		return
	}
	WriteJSON(w, http.StatusOK, isSetupBody(status))
}

func (s *InstallServer) handleSetup(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientHost(r)) {
		WriteErrorCtx(w, r, http.StatusTooManyRequests, i18n.MsgTooManyRequests)
		return
	}

	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	existing, err := s.store.GetSettings(r.Context())
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		s.logger.Error("failed to read settings", "error", err)
		WriteErrorCtx(w, r, http.StatusInternalServerError, i18n.MsgInternalError)
		return
	}
	if existing != nil {
		WriteErrorCtx(w, r, http.StatusForbidden, i18n.MsgAlreadySetup)
		return
	}

	var req setup.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteErrorCtx(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, err.Error())
		return
	}
	settings, err := req.Settings()
	if err != nil {
		WriteErrorCtx(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, err.Error())
		return
	}

	if err := s.store.InsertSettings(r.Context(), settings); err != nil {
		if errors.Is(err, state.ErrAlreadySetup) {
			WriteErrorCtx(w, r, http.StatusForbidden, i18n.MsgAlreadySetup)
			return
		}
		s.logger.Error("failed to save settings", "error", err)
		WriteErrorCtx(w, r, http.StatusInternalServerError, i18n.MsgInternalError)
		return
	}

	s.logger.Info("settings saved", "domain", settings.Domain, "request_id", RequestID(r.Context()))
	s.refresh.Notify()
	WriteJSON(w, http.StatusCreated, isSetupBody(setup.InProgress{Settings: settings}))
}

func (s *InstallServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.health)
}

func (s *InstallServer) handleFallback(w http.ResponseWriter, r *http.Request) {
	if ready, ok := s.ready.Latest(); ok {
		host := ready.Settings.Domain
		if s.securePort != 443 {
			host = net.JoinHostPort(host, strconv.Itoa(s.securePort))
		}
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
		return
	}
	WriteErrorCtx(w, r, http.StatusNotFound, i18n.MsgNotFound)
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func currentStatus(ctx context.Context, store SetupStore) (setup.Status, error) {
	st, err := store.GetSettings(ctx)
	if errors.Is(err, state.ErrNotFound) {
		return setup.NotSetup{}, nil
	}
	if err != nil {
		return nil, err
	}
	return setup.Classify(st), nil
}

func isSetupBody(status setup.Status) IsSetupResponse {
	resp := IsSetupResponse{Status: status.String()}
	if settings, ok := setup.SettingsOf(status); ok {
		d := settings.Domain
		resp.Domain = &d
	}
	return resp
}

func writeHealth(w http.ResponseWriter, health StatusReporter) {
	resp := HealthResponse{Status: "Ok"}
	if health != nil {
		resp.Services = health.Statuses()
	}
	WriteJSON(w, http.StatusOK, resp)
}
