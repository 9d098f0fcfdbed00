// Package coordinator builds the appliance services around one store and
// supervises them until the first one exits.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"grimm.is/hmdl/internal/api"
	"grimm.is/hmdl/internal/cloudflare"
	"grimm.is/hmdl/internal/config"
	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/network"
	"grimm.is/hmdl/internal/services"
	"grimm.is/hmdl/internal/services/acme"
	"grimm.is/hmdl/internal/services/ddns"
	"grimm.is/hmdl/internal/services/dns"
	"grimm.is/hmdl/internal/services/ipmonitor"
	"grimm.is/hmdl/internal/setup"
	"grimm.is/hmdl/internal/state"
	hmdltls "grimm.is/hmdl/internal/tls"
)

// Topic names.
const (
	TopicAddrs   = "ip-addrs"
	TopicStatus  = "setup-status"
	TopicReady   = "tls-ready"
	SignalReload = "refresh"
)

// errExited marks a service that returned without error while the others
// were still running.
var errExited = errors.New("service exited")

// Options carries the collaborators a Coordinator is built from. Nil fields
// get the host implementations.
type Options struct {
	Config *config.Config
	Logger *logging.Logger
	Store  *state.SQLiteStore

	Addrs      network.AddrLister
	Neighbors  network.NeighborTable
	Provider   func(token string) cloudflare.Provider
	ACMEClient acme.ClientFactory
	Checker    acme.Checker
	Routes     api.RouteRegistrar
}

// Coordinator owns the topics and the service set.
type Coordinator struct {
	logger    *logging.Logger
	store     *state.SQLiteStore
	ownsStore bool

	Addrs   *events.Topic[network.AddrSet]
	Status  *events.Topic[setup.Status]
	Ready   *events.Topic[hmdltls.Ready]
	Refresh *events.Signal

	services []services.Service

	mu       sync.RWMutex
	statuses map[string]services.ServiceStatus
}

// New builds every service. It opens the store when opts.Store is nil; a
// store that cannot be opened is a fatal startup error.
func New(opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	c := &Coordinator{
		logger:   logger.WithComponent("coordinator"),
		store:    opts.Store,
		Addrs:    events.NewTopic[network.AddrSet](TopicAddrs),
		Status:   events.NewTopic[setup.Status](TopicStatus),
		Ready:    events.NewTopic[hmdltls.Ready](TopicReady),
		Refresh:  events.NewSignal(SignalReload),
		statuses: make(map[string]services.ServiceStatus),
	}
	if c.store == nil {
		store, err := state.NewSQLiteStore(state.DefaultOptions(cfg.DatabasePath()))
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		c.store = store
		c.ownsStore = true
	}

	sys := network.NewSystem()
	lister := opts.Addrs
	if lister == nil {
		lister = sys
	}
	neighbors := opts.Neighbors
	if neighbors == nil {
		neighbors = network.NewNeighbors(sys)
	}
	newProvider := opts.Provider
	if newProvider == nil {
		newProvider = func(token string) cloudflare.Provider {
			return cloudflare.New(cfg.Cloudflare.APIURL, token)
		}
	}
	checker := opts.Checker
	if checker == nil {
		checker = newChecker(cfg)
	}

	monitor := ipmonitor.New(lister, c.Addrs, cfg.IPMonitor.IntervalDuration(), cfg.IPMonitor.IncludeLoopback,
		logger.WithComponent("ipmonitor"))

	tracker := setup.NewTracker(c.store, c.Status, c.Refresh, logger.WithComponent("setup"))

	dnsLogger := logger.WithComponent("dns")
	authority := dns.NewFilteringAuthority(
		dns.NewForwarder(cfg.DNS.Upstreams, cfg.DNS.UpstreamTimeoutDuration()),
		dns.NewPolicyDecider(neighbors, c.store, dnsLogger),
		cfg.DNS.BlockRcode,
	)
	dnsServer := dns.NewServer(authority, c.Addrs, "", cfg.DNS.Port, dnsLogger)

	reconciler := ddns.NewService(c.Addrs, c.Status, newProvider, cfg.Cloudflare.ReconcileRetryDuration(),
		logger.WithComponent("ddns"))

	acmeLogger := logger.WithComponent("acme")
	prov := acme.NewProvisioner(acme.Options{
		Cache:               c.store.ACMECache(),
		Client:              opts.ACMEClient,
		Provider:            newProvider,
		Checker:             checker,
		Directory:           cfg.ACME.Directory(),
		Logger:              acmeLogger,
		PropagationInterval: cfg.ACME.PropagationIntervalDuration(),
		RenewBefore:         cfg.ACME.RenewBefore(),
	})
	provisioner := acme.NewService(prov, c.Status, c.Ready, hmdltls.NewCertificateManager(), acmeLogger)
	provisioner.RenewInterval = cfg.ACME.RenewIntervalDuration()
	provisioner.RetryInterval = cfg.ACME.RetryIntervalDuration()

	apiLogger := logger.WithComponent("api")
	install := api.NewInstallServer(api.InstallOptions{
		Store:      c.store,
		Ready:      c.Ready,
		Refresh:    c.Refresh,
		Health:     c,
		Addr:       hostPort(cfg.HTTP.ListenAddress, cfg.HTTP.InstallPort),
		SecurePort: cfg.HTTP.SecurePort,
		Config:     api.DefaultServerConfig(),
		Logger:     apiLogger,
	})
	secure := api.NewSecureServer(api.SecureOptions{
		Store:   c.store,
		Ready:   c.Ready,
		Refresh: c.Refresh,
		Health:  c,
		Routes:  opts.Routes,
		Addr:    hostPort(cfg.HTTP.ListenAddress, cfg.HTTP.SecurePort),
		Config:  api.DefaultServerConfig(),
		Logger:  apiLogger,
	})

	c.services = []services.Service{monitor, tracker, dnsServer, reconciler, provisioner, install, secure}
	for _, svc := range c.services {
		c.statuses[svc.Name()] = services.ServiceStatus{Name: svc.Name()}
	}
	return c, nil
}

// Services returns the supervised services in start order.
func (c *Coordinator) Services() []services.Service {
	return c.services
}

// Run starts every service and waits. The first service to return ends the
// run: the rest are cancelled and the first error, if any, is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	return c.supervise(ctx, c.services)
}

func (c *Coordinator) supervise(ctx context.Context, svcs []services.Service) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range svcs {
		g.Go(func() error {
			name := svc.Name()
			c.setStatus(name, true, nil)
			c.logger.Info("service started", "service", name)

			err := svc.Run(gctx)
			c.setStatus(name, false, err)

			switch {
			case err != nil:
				c.logger.Error("service failed", "service", name, "error", err)
				return fmt.Errorf("%s: %w", name, err)
			case gctx.Err() != nil:
				c.logger.Info("service stopped", "service", name)
				return nil
			default:
				c.logger.Warn("service exited", "service", name)
				return fmt.Errorf("%s: %w", name, errExited)
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, errExited) {
		return nil
	}
	return err
}

// Close releases the store if the coordinator opened it.
func (c *Coordinator) Close() error {
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}

// Statuses implements api.StatusReporter.
func (c *Coordinator) Statuses() []services.ServiceStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]services.ServiceStatus, 0, len(c.services))
	for _, svc := range c.services {
		out = append(out, c.statuses[svc.Name()])
	}
	return out
}

func (c *Coordinator) setStatus(name string, running bool, err error) {
	st := services.ServiceStatus{Name: name, Running: running}
	if err != nil {
		st.Error = err.Error()
	}
	c.mu.Lock()
	c.statuses[name] = st
	c.mu.Unlock()
}

func newChecker(cfg *config.Config) acme.Checker {
	if cfg.ACME.PropagationCheck == config.PropagationResolver {
		return &acme.ResolverChecker{
			Server:  cfg.ACME.PropagationResolver,
			Timeout: cfg.DNS.UpstreamTimeoutDuration(),
		}
	}
	return &acme.DigChecker{}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

