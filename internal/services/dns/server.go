package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"

	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
	"grimm.is/hmdl/internal/network"
)

// Server is the DNS listener service. It binds nothing until the first
// address set arrives, and rebinds whenever the set changes so that newly
// acquired addresses are served.
type Server struct {
	authority  Authority
	addrs      *events.Topic[network.AddrSet]
	listenAddr string
	port       int
	logger     *logging.Logger

	// QueryTimeout bounds the work done for a single query.
	QueryTimeout time.Duration
	// DrainTimeout bounds how long in-flight queries are given to finish
	// before a listener is closed.
	DrainTimeout time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	bound   bool
}

// NewServer creates the service. An empty listenAddr binds the wildcard
// address, covering every address in the monitored set.
func NewServer(authority Authority, addrs *events.Topic[network.AddrSet], listenAddr string, port int, logger *logging.Logger) *Server {
	return &Server{
		authority:    authority,
		addrs:        addrs,
		listenAddr:   listenAddr,
		port:         port,
		logger:       logger,
		QueryTimeout: 5 * time.Second,
		DrainTimeout: 2 * time.Second,
		baseCtx:      context.Background(),
	}
}

// Name returns the service name.
func (s *Server) Name() string { return "dns" }

// Bound reports whether listeners are currently open.
func (s *Server) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Run serves until ctx is cancelled. A failure to bind is fatal.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	sub := s.addrs.Subscribe()
	set, err := sub.Recv(ctx)
	if err != nil {
		return nil
	}

	for {
		servers, errCh, err := s.listen()
		if err != nil {
			return err
		}
		s.logger.Info("DNS listening", "port", s.port, "addrs", set.String())

		select {
		case <-ctx.Done():
			s.shutdown(servers)
			return nil
		case err := <-errCh:
			s.shutdown(servers)
			return fmt.Errorf("dns listener failed: %w", err)
		case <-sub.Ready():
			next, ok := sub.Next()
			if !ok {
				continue
			}
			s.logger.Info("address set changed, rebinding DNS listeners", "from", set.String(), "to", next.String())
			set = next
			s.shutdown(servers)
			metrics.Get().DNSListenerRestarts.Inc()
		}
	}
}

func (s *Server) listen() ([]*dns.Server, <-chan error, error) {
	addr := net.JoinHostPort(s.listenAddr, strconv.Itoa(s.port))

	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind DNS udp %s: %w", addr, err)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("failed to bind DNS tcp %s: %w", addr, err)
	}

	servers := []*dns.Server{
		{PacketConn: pc, Net: "udp", Handler: s},
		{Listener: l, Net: "tcp", Handler: s},
	}

	errCh := make(chan error, len(servers))
	var started sync.WaitGroup
	for _, srv := range servers {
		started.Add(1)
		var once sync.Once
		done := func() { once.Do(started.Done) }
		srv.NotifyStartedFunc = done
		go func(srv *dns.Server) {
			err := srv.ActivateAndServe()
			done()
			if err != nil {
				errCh <- err
			}
		}(srv)
	}
	started.Wait()

	s.mu.Lock()
	s.bound = true
	s.mu.Unlock()
	return servers, errCh, nil
}

// shutdown stops reading, lets in-flight handlers answer, then releases
// the sockets.
func (s *Server) shutdown(servers []*dns.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), s.DrainTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.ShutdownContext(ctx); err != nil {
			s.logger.Warn("DNS listener shutdown", "net", srv.Net, "error", err)
		}
	}
	s.mu.Lock()
	s.bound = false
	s.mu.Unlock()
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) > 0 {
		metrics.Get().DNSQueries.WithLabelValues(dns.TypeToString[r.Question[0].Qtype]).Inc()
	}

	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(base, s.QueryTimeout)
	defer cancel()

	client, transport := remote(w.RemoteAddr())
	resp, err := s.authority.Resolve(ctx, Request{Msg: r, Client: client, Net: transport})
	if err != nil {
		s.logger.Warn("query failed", "client", client.String(), "error", err)
		dns.HandleFailed(w, r)
		return
	}

	if err := w.WriteMsg(resp); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("failed to write response", "client", client.String(), "error", err)
	}
}

func remote(addr net.Addr) (netip.Addr, string) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.AddrPort().Addr().Unmap(), "udp"
	case *net.TCPAddr:
		return a.AddrPort().Addr().Unmap(), "tcp"
	}
	return netip.Addr{}, "udp"
}
