package dns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"grimm.is/hmdl/internal/metrics"
)

// Forwarder relays queries to upstream recursive resolvers, trying each in
// order until one answers.
type Forwarder struct {
	upstreams []string
	timeout   time.Duration
}

// NewForwarder creates a forwarder for host:port upstreams.
func NewForwarder(upstreams []string, timeout time.Duration) *Forwarder {
	return &Forwarder{upstreams: upstreams, timeout: timeout}
}

// Resolve forwards the query over the client's transport, so a truncated
// UDP answer reaches the client as-is and the client retries over TCP.
func (f *Forwarder) Resolve(ctx context.Context, req Request) (*dns.Msg, error) {
	if req.Msg == nil || len(req.Msg.Question) == 0 {
		return nil, errors.New("empty query")
	}

	network := req.Net
	if network != "tcp" {
		network = "udp"
	}
	c := &dns.Client{Net: network, Timeout: f.timeout}

	var errs []error
	for _, up := range f.upstreams {
		resp, _, err := c.ExchangeContext(ctx, req.Msg, up)
		if err == nil && resp != nil {
			resp.Id = req.Msg.Id
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", up, err))
		if ctx.Err() != nil {
			break
		}
	}

	metrics.Get().DNSUpstreamErrors.Inc()
	return nil, fmt.Errorf("all upstreams failed: %w", errors.Join(errs...))
}
