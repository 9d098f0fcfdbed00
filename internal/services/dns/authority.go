// Package dns is the filtering resolver. Every query is attributed to a
// client, logged against the known-domain history, checked against the
// group policy, and either refused with the block code or forwarded
// upstream.
//
// Resolution is composed from two Authority implementations: a Forwarder
// that relays to upstream resolvers and a FilteringAuthority that wraps it.
package dns

import (
	"context"
	"net/netip"

	"github.com/miekg/dns"
)

// Request is one query as received from a client.
type Request struct {
	Msg    *dns.Msg
	Client netip.Addr
	// Net is the transport the query arrived on, "udp" or "tcp".
	Net string
}

// Authority answers queries.
type Authority interface {
	Resolve(ctx context.Context, req Request) (*dns.Msg, error)
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(ctx context.Context, req Request) (*dns.Msg, error)

// Resolve calls f.
func (f AuthorityFunc) Resolve(ctx context.Context, req Request) (*dns.Msg, error) {
	return f(ctx, req)
}
