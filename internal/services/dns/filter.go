package dns

import (
	"context"

	"github.com/miekg/dns"

	"grimm.is/hmdl/internal/metrics"
)

// FilteringAuthority consults a Decider before delegating to the wrapped
// Authority. Blocked names are answered locally and never forwarded. The
// decision is keyed on the name only, so every record type, PTR included,
// is treated alike.
type FilteringAuthority struct {
	next       Authority
	decider    Decider
	blockRcode int
}

// NewFilteringAuthority wraps next.
func NewFilteringAuthority(next Authority, decider Decider, blockRcode int) *FilteringAuthority {
	return &FilteringAuthority{next: next, decider: decider, blockRcode: blockRcode}
}

// Resolve answers with the block code or delegates.
func (f *FilteringAuthority) Resolve(ctx context.Context, req Request) (*dns.Msg, error) {
	if req.Msg == nil || len(req.Msg.Question) == 0 {
		return f.next.Resolve(ctx, req)
	}

	if f.decider.Decide(ctx, req.Client, req.Msg.Question[0].Name) == Block {
		metrics.Get().DNSBlocked.Inc()
		return blockResponse(req.Msg, f.blockRcode), nil
	}
	return f.next.Resolve(ctx, req)
}

// blockResponse builds the refusal. Codes above 15 do not fit the header
// and are carried in an EDNS0 OPT record.
func blockResponse(req *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, rcode)
	m.RecursionAvailable = true
	if rcode > 0xF {
		size := uint16(dns.MinMsgSize)
		if opt := req.IsEdns0(); opt != nil {
			size = opt.UDPSize()
		}
		m.SetEdns0(size, false)
	}
	return m
}
