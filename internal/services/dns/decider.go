package dns

import (
	"context"
	"net/netip"

	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
	"grimm.is/hmdl/internal/network"
	"grimm.is/hmdl/internal/state"
)

// Decision is the outcome of a policy check.
type Decision int

const (
	Allow Decision = iota
	Block
)

func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "allow"
}

// Decider makes the block/allow decision for one query.
type Decider interface {
	Decide(ctx context.Context, client netip.Addr, name string) Decision
}

// PolicyStore is the part of the store the decider writes and reads.
type PolicyStore interface {
	UpsertClient(ctx context.Context, c state.Client) error
	LogDomain(ctx context.Context, name string, client netip.Addr) (string, error)
	IsBlocked(ctx context.Context, client, domain string) (bool, error)
}

// PolicyDecider records the client and domain, then evaluates group policy.
// It fails open: any error is logged and the query is allowed.
type PolicyDecider struct {
	neighbors network.NeighborTable
	store     PolicyStore
	logger    *logging.Logger
}

// NewPolicyDecider creates a decider.
func NewPolicyDecider(neighbors network.NeighborTable, store PolicyStore, logger *logging.Logger) *PolicyDecider {
	return &PolicyDecider{neighbors: neighbors, store: store, logger: logger}
}

// Decide never returns Block because of an internal error.
func (d *PolicyDecider) Decide(ctx context.Context, client netip.Addr, name string) Decision {
	name = state.CanonicalName(name)
	if name == "." {
		return Allow
	}

	blocked, err := d.evaluate(ctx, client, name)
	if err != nil {
		metrics.Get().DNSDecisionErrors.Inc()
		d.logger.Error("policy evaluation failed, allowing", "client", client.String(), "name", name, "error", err)
		return Allow
	}
	if blocked {
		return Block
	}
	return Allow
}

func (d *PolicyDecider) evaluate(ctx context.Context, client netip.Addr, name string) (bool, error) {
	nb, err := d.neighbors.Lookup(ctx, client)
	if err != nil {
		// Unknown devices are still logged and checked, keyed by address.
		d.logger.Warn("neighbor lookup failed, using client address", "client", client.String(), "error", err)
		nb = network.Neighbor{Hostname: client.String()}
	}

	if err := d.store.UpsertClient(ctx, state.Client{Name: nb.Name(), IP: client.String(), MAC: nb.MAC}); err != nil {
		return false, err
	}

	resolved, err := d.store.LogDomain(ctx, name, client)
	if err != nil {
		return false, err
	}

	blocked, err := d.store.IsBlocked(ctx, nb.Name(), name)
	if err != nil {
		return false, err
	}

	d.logger.Debug("query", "client", nb.Name(), "name", name, "known_as", resolved, "blocked", blocked)
	return blocked, nil
}
