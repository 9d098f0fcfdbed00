// Package ipmonitor polls the local interface addresses and publishes the
// routable set whenever it changes.
package ipmonitor

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
	"grimm.is/hmdl/internal/network"
)

// Monitor is the address change service.
type Monitor struct {
	lister          network.AddrLister
	topic           *events.Topic[network.AddrSet]
	interval        time.Duration
	includeLoopback bool
	logger          *logging.Logger

	// MaxFailures is how many consecutive failed polls are tolerated.
	MaxFailures int

	last      network.AddrSet
	published bool
}

// New creates a monitor.
func New(lister network.AddrLister, topic *events.Topic[network.AddrSet], interval time.Duration, includeLoopback bool, logger *logging.Logger) *Monitor {
	return &Monitor{
		lister:          lister,
		topic:           topic,
		interval:        interval,
		includeLoopback: includeLoopback,
		logger:          logger,
		MaxFailures:     3,
	}
}

// Name returns the service name.
func (m *Monitor) Name() string { return "ipmonitor" }

// Run polls until ctx is cancelled. The first successful poll always
// publishes, even an empty set. Failed enumerations are retried on the next
// tick; after MaxFailures consecutive failures the error is returned.
// Nothing is ever published for a failed poll.
func (m *Monitor) Run(ctx context.Context) error {
	failures := 0
	poll := func() error {
		err := m.Poll()
		if err == nil {
			failures = 0
			return nil
		}
		failures++
		if failures >= m.MaxFailures {
			return err
		}
		m.logger.Warn("address poll failed, retrying", "error", err, "failures", failures)
		return nil
	}

	if err := poll(); err != nil {
		return err
	}

	// time.Ticker drops ticks for a slow receiver, so a long poll never
	// leaves a backlog behind it.
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}
		}
	}
}

// Poll enumerates addresses once and publishes if the set changed.
func (m *Monitor) Poll() error {
	raw, err := m.lister.InterfaceAddrs()
	if err != nil {
		return fmt.Errorf("failed to enumerate interface addresses: %w", err)
	}

	set := network.NewAddrSet(raw...).Filter(func(a netip.Addr) bool {
		return network.Routable(a, m.includeLoopback)
	})

	if m.published && set.Equal(m.last) {
		return nil
	}

	if m.published {
		m.logger.Info("address set changed", "from", m.last.String(), "to", set.String())
	} else {
		m.logger.Info("initial address set", "addrs", set.String())
	}
	m.last = set
	m.published = true
	metrics.Get().IPAddresses.Set(float64(len(set)))
	m.topic.Publish(set)
	return nil
}
