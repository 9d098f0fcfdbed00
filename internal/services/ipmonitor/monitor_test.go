package ipmonitor

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/network"
)

type fakeLister struct {
	mu    sync.Mutex
	addrs []netip.Addr
	err   error
	calls int
}

func (f *fakeLister) InterfaceAddrs() ([]netip.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.addrs, f.err
}

func (f *fakeLister) set(addrs []netip.Addr, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addrs, f.err = addrs, err
}

func parse(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func newMonitor(lister network.AddrLister, loopback bool) (*Monitor, *events.Topic[network.AddrSet]) {
	topic := events.NewTopic[network.AddrSet]("ip-addrs")
	return New(lister, topic, 10*time.Millisecond, loopback, logging.Discard()), topic
}

func TestPoll_PublishesEmptySetOnStartup(t *testing.T) {
	m, topic := newMonitor(&fakeLister{}, false)

	require.NoError(t, m.Poll())

	set, ok := topic.Latest()
	require.True(t, ok)
	assert.Empty(t, set)
	assert.Equal(t, uint64(1), topic.Published())
}

func TestPoll_FiltersLinkLocalAndLoopback(t *testing.T) {
	lister := &fakeLister{addrs: parse("127.0.0.1", "::1", "169.254.3.4", "fe80::1", "192.168.1.5", "2001:db8::5")}
	m, topic := newMonitor(lister, false)

	require.NoError(t, m.Poll())

	set, _ := topic.Latest()
	assert.Equal(t, network.NewAddrSet(parse("192.168.1.5", "2001:db8::5")...), set)
}

func TestPoll_IncludeLoopback(t *testing.T) {
	lister := &fakeLister{addrs: parse("127.0.0.1", "192.168.1.5")}
	m, topic := newMonitor(lister, true)

	require.NoError(t, m.Poll())

	set, _ := topic.Latest()
	assert.True(t, set.Contains(netip.MustParseAddr("127.0.0.1")))
}

func TestPoll_PublishesOnlyOnChange(t *testing.T) {
	lister := &fakeLister{addrs: parse("192.168.1.5", "10.0.0.1")}
	m, topic := newMonitor(lister, false)

	require.NoError(t, m.Poll())
	require.NoError(t, m.Poll())

	lister.set(parse("10.0.0.1", "192.168.1.5"), nil)
	require.NoError(t, m.Poll())
	assert.Equal(t, uint64(1), topic.Published(), "reordering is not a change")

	lister.set(parse("10.0.0.1", "192.168.1.6"), nil)
	require.NoError(t, m.Poll())
	assert.Equal(t, uint64(2), topic.Published())

	set, _ := topic.Latest()
	assert.Equal(t, network.NewAddrSet(parse("10.0.0.1", "192.168.1.6")...), set)
}

func TestPoll_ErrorDoesNotPublish(t *testing.T) {
	lister := &fakeLister{err: errors.New("netlink: permission denied")}
	m, topic := newMonitor(lister, false)

	assert.Error(t, m.Poll())
	assert.Equal(t, uint64(0), topic.Published())
}

func TestRun_ReturnsAfterRepeatedFailures(t *testing.T) {
	lister := &fakeLister{err: errors.New("netlink: permission denied")}
	m, topic := newMonitor(lister, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.Run(ctx)
	assert.Error(t, err)
	assert.Equal(t, m.MaxFailures, lister.calls)
	assert.Equal(t, uint64(0), topic.Published())
}

func TestRun_PicksUpChanges(t *testing.T) {
	lister := &fakeLister{addrs: parse("192.168.1.5")}
	m, topic := newMonitor(lister, false)
	sub := topic.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	recv := func() network.AddrSet {
		rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
		defer rcancel()
		set, err := sub.Recv(rctx)
		require.NoError(t, err)
		return set
	}

	assert.Equal(t, network.NewAddrSet(parse("192.168.1.5")...), recv())

	lister.set(parse("192.168.1.7"), nil)
	assert.Equal(t, network.NewAddrSet(parse("192.168.1.7")...), recv())

	cancel()
	assert.NoError(t, <-done)
}
