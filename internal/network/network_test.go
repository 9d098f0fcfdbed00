package network

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/hmdl/internal/clock"
)

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestAddrSet(t *testing.T) {
	a := NewAddrSet(addrs("192.168.1.2", "2001:db8::1", "192.168.1.2", "::ffff:10.0.0.1")...)
	b := NewAddrSet(addrs("10.0.0.1", "2001:db8::1", "192.168.1.2")...)

	assert.True(t, a.Equal(b), "order and duplicates must not matter: %s vs %s", a, b)
	assert.Len(t, a, 3)
	assert.True(t, a.Contains(netip.MustParseAddr("10.0.0.1")))
	assert.False(t, a.Contains(netip.MustParseAddr("10.0.0.2")))
	assert.False(t, a.Equal(NewAddrSet(addrs("10.0.0.1")...)))
	assert.True(t, NewAddrSet().Equal(NewAddrSet()))
}

func TestRoutable(t *testing.T) {
	tests := []struct {
		addr     string
		loopback bool
		want     bool
	}{
		{"192.168.1.10", false, true},
		{"203.0.113.5", false, true},
		{"2001:db8::5", false, true},
		{"169.254.10.1", false, false},
		{"fe80::1", false, false},
		{"127.0.0.1", false, false},
		{"127.0.0.1", true, true},
		{"::1", true, true},
		{"0.0.0.0", true, false},
		{"ff02::1", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Routable(netip.MustParseAddr(tt.addr), tt.loopback), "%s loopback=%v", tt.addr, tt.loopback)
	}
}

func TestParseARP(t *testing.T) {
	out := `printer.lan (192.168.1.20) at aa:bb:cc:dd:ee:ff on en0 ifscope [ethernet]
? (192.168.1.21) at 0:11:22:33:44:55 on en0 ifscope [ethernet]
? (192.168.1.30) at (incomplete) on en0 ifscope [ethernet]
`
	mac, host, err := parseARP(out, netip.MustParseAddr("192.168.1.20"))
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", mac)
	assert.Equal(t, "printer.lan", host)

	mac, host, err = parseARP(out, netip.MustParseAddr("192.168.1.21"))
	require.NoError(t, err)
	assert.Equal(t, "00:11:22:33:44:55", mac)
	assert.Empty(t, host)

	_, _, err = parseARP(out, netip.MustParseAddr("192.168.1.30"))
	assert.ErrorIs(t, err, ErrNoNeighbor)

	_, _, err = parseARP(out, netip.MustParseAddr("192.168.1.99"))
	assert.ErrorIs(t, err, ErrNoNeighbor)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) hardwareAddr(ip netip.Addr) (string, string, error) {
	args := m.Called(ip)
	return args.String(0), args.String(1), args.Error(2)
}

func TestNeighbors_Lookup(t *testing.T) {
	ip := netip.MustParseAddr("192.168.1.50")
	src := new(mockSource)
	src.On("hardwareAddr", ip).Return("aa:bb:cc:00:00:01", "", nil)

	reverse := func(ctx context.Context, addr string) ([]string, error) {
		return []string{"laptop.lan."}, nil
	}
	clk := clock.NewMockClock(time.Now())
	n := newNeighbors(src, reverse, clk)

	nb, err := n.Lookup(context.Background(), ip)
	require.NoError(t, err)
	assert.Equal(t, Neighbor{Hostname: "laptop.lan", MAC: "aa:bb:cc:00:00:01"}, nb)
	assert.Equal(t, "laptop.lan", nb.Name())

	_, err = n.Lookup(context.Background(), ip)
	require.NoError(t, err)
	src.AssertNumberOfCalls(t, "hardwareAddr", 1)

	clk.Advance(n.TTL + time.Second)
	_, err = n.Lookup(context.Background(), ip)
	require.NoError(t, err)
	src.AssertNumberOfCalls(t, "hardwareAddr", 2)
}

func TestNeighbors_FallbackToMAC(t *testing.T) {
	ip := netip.MustParseAddr("192.168.1.51")
	src := new(mockSource)
	src.On("hardwareAddr", ip).Return("aa:bb:cc:00:00:02", "", nil)

	reverse := func(ctx context.Context, addr string) ([]string, error) {
		return nil, errors.New("no PTR")
	}
	n := newNeighbors(src, reverse, clock.NewMockClock(time.Now()))

	nb, err := n.Lookup(context.Background(), ip)
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:00:00:02", nb.Name())
}

func TestNeighbors_LoopbackSentinel(t *testing.T) {
	src := new(mockSource)
	n := newNeighbors(src, nil, clock.NewMockClock(time.Now()))

	for _, s := range []string{"127.0.0.1", "::1"} {
		nb, err := n.Lookup(context.Background(), netip.MustParseAddr(s))
		require.NoError(t, err)
		assert.Equal(t, LoopbackNeighbor, nb)
	}
	src.AssertNotCalled(t, "hardwareAddr", mock.Anything)
}

func TestNeighbors_NotFound(t *testing.T) {
	ip := netip.MustParseAddr("192.168.1.52")
	src := new(mockSource)
	src.On("hardwareAddr", ip).Return("", "", ErrNoNeighbor)
	n := newNeighbors(src, nil, clock.NewMockClock(time.Now()))

	_, err := n.Lookup(context.Background(), ip)
	assert.ErrorIs(t, err, ErrNoNeighbor)
}
