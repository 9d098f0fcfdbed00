package dns

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/network"
	"grimm.is/hmdl/internal/testutil"
)

func echoAuthority() Authority {
	return AuthorityFunc(func(_ context.Context, req Request) (*dns.Msg, error) {
		m := new(dns.Msg)
		m.SetReply(req.Msg)
		rr, _ := dns.NewRR(req.Msg.Question[0].Name + " 60 IN TXT \"" + req.Net + " " + req.Client.String() + "\"")
		m.Answer = append(m.Answer, rr)
		return m, nil
	})
}

func startServer(t *testing.T, auth Authority) (*Server, *events.Topic[network.AddrSet], string, context.CancelFunc, <-chan error) {
	t.Helper()
	port := testutil.FreePort(t)
	topic := events.NewTopic[network.AddrSet]("ip-addrs")
	srv := NewServer(auth, topic, "127.0.0.1", port, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(cancel)

	return srv, topic, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), cancel, done
}

func exchange(t *testing.T, netw, addr string) (*dns.Msg, error) {
	t.Helper()
	c := &dns.Client{Net: netw, Timeout: 500 * time.Millisecond}
	resp, _, err := c.Exchange(question("host.example.com", dns.TypeTXT), addr)
	return resp, err
}

func TestServer_WaitsForAddresses(t *testing.T) {
	srv, topic, addr, _, _ := startServer(t, echoAuthority())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, srv.Bound())

	topic.Publish(network.NewAddrSet(netip.MustParseAddr("192.168.1.2")))
	require.Eventually(t, srv.Bound, 2*time.Second, 10*time.Millisecond)

	resp, err := exchange(t, "udp", addr)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, []string{"udp 127.0.0.1"}, resp.Answer[0].(*dns.TXT).Txt)

	resp, err = exchange(t, "tcp", addr)
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp 127.0.0.1"}, resp.Answer[0].(*dns.TXT).Txt)
}

func TestServer_RebindsOnAddressChange(t *testing.T) {
	srv, topic, addr, _, done := startServer(t, echoAuthority())

	topic.Publish(network.NewAddrSet(netip.MustParseAddr("192.168.1.2")))
	require.Eventually(t, srv.Bound, 2*time.Second, 10*time.Millisecond)

	topic.Publish(network.NewAddrSet(netip.MustParseAddr("192.168.1.2"), netip.MustParseAddr("192.168.1.3")))

	require.Eventually(t, func() bool {
		_, err := exchange(t, "udp", addr)
		return err == nil && srv.Bound()
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("server exited after rebind: %v", err)
	default:
	}
}

func TestServer_AuthorityErrorIsServfail(t *testing.T) {
	failing := AuthorityFunc(func(context.Context, Request) (*dns.Msg, error) {
		return nil, assert.AnError
	})
	srv, topic, addr, _, _ := startServer(t, failing)
	topic.Publish(network.NewAddrSet())
	require.Eventually(t, srv.Bound, 2*time.Second, 10*time.Millisecond)

	resp, err := exchange(t, "udp", addr)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func TestServer_StopsOnCancel(t *testing.T) {
	srv, topic, _, cancel, done := startServer(t, echoAuthority())
	topic.Publish(network.NewAddrSet())
	require.Eventually(t, srv.Bound, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, srv.Bound())
}

func TestServer_BindFailureIsFatal(t *testing.T) {
	l, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.LocalAddr().(*net.UDPAddr).Port

	topic := events.NewTopic[network.AddrSet]("ip-addrs")
	topic.Publish(network.NewAddrSet())
	srv := NewServer(echoAuthority(), topic, "127.0.0.1", port, logging.Discard())

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")
}
