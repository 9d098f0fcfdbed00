package network

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"grimm.is/hmdl/internal/clock"
)

// ErrNoNeighbor is returned when an address is not in the neighbor table.
var ErrNoNeighbor = errors.New("address not in neighbor table")

// Neighbor identifies a device on the local network.
type Neighbor struct {
	Hostname string
	MAC      string
}

// LoopbackNeighbor is reported for queries from the host itself.
var LoopbackNeighbor = Neighbor{Hostname: "localhost", MAC: "00:00:00:00:00:00"}

// Name is the stable client identifier: the hostname, or the hardware
// address when no hostname is known.
func (n Neighbor) Name() string {
	if n.Hostname != "" {
		return n.Hostname
	}
	return n.MAC
}

// NeighborTable resolves a client address to its device identity.
type NeighborTable interface {
	Lookup(ctx context.Context, ip netip.Addr) (Neighbor, error)
}

type neighborSource interface {
	hardwareAddr(ip netip.Addr) (mac, hostname string, err error)
}

type cachedNeighbor struct {
	n  Neighbor
	at time.Time
}

// Neighbors resolves hardware addresses from the system neighbor table and
// hostnames by reverse lookup, caching results for TTL.
type Neighbors struct {
	source     neighborSource
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
	clock      clock.Clock

	TTL            time.Duration
	ReverseTimeout time.Duration

	mu    sync.Mutex
	cache map[netip.Addr]cachedNeighbor
}

// NewNeighbors creates a neighbor table backed by the running host.
func NewNeighbors(sys *System) *Neighbors {
	return newNeighbors(sys, net.DefaultResolver.LookupAddr, &clock.RealClock{})
}

func newNeighbors(src neighborSource, lookupAddr func(context.Context, string) ([]string, error), clk clock.Clock) *Neighbors {
	return &Neighbors{
		source:         src,
		lookupAddr:     lookupAddr,
		clock:          clk,
		TTL:            5 * time.Minute,
		ReverseTimeout: 250 * time.Millisecond,
		cache:          make(map[netip.Addr]cachedNeighbor),
	}
}

// Lookup returns the identity of the device using ip. Loopback addresses
// return LoopbackNeighbor without consulting the table.
func (n *Neighbors) Lookup(ctx context.Context, ip netip.Addr) (Neighbor, error) {
	ip = ip.Unmap().WithZone("")
	if ip.IsLoopback() {
		return LoopbackNeighbor, nil
	}

	n.mu.Lock()
	if c, ok := n.cache[ip]; ok && n.clock.Since(c.at) < n.TTL {
		n.mu.Unlock()
		return c.n, nil
	}
	n.mu.Unlock()

	mac, host, err := n.source.hardwareAddr(ip)
	if err != nil {
		return Neighbor{}, err
	}

	if host == "" && n.lookupAddr != nil {
		rctx, cancel := context.WithTimeout(ctx, n.ReverseTimeout)
		names, err := n.lookupAddr(rctx, ip.String())
		cancel()
		if err == nil && len(names) > 0 {
			host = strings.TrimSuffix(names[0], ".")
		}
	}

	nb := Neighbor{Hostname: host, MAC: mac}
	n.mu.Lock()
	n.cache[ip] = cachedNeighbor{n: nb, at: n.clock.Now()}
	n.mu.Unlock()
	return nb, nil
}

// parseARP finds ip in BSD style `arp -a` output:
//
//	printer.lan (192.168.1.20) at aa:bb:cc:dd:ee:ff on en0 ifscope [ethernet]
//	? (192.168.1.30) at (incomplete) on en0 ifscope [ethernet]
func parseARP(output string, ip netip.Addr) (mac, hostname string, err error) {
	want := "(" + ip.String() + ")"
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[1] != want || fields[2] != "at" {
			continue
		}
		hw, perr := net.ParseMAC(padMAC(fields[3]))
		if perr != nil {
			return "", "", ErrNoNeighbor
		}
		if fields[0] != "?" {
			hostname = fields[0]
		}
		return hw.String(), hostname, nil
	}
	return "", "", ErrNoNeighbor
}

// padMAC widens the single digit octets BSD arp prints ("0:1b:...").
func padMAC(s string) string {
	parts := strings.Split(s, ":")
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}
