//go:build linux

package network

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// InterfaceAddrs lists every address on every link via netlink.
func (s *System) InterfaceAddrs() ([]netip.Addr, error) {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("netlink addr list: %w", err)
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		if ip, ok := netip.AddrFromSlice(a.IPNet.IP); ok {
			out = append(out, ip.Unmap())
		}
	}
	return out, nil
}

// hardwareAddr looks ip up in the kernel neighbor table.
func (s *System) hardwareAddr(ip netip.Addr) (string, string, error) {
	family := netlink.FAMILY_V4
	if ip.Is6() {
		family = netlink.FAMILY_V6
	}
	neighs, err := netlink.NeighList(0, family)
	if err != nil {
		return "", "", fmt.Errorf("netlink neigh list: %w", err)
	}
	for _, n := range neighs {
		addr, ok := netip.AddrFromSlice(n.IP)
		if !ok || addr.Unmap() != ip || len(n.HardwareAddr) == 0 {
			continue
		}
		if n.State&(netlink.NUD_FAILED|netlink.NUD_INCOMPLETE) != 0 {
			continue
		}
		return n.HardwareAddr.String(), "", nil
	}
	return "", "", ErrNoNeighbor
}
