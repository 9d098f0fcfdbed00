package network

import "net/netip"

// AddrLister enumerates the addresses configured on local interfaces.
type AddrLister interface {
	InterfaceAddrs() ([]netip.Addr, error)
}

// System reads addresses and neighbors from the running host.
type System struct{}

// NewSystem returns the host implementation.
func NewSystem() *System {
	return &System{}
}
