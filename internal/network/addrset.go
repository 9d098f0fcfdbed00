package network

import (
	"net/netip"
	"slices"
	"strings"
)

// AddrSet is a sorted, duplicate free set of addresses. Two sets built from
// the same addresses in any order compare Equal.
type AddrSet []netip.Addr

// NewAddrSet builds a set. Zoned and IPv4-mapped addresses are normalized.
func NewAddrSet(addrs ...netip.Addr) AddrSet {
	out := make(AddrSet, 0, len(addrs))
	for _, a := range addrs {
		if !a.IsValid() {
			continue
		}
		out = append(out, a.Unmap().WithZone(""))
	}
	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })
	return slices.Compact(out)
}

// Equal reports set equality.
func (s AddrSet) Equal(o AddrSet) bool {
	return slices.Equal(s, o)
}

// Contains reports whether a is in the set.
func (s AddrSet) Contains(a netip.Addr) bool {
	_, ok := slices.BinarySearchFunc(s, a.Unmap().WithZone(""), func(x, y netip.Addr) int { return x.Compare(y) })
	return ok
}

// Filter returns the members for which keep returns true.
func (s AddrSet) Filter(keep func(netip.Addr) bool) AddrSet {
	out := make(AddrSet, 0, len(s))
	for _, a := range s {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s AddrSet) String() string {
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Routable reports whether a can be published. Link-local unicast
// (169.254/16, fe80::/10), multicast and unspecified addresses never are;
// loopback only when includeLoopback is set.
func Routable(a netip.Addr, includeLoopback bool) bool {
	switch {
	case !a.IsValid(), a.IsUnspecified(), a.IsMulticast():
		return false
	case a.IsLinkLocalUnicast():
		return false
	case a.IsLoopback():
		return includeLoopback
	}
	return true
}
