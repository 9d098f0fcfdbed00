// Package network reads the host's view of the local network: the routable
// interface addresses and the neighbor (ARP/NDP) table.
//
// On Linux both come from netlink directly. Other platforms fall back to
// the standard library for addresses and to `arp -a` for neighbors.
package network
