// Package ddns keeps the provider's A and AAAA records for the appliance
// domain equal to the set of addresses the host currently holds.
package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/libdns/libdns"
	"github.com/miekg/dns"

	"grimm.is/hmdl/internal/cloudflare"
	"grimm.is/hmdl/internal/metrics"
	"grimm.is/hmdl/internal/network"
)

// Result counts the mutations one reconcile made.
type Result struct {
	Created int
	Deleted int
}

// Reconcile makes the address records for domain match addrs. Loopback
// addresses are never published. Each create and delete is issued on its
// own; one failure does not stop the rest, and all failures are returned
// together. When the sets already match no mutation is issued.
func Reconcile(ctx context.Context, p cloudflare.Provider, domain string, addrs network.AddrSet) (Result, error) {
	var res Result

	zone, err := p.ZoneFor(ctx, domain)
	if err != nil {
		return res, err
	}
	records, err := p.GetRecords(ctx, zone)
	if err != nil {
		return res, fmt.Errorf("failed to list records: %w", err)
	}

	name := libdns.RelativeName(dns.CanonicalName(domain), zone)
	existing := make(map[netip.Addr][]libdns.Record)
	for _, r := range records {
		if (r.Type != "A" && r.Type != "AAAA") || !strings.EqualFold(r.Name, name) {
			continue
		}
		a, err := netip.ParseAddr(r.Value)
		if err != nil {
			continue
		}
		existing[a.Unmap()] = append(existing[a.Unmap()], r)
	}

	desired := addrs.Filter(func(a netip.Addr) bool { return !a.IsLoopback() })

	var create []libdns.Record
	for _, a := range desired {
		if _, ok := existing[a]; !ok {
			create = append(create, libdns.Record{Type: recordType(a), Name: name, Value: a.String()})
		}
	}
	// Records for addresses no longer held go, and so do duplicates
	// beyond the first for addresses that stay.
	var remove []libdns.Record
	for a, rs := range existing {
		if desired.Contains(a) {
			rs = rs[1:]
		}
		remove = append(remove, rs...)
	}

	if len(create) == 0 && len(remove) == 0 {
		return res, nil
	}

	var errs []error
	for _, r := range create {
		_, err := p.AppendRecords(ctx, zone, []libdns.Record{r})
		metrics.Get().RecordDDNS("create", err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Created++
	}
	for _, r := range remove {
		_, err := p.DeleteRecords(ctx, zone, []libdns.Record{r})
		metrics.Get().RecordDDNS("delete", err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Deleted++
	}
	return res, errors.Join(errs...)
}

func recordType(a netip.Addr) string {
	if a.Is4() {
		return "A"
	}
	return "AAAA"
}
