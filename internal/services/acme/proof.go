package acme

import (
	"context"
	"fmt"
	"strings"

	"github.com/libdns/libdns"
	"github.com/miekg/dns"

	"grimm.is/hmdl/internal/cloudflare"
)

const challengeLabel = "_acme-challenge"

// challengeName returns the fully qualified DNS-01 record name for domain.
func challengeName(domain string) string {
	return challengeLabel + "." + dns.CanonicalName(domain)
}

// proofPublisher writes DNS-01 proof values through the DNS provider.
type proofPublisher struct {
	provider cloudflare.Provider
	domain   string
}

// publish removes stale challenge records and writes value.
func (p *proofPublisher) publish(ctx context.Context, value string) error {
	zone, name, err := p.locate(ctx)
	if err != nil {
		return err
	}
	if err := p.removeAll(ctx, zone, name); err != nil {
		return err
	}
	_, err = p.provider.AppendRecords(ctx, zone, []libdns.Record{{Type: "TXT", Name: name, Value: value}})
	if err != nil {
		return fmt.Errorf("failed to publish challenge record: %w", err)
	}
	return nil
}

// cleanup removes every challenge record for the domain.
func (p *proofPublisher) cleanup(ctx context.Context) error {
	zone, name, err := p.locate(ctx)
	if err != nil {
		return err
	}
	return p.removeAll(ctx, zone, name)
}

func (p *proofPublisher) locate(ctx context.Context) (zone, name string, err error) {
	zone, err = p.provider.ZoneFor(ctx, p.domain)
	if err != nil {
		return "", "", err
	}
	return zone, libdns.RelativeName(challengeName(p.domain), zone), nil
}

func (p *proofPublisher) removeAll(ctx context.Context, zone, name string) error {
	recs, err := p.provider.GetRecords(ctx, zone)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	var stale []libdns.Record
	for _, r := range recs {
		if r.Type == "TXT" && strings.EqualFold(r.Name, name) {
			stale = append(stale, r)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if _, err := p.provider.DeleteRecords(ctx, zone, stale); err != nil {
		return fmt.Errorf("failed to remove challenge records: %w", err)
	}
	return nil
}
