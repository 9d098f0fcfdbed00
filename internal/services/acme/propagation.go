package acme

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Checker reports whether a TXT record with value is visible at name.
// An error aborts the acquisition attempt.
type Checker interface {
	Check(ctx context.Context, name, value string) (bool, error)
}

// DigChecker runs the dig command against the system resolver.
type DigChecker struct {
	// Command defaults to "dig".
	Command string
	run     func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Check runs `dig <name> TXT` and looks for value in the answer lines.
func (d *DigChecker) Check(ctx context.Context, name, value string) (bool, error) {
	cmd := d.Command
	if cmd == "" {
		cmd = "dig"
	}
	run := d.run
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		}
	}

	out, err := run(ctx, cmd, name, "TXT")
	if err != nil {
		return false, fmt.Errorf("%s %s TXT: %w", cmd, name, err)
	}
	return digHasTXT(out, name, value), nil
}

// digHasTXT scans dig's answer section. Lines look like
//
//	_acme-challenge.home.example.org. 300 IN TXT "value"
func digHasTXT(out []byte, name, value string) bool {
	name = dns.Fqdn(name)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(strings.ToLower(line), strings.ToLower(name)) {
			continue
		}
		parts := strings.Split(line, `"`)
		if len(parts) > 1 && parts[1] == value {
			return true
		}
	}
	return false
}

// ResolverChecker queries a specific resolver directly.
type ResolverChecker struct {
	Server  string
	Timeout time.Duration
}

// Check asks Server for the TXT records at name.
func (r *ResolverChecker) Check(ctx context.Context, name, value string) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: r.Timeout}
	resp, _, err := c.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return false, fmt.Errorf("TXT lookup of %s via %s: %w", name, r.Server, err)
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return false, fmt.Errorf("TXT lookup of %s via %s: %s", name, r.Server, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok && strings.Join(txt.Txt, "") == value {
			return true, nil
		}
	}
	return false, nil
}
