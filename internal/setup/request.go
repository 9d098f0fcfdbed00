package setup

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"grimm.is/hmdl/internal/state"
)

// Request is the body of POST /api/setup.
type Request struct {
	ApplicationDomain  string `json:"application_domain"`
	CloudflareAPIToken string `json:"cloudflare_api_token"`
	ACMEEmail          string `json:"acme_email"`
}

// NormalizeDomain converts a user supplied domain into lowercase ASCII
// without a trailing dot and checks that it can hold records.
func NormalizeDomain(raw string) (string, error) {
	d := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if d == "" {
		return "", errors.New("domain is required")
	}
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", raw, err)
	}
	ascii = strings.ToLower(ascii)
	if _, ok := dns.IsDomainName(ascii); !ok {
		return "", fmt.Errorf("invalid domain %q", raw)
	}
	if dns.CountLabel(ascii) < 2 {
		return "", fmt.Errorf("domain %q must have at least two labels", raw)
	}
	return ascii, nil
}

// Settings validates the request and converts it to store settings.
func (r Request) Settings() (state.Settings, error) {
	domain, err := NormalizeDomain(r.ApplicationDomain)
	if err != nil {
		return state.Settings{}, err
	}

	token := strings.TrimSpace(r.CloudflareAPIToken)
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return state.Settings{}, errors.New("cloudflare_api_token is required and must not contain whitespace")
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(r.ACMEEmail))
	if err != nil {
		return state.Settings{}, fmt.Errorf("invalid acme_email: %w", err)
	}

	return state.Settings{
		Domain:   domain,
		APIToken: token,
		Email:    addr.Address,
	}, nil
}
