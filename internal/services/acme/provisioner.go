package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"grimm.is/hmdl/internal/clock"
	"grimm.is/hmdl/internal/cloudflare"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
	"grimm.is/hmdl/internal/state"
	hmdltls "grimm.is/hmdl/internal/tls"
)

// ErrNoDNSChallenge is returned when an authorization cannot be satisfied
// with DNS-01.
var ErrNoDNSChallenge = errors.New("authorization offers no dns-01 challenge")

// ProviderFactory builds a DNS provider client for an API token.
type ProviderFactory func(token string) cloudflare.Provider

// Cache keys in the ACME key/value store.
func accountKey(email string) string { return "account+" + email }
func certKey(domain string) string   { return "cert+" + domain }
func orderKey(domain string) string  { return "order+" + domain }

// Options configures a Provisioner.
type Options struct {
	Cache     autocert.Cache
	Client    ClientFactory
	Provider  ProviderFactory
	Checker   Checker
	Directory string
	Clock     clock.Clock
	Logger    *logging.Logger

	PropagationInterval time.Duration
	PropagationTimeout  time.Duration
	RenewBefore         time.Duration
}

// Provisioner runs one certificate acquisition at a time.
type Provisioner struct {
	opts Options
}

// NewProvisioner creates a provisioner. Zero durations get defaults.
func NewProvisioner(opts Options) *Provisioner {
	if opts.Client == nil {
		opts.Client = NewClient
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.PropagationInterval <= 0 {
		opts.PropagationInterval = 60 * time.Second
	}
	if opts.PropagationTimeout <= 0 {
		opts.PropagationTimeout = 30 * time.Minute
	}
	if opts.RenewBefore <= 0 {
		opts.RenewBefore = 30 * 24 * time.Hour
	}
	return &Provisioner{opts: opts}
}

// Obtain returns a certificate for the configured domain. A stored
// certificate with more than RenewBefore validity left is reused without
// contacting the directory; issued reports whether a new one was ordered.
func (p *Provisioner) Obtain(ctx context.Context, settings state.Settings) (cert *tls.Certificate, issued bool, err error) {
	domain := strings.TrimSuffix(dns.CanonicalName(settings.Domain), ".")

	if cached := p.cached(ctx, domain); cached != nil {
		return cached, false, nil
	}

	key, err := p.accountKey(ctx, settings.Email)
	if err != nil {
		return nil, false, err
	}

	client := p.opts.Client(key, p.opts.Directory)
	acct := &acme.Account{Contact: []string{"mailto:" + settings.Email}}
	if _, err := client.Register(ctx, acct, acme.AcceptTOS); err != nil && !errors.Is(err, acme.ErrAccountAlreadyExists) {
		return nil, false, fmt.Errorf("failed to register ACME account: %w", err)
	}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(domain))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create order: %w", err)
	}
	if err := p.opts.Cache.Put(ctx, orderKey(domain), []byte(order.URI)); err != nil {
		return nil, false, err
	}

	pub := &proofPublisher{provider: p.opts.Provider(settings.APIToken), domain: domain}
	for order.Status == acme.StatusPending {
		for _, u := range order.AuthzURLs {
			if err := p.authorize(ctx, client, pub, u); err != nil {
				return nil, false, err
			}
		}
		if order, err = client.WaitOrder(ctx, order.URI); err != nil {
			return nil, false, fmt.Errorf("order did not become ready: %w", err)
		}
	}
	if order.Status != acme.StatusReady && order.Status != acme.StatusValid {
		return nil, false, fmt.Errorf("order is %s", order.Status)
	}

	cert, err = p.finalize(ctx, client, order, domain)
	if err != nil {
		return nil, false, err
	}
	return cert, true, nil
}

func (p *Provisioner) cached(ctx context.Context, domain string) *tls.Certificate {
	data, err := p.opts.Cache.Get(ctx, certKey(domain))
	if err != nil {
		if !errors.Is(err, autocert.ErrCacheMiss) {
			p.opts.Logger.Warn("failed to read stored certificate", "domain", domain, "error", err)
		}
		return nil
	}
	cert, err := hmdltls.DecodeBundle(data)
	if err != nil {
		p.opts.Logger.Warn("ignoring unreadable stored certificate", "domain", domain, "error", err)
		return nil
	}
	if cert.Leaf.VerifyHostname(domain) != nil {
		return nil
	}
	if p.opts.Clock.Until(cert.Leaf.NotAfter) <= p.opts.RenewBefore {
		return nil
	}
	return cert
}

func (p *Provisioner) accountKey(ctx context.Context, email string) (*ecdsa.PrivateKey, error) {
	data, err := p.opts.Cache.Get(ctx, accountKey(email))
	if err == nil {
		return hmdltls.DecodeKey(data)
	}
	if !errors.Is(err, autocert.ErrCacheMiss) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	pemKey, err := hmdltls.EncodeKey(key)
	if err != nil {
		return nil, err
	}
	if err := p.opts.Cache.Put(ctx, accountKey(email), pemKey); err != nil {
		return nil, err
	}
	return key, nil
}

func (p *Provisioner) authorize(ctx context.Context, client Client, pub *proofPublisher, url string) error {
	authz, err := client.GetAuthorization(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to fetch authorization: %w", err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	var chal *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == "dns-01" {
			chal = c
			break
		}
	}
	if chal == nil {
		return fmt.Errorf("%w: %s", ErrNoDNSChallenge, authz.Identifier.Value)
	}

	value, err := client.DNS01ChallengeRecord(chal.Token)
	if err != nil {
		return err
	}
	if err := pub.publish(ctx, value); err != nil {
		return err
	}
	defer func() {
		if err := pub.cleanup(context.WithoutCancel(ctx)); err != nil {
			p.opts.Logger.Warn("failed to remove challenge record", "domain", pub.domain, "error", err)
		}
	}()

	name := challengeName(authz.Identifier.Value)
	if err := p.waitForPropagation(ctx, name, value); err != nil {
		return err
	}

	if _, err := client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("failed to accept challenge: %w", err)
	}
	if _, err := client.WaitAuthorization(ctx, authz.URI); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	return nil
}

// waitForPropagation polls until the proof is visible so the directory is
// never asked to validate a record it cannot see yet.
func (p *Provisioner) waitForPropagation(ctx context.Context, name, value string) error {
	deadline := p.opts.Clock.Now().Add(p.opts.PropagationTimeout)
	for {
		found, err := p.opts.Checker.Check(ctx, name, value)
		if err != nil {
			return fmt.Errorf("propagation check failed: %w", err)
		}
		if found {
			return nil
		}
		if p.opts.Clock.Now().After(deadline) {
			return fmt.Errorf("challenge record %s not visible after %s", name, p.opts.PropagationTimeout)
		}
		p.opts.Logger.Debug("challenge record not visible yet", "name", name)
		if err := clock.Sleep(ctx, p.opts.PropagationInterval); err != nil {
			return err
		}
	}
}

func (p *Provisioner) finalize(ctx context.Context, client Client, order *acme.Order, domain string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domain},
		DNSNames: []string{domain},
	}, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSR: %w", err)
	}

	der, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize order: %w", err)
	}

	cert, err := hmdltls.FromDER(key, der)
	if err != nil {
		return nil, err
	}
	bundle, err := hmdltls.EncodeBundle(key, der)
	if err != nil {
		return nil, err
	}
	if err := p.opts.Cache.Put(ctx, certKey(domain), bundle); err != nil {
		return nil, err
	}
	metrics.Get().CertExpiry.Set(float64(cert.Leaf.NotAfter.Unix()))
	return cert, nil
}
