package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"time"

	"github.com/libdns/libdns"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// memCache is an in-memory autocert.Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, autocert.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Put(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// fakeDirectory is an ACME server that issues certificates from a
// throwaway CA once the DNS-01 proof is visible in the fake provider.
type fakeDirectory struct {
	mu       sync.Mutex
	provider *fakeProvider
	validity time.Duration
	orders   int
	accepted int
	regs     int
	noDNS    bool
	caKey    *ecdsa.PrivateKey
	caCert   *x509.Certificate
}

func newFakeDirectory(p *fakeProvider) *fakeDirectory {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "fake ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, _ := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	ca, _ := x509.ParseCertificate(der)
	return &fakeDirectory{provider: p, validity: 90 * 24 * time.Hour, caKey: key, caCert: ca}
}

func (d *fakeDirectory) factory(crypto.Signer, string) Client { return d }

func (d *fakeDirectory) Register(context.Context, *acme.Account, func(string) bool) (*acme.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs++
	if d.regs > 1 {
		return nil, acme.ErrAccountAlreadyExists
	}
	return &acme.Account{Status: acme.StatusValid}, nil
}

func (d *fakeDirectory) AuthorizeOrder(_ context.Context, ids []acme.AuthzID, _ ...acme.OrderOption) (*acme.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders++
	return &acme.Order{URI: "https://acme.test/order/1", Status: acme.StatusPending, AuthzURLs: []string{"https://acme.test/authz/" + ids[0].Value}}, nil
}

func (d *fakeDirectory) GetAuthorization(_ context.Context, url string) (*acme.Authorization, error) {
	d.mu.Lock()
	noDNS := d.noDNS
	d.mu.Unlock()

	chals := []*acme.Challenge{{Type: "http-01", Token: "tok"}}
	if !noDNS {
		chals = append(chals, &acme.Challenge{Type: "dns-01", Token: "tok", URI: "https://acme.test/chal/1"})
	}
	return &acme.Authorization{
		URI:        url,
		Status:     acme.StatusPending,
		Identifier: acme.AuthzID{Type: "dns", Value: "home.example.org"},
		Challenges: chals,
	}, nil
}

func (d *fakeDirectory) GetOrder(context.Context, string) (*acme.Order, error) {
	return &acme.Order{Status: acme.StatusReady, FinalizeURL: "https://acme.test/finalize/1"}, nil
}

func (d *fakeDirectory) DNS01ChallengeRecord(token string) (string, error) {
	return "proof-" + token, nil
}

func (d *fakeDirectory) Accept(_ context.Context, chal *acme.Challenge) (*acme.Challenge, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accepted++
	return chal, nil
}

func (d *fakeDirectory) WaitAuthorization(_ context.Context, url string) (*acme.Authorization, error) {
	if !d.provider.hasTXT("_acme-challenge.home", "proof-tok") {
		return nil, &acme.Error{StatusCode: 403, Detail: "no TXT record found"}
	}
	return &acme.Authorization{URI: url, Status: acme.StatusValid}, nil
}

func (d *fakeDirectory) WaitOrder(ctx context.Context, url string) (*acme.Order, error) {
	return d.GetOrder(ctx, url)
}

func (d *fakeDirectory) CreateOrderCert(_ context.Context, _ string, csrDER []byte, _ bool) ([][]byte, string, error) {
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, "", err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      csr.Subject,
		DNSNames:     csr.DNSNames,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(d.validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, d.caCert, csr.PublicKey, d.caKey)
	if err != nil {
		return nil, "", err
	}
	return [][]byte{der, d.caCert.Raw}, "https://acme.test/cert/1", nil
}

// fakeProvider records TXT records in memory.
type fakeProvider struct {
	mu      sync.Mutex
	records []libdns.Record
	deletes int
}

func (f *fakeProvider) ZoneFor(context.Context, string) (string, error) { return "example.org.", nil }

func (f *fakeProvider) GetRecords(context.Context, string) ([]libdns.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]libdns.Record(nil), f.records...), nil
}

func (f *fakeProvider) AppendRecords(_ context.Context, _ string, recs []libdns.Record) ([]libdns.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recs...)
	return recs, nil
}

func (f *fakeProvider) DeleteRecords(_ context.Context, _ string, recs []libdns.Record) ([]libdns.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes += len(recs)
	kept := f.records[:0]
	for _, r := range f.records {
		drop := false
		for _, d := range recs {
			if r.Type == d.Type && r.Name == d.Name && r.Value == d.Value {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, r)
		}
	}
	f.records = kept
	return recs, nil
}

func (f *fakeProvider) hasTXT(name, value string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.Type == "TXT" && r.Name == name && r.Value == value {
			return true
		}
	}
	return false
}

// providerChecker reports the record as visible after a number of checks.
type providerChecker struct {
	mu       sync.Mutex
	provider *fakeProvider
	delay    int
	checks   int
	err      error
}

func (c *providerChecker) Check(_ context.Context, name, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	if c.err != nil {
		return false, c.err
	}
	if c.checks <= c.delay {
		return false, nil
	}
	return c.provider.hasTXT("_acme-challenge.home", value) && name == "_acme-challenge.home.example.org.", nil
}

func recordTXT(name, value string) libdns.Record {
	return libdns.Record{Type: "TXT", Name: name, Value: value}
}
