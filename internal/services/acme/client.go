// Package acme obtains and renews the appliance certificate from an ACME
// directory using DNS-01 validation through the DNS provider.
package acme

import (
	"context"
	"crypto"

	"golang.org/x/crypto/acme"

	"grimm.is/hmdl/internal/brand"
)

// Client is the subset of *acme.Client the provisioner drives.
type Client interface {
	Register(ctx context.Context, acct *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	GetOrder(ctx context.Context, url string) (*acme.Order, error)
	DNS01ChallengeRecord(token string) (string, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	WaitAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	WaitOrder(ctx context.Context, url string) (*acme.Order, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) (der [][]byte, certURL string, err error)
}

var _ Client = (*acme.Client)(nil)

// ClientFactory opens a directory session for an account key.
type ClientFactory func(key crypto.Signer, directoryURL string) Client

// NewClient is the production ClientFactory.
func NewClient(key crypto.Signer, directoryURL string) Client {
	return &acme.Client{
		Key:          key,
		DirectoryURL: directoryURL,
		UserAgent:    brand.UserAgent(),
	}
}
