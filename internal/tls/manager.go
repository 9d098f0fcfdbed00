// Package tls holds the live serving certificate and the PEM helpers used
// to persist certificates.
package tls

import (
	"crypto/tls"
	"errors"
	"sync/atomic"

	"grimm.is/hmdl/internal/state"
)

// ErrNoCertificate is returned by GetCertificate before a certificate is set.
var ErrNoCertificate = errors.New("no certificate available")

// CertificateManager serves the current certificate. SetCertificate swaps it
// atomically; handshakes already in progress keep the certificate they got.
type CertificateManager struct {
	cert atomic.Pointer[tls.Certificate]
}

// NewCertificateManager creates an empty manager.
func NewCertificateManager() *CertificateManager {
	return &CertificateManager{}
}

// SetCertificate installs cert for all subsequent handshakes.
func (cm *CertificateManager) SetCertificate(cert *tls.Certificate) {
	cm.cert.Store(cert)
}

// Certificate returns the current certificate, or nil.
func (cm *CertificateManager) Certificate() *tls.Certificate {
	return cm.cert.Load()
}

// GetCertificate implements tls.Config.GetCertificate.
func (cm *CertificateManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	if c := cm.cert.Load(); c != nil {
		return c, nil
	}
	return nil, ErrNoCertificate
}

// TLSConfig returns a server config bound to this manager. Every config it
// returns follows later swaps.
func (cm *CertificateManager) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: cm.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

// Ready is published once a certificate for the configured domain is live.
type Ready struct {
	Config   *tls.Config
	Settings state.Settings
}
