package tls

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// EncodeKey PEM-encodes an ECDSA private key.
func EncodeKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// DecodeKey parses a PEM EC private key written by EncodeKey.
func DecodeKey(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, errors.New("no EC private key in PEM data")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// EncodeBundle writes the private key followed by the certificate chain.
func EncodeBundle(key *ecdsa.PrivateKey, chain [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	k, err := EncodeKey(key)
	if err != nil {
		return nil, err
	}
	buf.Write(k)
	for _, der := range chain {
		if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeBundle parses a bundle written by EncodeBundle into a certificate
// with its Leaf populated.
func DecodeBundle(data []byte) (*tls.Certificate, error) {
	var (
		key   *ecdsa.PrivateKey
		chain [][]byte
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "EC PRIVATE KEY":
			k, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse private key: %w", err)
			}
			key = k
		case "CERTIFICATE":
			chain = append(chain, block.Bytes)
		}
	}
	return FromDER(key, chain)
}

// FromDER assembles a certificate from a key and a DER chain, leaf first,
// and checks that the key matches the leaf.
func FromDER(key crypto.Signer, chain [][]byte) (*tls.Certificate, error) {
	if key == nil {
		return nil, errors.New("missing private key")
	}
	if len(chain) == 0 {
		return nil, errors.New("empty certificate chain")
	}
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return nil, errors.New("private key does not match certificate")
	}
	return &tls.Certificate{Certificate: chain, PrivateKey: key, Leaf: leaf}, nil
}
