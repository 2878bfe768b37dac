// Package tlsconf builds the *tls.Config used by the server edge: it
// loads a certificate/key pair (preferring PKCS#8 over PKCS#1 when a PEM
// file contains both), optionally attaches an OCSP staple read from a
// separate file, and always offers "h2" via ALPN. Session setup itself
// (the handshake) is the caller's concern, not this package's.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/ocsp"
)

// ServerConfig loads certFile/keyFile into a *tls.Config ready to accept
// h2 connections. If ocspFile is non-empty, its contents are parsed as a
// DER-encoded OCSP response and validated before being attached as the
// certificate's staple; a malformed staple is a configuration error, not
// a silently-dropped feature.
func ServerConfig(certFile, keyFile, ocspFile string) (*tls.Config, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("plasmodesmata/tlsconf: read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("plasmodesmata/tlsconf: read key: %w", err)
	}

	cert, err := loadCertificate(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	if ocspFile != "" {
		staple, err := loadOCSPStaple(ocspFile, cert)
		if err != nil {
			return nil, err
		}
		cert.OCSPStaple = staple
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2"},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// loadCertificate parses the leaf chain from certPEM and the private key
// from keyPEM. When keyPEM contains both a PKCS#1 (RSA) and a PKCS#8
// block — e.g. concatenated during a key rotation — PKCS#8 is preferred,
// matching the original CLI's load_private_key behavior.
func loadCertificate(certPEM, keyPEM []byte) (tls.Certificate, error) {
	var chain [][]byte
	rest := certPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return tls.Certificate{}, fmt.Errorf("plasmodesmata/tlsconf: no certificates found in PEM")
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return tls.Certificate{}, err
	}

	cert := tls.Certificate{Certificate: chain, PrivateKey: key}
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("plasmodesmata/tlsconf: parse leaf certificate: %w", err)
	}
	cert.Leaf = leaf

	return cert, nil
}

func parsePrivateKey(keyPEM []byte) (interface{}, error) {
	var pkcs1Block, pkcs8Block *pem.Block

	rest := keyPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			if pkcs1Block == nil {
				pkcs1Block = block
			}
		case "PRIVATE KEY":
			if pkcs8Block == nil {
				pkcs8Block = block
			}
		}
	}

	if pkcs8Block != nil {
		key, err := x509.ParsePKCS8PrivateKey(pkcs8Block.Bytes)
		if err == nil {
			return key, nil
		}
	}
	if pkcs1Block != nil {
		return x509.ParsePKCS1PrivateKey(pkcs1Block.Bytes)
	}

	return nil, fmt.Errorf("plasmodesmata/tlsconf: no usable private key found in PEM")
}

func loadOCSPStaple(path string, cert tls.Certificate) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plasmodesmata/tlsconf: read ocsp staple: %w", err)
	}
	if _, err := ocsp.ParseResponseForCert(raw, cert.Leaf, nil); err != nil {
		return nil, fmt.Errorf("plasmodesmata/tlsconf: invalid ocsp staple: %w", err)
	}
	return raw, nil
}

// ClientConfig returns a minimal client-side *tls.Config offering h2 via
// ALPN. serverName sets SNI/verification when addr is an IP literal or
// the CONNECT target's domain differs from the dial address.
func ClientConfig(serverName string, insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		NextProtos:         []string{"h2"},
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify,
	}
}
