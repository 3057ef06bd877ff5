package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// CertInfo summarizes a parsed leaf certificate for status reporting and
// renewal decisions.
type CertInfo struct {
	Subject     string
	Issuer      string
	Serial      string
	NotBefore   time.Time
	NotAfter    time.Time
	DNSNames    []string
	SelfSigned  bool
	OCSPServers []string
}

// ParseLeafCertificate decodes the first PEM block of certPEM as an X.509
// certificate.
func ParseLeafCertificate(certPEM []byte) (*x509.Certificate, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, errors.New("failed to decode certificate PEM block")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// ParseCertInfo extracts the summary fields of the leaf certificate in
// certPEM.
func ParseCertInfo(certPEM []byte) (*CertInfo, error) {
	cert, err := ParseLeafCertificate(certPEM)
	if err != nil {
		return nil, err
	}

	return &CertInfo{
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		Serial:      FormatSerial(cert.SerialNumber),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		DNSNames:    cert.DNSNames,
		SelfSigned:  cert.Subject.String() == cert.Issuer.String(),
		OCSPServers: cert.OCSPServer,
	}, nil
}

// FormatSerial renders a certificate serial number as colon-separated hex,
// matching openssl output.
func FormatSerial(serial *big.Int) string {
	raw := serial.Bytes()
	if len(raw) == 0 {
		raw = []byte{0}
	}
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// ParsePrivateKey decodes a PEM private key in PKCS#8, SEC 1 (EC), or
// PKCS#1 (RSA) form.
func ParsePrivateKey(keyPEM []byte) (crypto.Signer, error) {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || !strings.HasSuffix(keyBlock.Type, "PRIVATE KEY") {
		return nil, errors.New("failed to decode private key PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, errors.New("private key does not implement crypto.Signer")
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(keyBlock.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("failed to parse private key")
}

// VerifyMaterial validates that an acquired cert/key/chain triple is
// internally consistent before it may be published.
// It performs the following checks:
//   - The certificate and private key PEM blocks parse correctly
//   - The public key in the certificate corresponds to the private key
//   - The certificate covers the given domain
//   - Every block in the chain parses as a certificate
//
// A nil error means the material is safe to store and serve.
func VerifyMaterial(keyPEM, certPEM, chainPEM []byte, domain string) error {
	privateKey, err := ParsePrivateKey(keyPEM)
	if err != nil {
		return err
	}

	cert, err := ParseLeafCertificate(certPEM)
	if err != nil {
		return err
	}

	if err := matchPublicKeys(cert.PublicKey, privateKey.Public()); err != nil {
		return err
	}

	if err := cert.VerifyHostname(domain); err != nil {
		return fmt.Errorf("certificate does not cover %s: %w", domain, err)
	}

	rest := chainPEM
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return fmt.Errorf("unexpected %s block in chain", block.Type)
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return fmt.Errorf("failed to parse chain certificate: %w", err)
		}
	}

	return nil
}

func matchPublicKeys(certKey, privKey crypto.PublicKey) error {
	switch certPub := certKey.(type) {
	case *ecdsa.PublicKey:
		privPub, ok := privKey.(*ecdsa.PublicKey)
		if !ok {
			return errors.New("private key type doesn't match certificate")
		}
		if certPub.X.Cmp(privPub.X) != 0 ||
			certPub.Y.Cmp(privPub.Y) != 0 ||
			certPub.Curve != privPub.Curve {
			return errors.New("private key doesn't match certificate")
		}
		return nil
	case *rsa.PublicKey:
		privPub, ok := privKey.(*rsa.PublicKey)
		if !ok {
			return errors.New("private key type doesn't match certificate")
		}
		if certPub.N.Cmp(privPub.N) != 0 || certPub.E != privPub.E {
			return errors.New("private key doesn't match certificate")
		}
		return nil
	default:
		return errors.New("unsupported key type")
	}
}
