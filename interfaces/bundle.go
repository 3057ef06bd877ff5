package interfaces

import (
	"bytes"
	"time"
)

// MethodKind identifies how certificate material for a domain is produced.
type MethodKind string

const (
	// MethodSelfSigned issues a locally generated self-signed certificate.
	MethodSelfSigned MethodKind = "self-signed"
	// MethodACMEStandalone performs an ACME order answering HTTP-01
	// challenges on a dedicated listener.
	MethodACMEStandalone MethodKind = "acme-standalone"
	// MethodACMEDNS performs an ACME order answering DNS-01 challenges
	// through a DNS provider API.
	MethodACMEDNS MethodKind = "acme-dns"
	// MethodACMEWebroot performs an ACME order by placing HTTP-01 challenge
	// files under an existing web server's document root.
	MethodACMEWebroot MethodKind = "acme-webroot"
)

// Valid reports whether the kind is one of the supported methods.
func (k MethodKind) Valid() bool {
	switch k {
	case MethodSelfSigned, MethodACMEStandalone, MethodACMEDNS, MethodACMEWebroot:
		return true
	default:
		return false
	}
}

// IsACME reports whether the kind orders certificates from an ACME CA.
func (k MethodKind) IsACME() bool {
	return k == MethodACMEStandalone || k == MethodACMEDNS || k == MethodACMEWebroot
}

// String returns the kind name.
func (k MethodKind) String() string {
	return string(k)
}

// On-disk bundle file names. These are a fixed contract with consumer
// processes and never change between generations.
const (
	// CertFileName holds the leaf certificate, world readable.
	CertFileName = "cert.pem"
	// KeyFileName holds the private key, readable only by registered key
	// consumers.
	KeyFileName = "privkey.pem"
	// FullChainFileName holds the leaf concatenated with its issuer chain,
	// world readable.
	FullChainFileName = "fullchain.pem"
)

// RawCertMaterial is the PEM triple produced by an acquisition strategy
// before it is verified and stored. ChainPEM may be empty for self-signed
// certificates.
type RawCertMaterial struct {
	CertPEM  []byte
	KeyPEM   []byte
	ChainPEM []byte
}

// CertificateBundle is a stored, versioned certificate bundle for one domain.
// IssuedAt, ExpiresAt and Serial are always re-parsed from the embedded leaf
// certificate rather than stored separately, so they cannot drift from the
// actual material.
type CertificateBundle struct {
	Domain   string
	CertPEM  []byte
	KeyPEM   []byte
	ChainPEM []byte

	IssuedAt  time.Time
	ExpiresAt time.Time
	Serial    string

	Method MethodKind

	// Generation is the monotonically increasing version of this bundle
	// within its domain's store.
	Generation uint64
}

// Material returns the bundle's PEM triple.
func (b *CertificateBundle) Material() RawCertMaterial {
	return RawCertMaterial{CertPEM: b.CertPEM, KeyPEM: b.KeyPEM, ChainPEM: b.ChainPEM}
}

// FullChainPEM returns the leaf certificate concatenated with its chain,
// matching the on-disk fullchain.pem. For an empty chain it equals CertPEM.
func (b *CertificateBundle) FullChainPEM() []byte {
	return ConcatPEM(b.CertPEM, b.ChainPEM)
}

// TimeToExpiry returns the remaining validity relative to now. Negative for
// an expired bundle.
func (b *CertificateBundle) TimeToExpiry(now time.Time) time.Duration {
	return b.ExpiresAt.Sub(now)
}

// ConcatPEM joins PEM blocks with exactly one newline between them, skipping
// empty inputs.
func ConcatPEM(blocks ...[]byte) []byte {
	var out []byte
	for _, b := range blocks {
		b = bytes.TrimSpace(b)
		if len(b) == 0 {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, b...)
	}
	if len(out) > 0 {
		out = append(out, '\n')
	}
	return out
}
