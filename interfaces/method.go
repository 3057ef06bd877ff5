package interfaces

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// AcquisitionMethod is the validated configuration for one acquisition
// strategy. Kind selects the strategy; the remaining fields apply only to
// the kinds noted on them.
type AcquisitionMethod struct {
	Kind MethodKind

	// ValidityDays sets the certificate lifetime for self-signed issuance.
	// Defaults to 365.
	ValidityDays int

	// Email is the ACME account contact, required for all ACME kinds.
	Email string
	// Staging selects the CA's staging environment for all ACME kinds.
	Staging bool
	// CADirectoryURL overrides the ACME directory endpoint. When empty the
	// Let's Encrypt production or staging directory is used per Staging.
	CADirectoryURL string

	// HTTPPort is the listener port for standalone HTTP-01 challenges.
	// Defaults to 80.
	HTTPPort int

	// Provider names the DNS provider for DNS-01 challenges.
	Provider string
	// CredentialsRef locates the DNS provider credentials out of band.
	// Supported schemes: file://, env://, vault://.
	CredentialsRef string

	// WebrootPath is the served document root for webroot HTTP-01 challenges.
	WebrootPath string
}

// Validate checks the method configuration for completeness. All failures
// wrap ErrInvalidConfig.
func (m AcquisitionMethod) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown acquisition method %q", ErrInvalidConfig, string(m.Kind))
	}

	if m.Kind == MethodSelfSigned {
		if m.ValidityDays < 0 {
			return fmt.Errorf("%w: negative validity %d days", ErrInvalidConfig, m.ValidityDays)
		}
		return nil
	}

	// ACME kinds below.
	if m.Email == "" {
		return fmt.Errorf("%w: acme method %s requires an account email", ErrInvalidConfig, m.Kind)
	}
	if !strings.Contains(m.Email, "@") {
		return fmt.Errorf("%w: malformed account email %q", ErrInvalidConfig, m.Email)
	}

	switch m.Kind {
	case MethodACMEStandalone:
		if m.HTTPPort < 0 || m.HTTPPort > 65535 {
			return fmt.Errorf("%w: challenge port %d out of range", ErrInvalidConfig, m.HTTPPort)
		}
	case MethodACMEDNS:
		if m.Provider == "" {
			return fmt.Errorf("%w: dns method requires a provider name", ErrInvalidConfig)
		}
		if m.CredentialsRef == "" {
			return fmt.Errorf("%w: dns method requires a credentials reference", ErrInvalidConfig)
		}
		if _, err := ParseCredentialRef(m.CredentialsRef); err != nil {
			return err
		}
	case MethodACMEWebroot:
		if m.WebrootPath == "" {
			return fmt.Errorf("%w: webroot method requires a webroot path", ErrInvalidConfig)
		}
	}

	return nil
}

// RenewalPolicy tunes renewal timing and retry behavior for a domain.
type RenewalPolicy struct {
	// RenewBeforeExpiryDays is the threshold at which a valid certificate
	// becomes due for renewal.
	RenewBeforeExpiryDays int
	// MaxRetries bounds consecutive failed attempts before the domain moves
	// to a long retry interval with an operator-visible alarm.
	MaxRetries int
	// BackoffBase is the delay after the first failure; subsequent failures
	// double it up to BackoffCap.
	BackoffBase time.Duration
	// BackoffCap bounds the exponential backoff delay.
	BackoffCap time.Duration
}

// DefaultRenewalPolicy returns the stock policy: renew 30 days before
// expiry, 5 attempts, backoff 1m doubling up to 1h.
func DefaultRenewalPolicy() RenewalPolicy {
	return RenewalPolicy{
		RenewBeforeExpiryDays: 30,
		MaxRetries:            5,
		BackoffBase:           time.Minute,
		BackoffCap:            time.Hour,
	}
}

// Normalized returns a copy with zero fields replaced by defaults.
func (p RenewalPolicy) Normalized() RenewalPolicy {
	def := DefaultRenewalPolicy()
	if p.RenewBeforeExpiryDays <= 0 {
		p.RenewBeforeExpiryDays = def.RenewBeforeExpiryDays
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = def.BackoffBase
	}
	if p.BackoffCap < p.BackoffBase {
		p.BackoffCap = def.BackoffCap
	}
	return p
}

// RenewThreshold returns the remaining-validity duration below which a
// bundle is due for renewal.
func (p RenewalPolicy) RenewThreshold() time.Duration {
	return time.Duration(p.RenewBeforeExpiryDays) * 24 * time.Hour
}

// ConsumerRegistration declares a consumer process and what it may read.
type ConsumerRegistration struct {
	// ServiceName identifies the consumer for logging and status output.
	ServiceName string
	// UID and GID are the identity the consumer process runs under.
	UID int
	GID int
	// MountPath is where the consumer expects the bundle directory.
	MountPath string
	// NeedsPrivateKey grants read access to privkey.pem. Consumers without
	// it can read only the public material.
	NeedsPrivateKey bool
}

// CredentialRef is a parsed reference to out-of-band credential material.
//
// Supported forms:
//
//	file:///etc/podserve/cloudflare.token   file contents
//	env://CF_DNS_API_TOKEN                  environment variable
//	vault://secret/dns/cloudflare#token     KV field via a Vault server
type CredentialRef struct {
	Raw    string // Original URI
	Scheme string // Resolution mechanism
	Host   string // Variable name, or Vault mount
	Path   string // File path, or Vault secret path
	Field  string // Vault KV field, from the URI fragment
}

// ParseCredentialRef parses and validates a credential reference URI.
// Failures wrap ErrInvalidConfig.
func ParseCredentialRef(raw string) (CredentialRef, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return CredentialRef{}, fmt.Errorf("%w: credentials reference %q: %v", ErrInvalidConfig, raw, err)
	}

	ref := CredentialRef{
		Raw:    raw,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Field:  parsed.Fragment,
	}

	switch parsed.Scheme {
	case "file":
		if ref.Path == "" {
			return CredentialRef{}, fmt.Errorf("%w: file credentials reference %q has no path", ErrInvalidConfig, raw)
		}
	case "env":
		if ref.Host == "" {
			return CredentialRef{}, fmt.Errorf("%w: env credentials reference %q has no variable name", ErrInvalidConfig, raw)
		}
	case "vault":
		if ref.Host == "" || strings.Trim(ref.Path, "/") == "" {
			return CredentialRef{}, fmt.Errorf("%w: vault credentials reference %q needs mount and secret path", ErrInvalidConfig, raw)
		}
		if ref.Field == "" {
			return CredentialRef{}, fmt.Errorf("%w: vault credentials reference %q has no #field", ErrInvalidConfig, raw)
		}
	default:
		return CredentialRef{}, fmt.Errorf("%w: unsupported credentials scheme %q", ErrInvalidConfig, parsed.Scheme)
	}

	return ref, nil
}

// IsFile reports whether the reference resolves from the filesystem.
func (r CredentialRef) IsFile() bool { return r.Scheme == "file" }

// IsEnv reports whether the reference resolves from the environment.
func (r CredentialRef) IsEnv() bool { return r.Scheme == "env" }

// IsVault reports whether the reference resolves through a Vault server.
func (r CredentialRef) IsVault() bool { return r.Scheme == "vault" }

// VaultSecretPath returns the KV read path "mount/data/secret" for a vault
// reference, accounting for the KV v2 data segment.
func (r CredentialRef) VaultSecretPath() string {
	return path.Join(r.Host, "data", strings.TrimPrefix(r.Path, "/"))
}

// String returns the original URI string.
func (r CredentialRef) String() string { return r.Raw }
