// Package config loads and validates the certmgr manifest.
//
// The manifest is a TOML file declaring the managed domains, their
// acquisition methods, renewal policies, and the consumer processes that
// read the published bundles. It is parsed once at startup into a fully
// validated Config; nothing re-reads configuration at runtime. A second
// constructor builds a single-domain Config from environment-style values
// for container deployments that configure through DOMAIN, CERTBOT_EMAIL,
// CERTBOT_METHOD and CERTBOT_STAGING instead of a file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lakowske/podserve/interfaces"
)

// DefaultBundleRoot is where published certificate bundles live unless the
// manifest says otherwise.
const DefaultBundleRoot = "/data/state/certificates"

// DefaultACMEDirName is the directory under the bundle root holding ACME
// account keys.
const DefaultACMEDirName = ".acme"

// Config is the validated runtime configuration.
type Config struct {
	// BundleRoot is the certificate store root directory.
	BundleRoot string
	// KeepGenerations is how many bundle generations to retain per domain.
	// Zero means the store default.
	KeepGenerations int

	// AccountDir holds ACME account keys. Defaults to <BundleRoot>/.acme.
	AccountDir string
	// PropagationTimeout bounds DNS-01 record propagation waits. Zero means
	// the acquisition default.
	PropagationTimeout time.Duration

	// TickInterval, UrgentInterval, AttemptTimeout and Workers tune the
	// renewal scheduler. Zero values mean the scheduler defaults.
	TickInterval   time.Duration
	UrgentInterval time.Duration
	AttemptTimeout time.Duration
	Workers        int

	// Mirror, when set, archives published generations to an S3 bucket.
	Mirror *MirrorConfig

	// Domains are the managed domains in manifest order.
	Domains []Domain
}

// MirrorConfig locates the S3 bucket receiving published generations.
// Credentials may be left empty when the environment provides them.
type MirrorConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Domain is the validated configuration for one managed domain.
type Domain struct {
	Name      string
	Method    interfaces.AcquisitionMethod
	Policy    interfaces.RenewalPolicy
	Consumers []interfaces.ConsumerRegistration
}

// Find returns the configuration for the named domain.
func (c *Config) Find(name string) (Domain, error) {
	for _, d := range c.Domains {
		if d.Name == name {
			return d, nil
		}
	}
	return Domain{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownDomain, name)
}

// DomainNames returns the managed domain names in manifest order.
func (c *Config) DomainNames() []string {
	names := make([]string, 0, len(c.Domains))
	for _, d := range c.Domains {
		names = append(names, d.Name)
	}
	return names
}

// Manifest mirrors the TOML configuration file. Durations are strings in
// Go duration syntax, parsed during Build.
type Manifest struct {
	BundleRoot      string `toml:"bundle_root"`
	KeepGenerations int    `toml:"keep_generations"`

	ACME      ACMEBlock       `toml:"acme"`
	Scheduler SchedulerBlock  `toml:"scheduler"`
	Mirror    MirrorBlock     `toml:"mirror"`
	Consumers []ConsumerBlock `toml:"consumer"`
	Domains   []DomainBlock   `toml:"domain"`
}

// ACMEBlock holds settings shared by all ACME acquisition methods.
type ACMEBlock struct {
	AccountDir         string `toml:"account_dir"`
	PropagationTimeout string `toml:"propagation_timeout"`
}

// SchedulerBlock tunes the renewal loop.
type SchedulerBlock struct {
	TickInterval   string `toml:"tick_interval"`
	UrgentInterval string `toml:"urgent_interval"`
	AttemptTimeout string `toml:"attempt_timeout"`
	Workers        int    `toml:"workers"`
}

// MirrorBlock configures the optional S3 archive of published generations.
type MirrorBlock struct {
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// ConsumerBlock declares a consumer process. Domains reference consumers by
// service name.
type ConsumerBlock struct {
	Service         string `toml:"service"`
	UID             int    `toml:"uid"`
	GID             int    `toml:"gid"`
	MountPath       string `toml:"mount_path"`
	NeedsPrivateKey bool   `toml:"needs_private_key"`
}

// DomainBlock declares one managed domain.
type DomainBlock struct {
	Name      string      `toml:"name"`
	Consumers []string    `toml:"consumers"`
	Method    MethodBlock `toml:"method"`
	Policy    PolicyBlock `toml:"policy"`
}

// MethodBlock selects and configures the acquisition method for a domain.
type MethodBlock struct {
	Kind           string `toml:"kind"`
	ValidityDays   int    `toml:"validity_days"`
	Email          string `toml:"email"`
	Staging        bool   `toml:"staging"`
	CADirectoryURL string `toml:"ca_directory_url"`
	HTTPPort       int    `toml:"http_port"`
	Provider       string `toml:"provider"`
	CredentialsRef string `toml:"credentials"`
	WebrootPath    string `toml:"webroot_path"`
}

// PolicyBlock tunes renewal timing for a domain. Zero values mean the
// policy defaults.
type PolicyBlock struct {
	RenewBeforeExpiryDays int    `toml:"renew_before_expiry_days"`
	MaxRetries            int    `toml:"max_retries"`
	BackoffBase           string `toml:"backoff_base"`
	BackoffCap            string `toml:"backoff_cap"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest %s: %v", interfaces.ErrInvalidConfig, path, err)
	}
	return Parse(data)
}

// Parse validates manifest bytes. Unknown keys are rejected so typos fail
// loudly instead of silently falling back to defaults.
func Parse(data []byte) (*Config, error) {
	var m Manifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", interfaces.ErrInvalidConfig, err)
	}
	return m.Build()
}

// Build validates the manifest and produces the runtime configuration.
// All failures wrap ErrInvalidConfig.
func (m *Manifest) Build() (*Config, error) {
	cfg := &Config{
		BundleRoot:      m.BundleRoot,
		KeepGenerations: m.KeepGenerations,
		AccountDir:      m.ACME.AccountDir,
		Workers:         m.Scheduler.Workers,
	}

	if cfg.BundleRoot == "" {
		cfg.BundleRoot = DefaultBundleRoot
	}
	if cfg.KeepGenerations < 0 {
		return nil, fmt.Errorf("%w: keep_generations must not be negative", interfaces.ErrInvalidConfig)
	}
	if cfg.AccountDir == "" {
		cfg.AccountDir = filepath.Join(cfg.BundleRoot, DefaultACMEDirName)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: scheduler workers must not be negative", interfaces.ErrInvalidConfig)
	}

	var err error
	if cfg.PropagationTimeout, err = parseDuration("acme.propagation_timeout", m.ACME.PropagationTimeout); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = parseDuration("scheduler.tick_interval", m.Scheduler.TickInterval); err != nil {
		return nil, err
	}
	if cfg.UrgentInterval, err = parseDuration("scheduler.urgent_interval", m.Scheduler.UrgentInterval); err != nil {
		return nil, err
	}
	if cfg.AttemptTimeout, err = parseDuration("scheduler.attempt_timeout", m.Scheduler.AttemptTimeout); err != nil {
		return nil, err
	}

	if m.Mirror != (MirrorBlock{}) {
		if m.Mirror.Bucket == "" {
			return nil, fmt.Errorf("%w: mirror block without a bucket", interfaces.ErrInvalidConfig)
		}
		if m.Mirror.Region == "" && m.Mirror.Endpoint == "" {
			return nil, fmt.Errorf("%w: mirror needs a region or an endpoint", interfaces.ErrInvalidConfig)
		}
		cfg.Mirror = &MirrorConfig{
			Bucket:    m.Mirror.Bucket,
			Prefix:    m.Mirror.Prefix,
			Region:    m.Mirror.Region,
			Endpoint:  m.Mirror.Endpoint,
			AccessKey: m.Mirror.AccessKey,
			SecretKey: m.Mirror.SecretKey,
		}
	}

	consumers := make(map[string]interfaces.ConsumerRegistration, len(m.Consumers))
	for _, c := range m.Consumers {
		if c.Service == "" {
			return nil, fmt.Errorf("%w: consumer without a service name", interfaces.ErrInvalidConfig)
		}
		if _, dup := consumers[c.Service]; dup {
			return nil, fmt.Errorf("%w: consumer %q declared twice", interfaces.ErrInvalidConfig, c.Service)
		}
		if c.UID < 0 || c.GID < 0 {
			return nil, fmt.Errorf("%w: consumer %q has a negative uid or gid", interfaces.ErrInvalidConfig, c.Service)
		}
		consumers[c.Service] = interfaces.ConsumerRegistration{
			ServiceName:     c.Service,
			UID:             c.UID,
			GID:             c.GID,
			MountPath:       c.MountPath,
			NeedsPrivateKey: c.NeedsPrivateKey,
		}
	}

	if len(m.Domains) == 0 {
		return nil, fmt.Errorf("%w: manifest declares no domains", interfaces.ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(m.Domains))
	for _, d := range m.Domains {
		if err := checkDomainName(d.Name); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("%w: domain %s declared twice", interfaces.ErrInvalidConfig, d.Name)
		}
		seen[d.Name] = true

		method, err := d.Method.build(d.Name)
		if err != nil {
			return nil, err
		}
		policy, err := d.Policy.build(d.Name)
		if err != nil {
			return nil, err
		}

		var regs []interfaces.ConsumerRegistration
		for _, name := range d.Consumers {
			reg, ok := consumers[name]
			if !ok {
				return nil, fmt.Errorf("%w: domain %s references undeclared consumer %q", interfaces.ErrInvalidConfig, d.Name, name)
			}
			regs = append(regs, reg)
		}

		cfg.Domains = append(cfg.Domains, Domain{
			Name:      d.Name,
			Method:    method,
			Policy:    policy,
			Consumers: regs,
		})
	}

	return cfg, nil
}

func (b MethodBlock) build(domain string) (interfaces.AcquisitionMethod, error) {
	kind, provider, err := ParseMethodKind(b.Kind)
	if err != nil {
		return interfaces.AcquisitionMethod{}, fmt.Errorf("domain %s: %w", domain, err)
	}
	if provider != "" && b.Provider != "" && provider != b.Provider {
		return interfaces.AcquisitionMethod{}, fmt.Errorf("%w: domain %s: method %q conflicts with provider %q",
			interfaces.ErrInvalidConfig, domain, b.Kind, b.Provider)
	}
	if provider == "" {
		provider = b.Provider
	}

	method := interfaces.AcquisitionMethod{
		Kind:           kind,
		ValidityDays:   b.ValidityDays,
		Email:          b.Email,
		Staging:        b.Staging,
		CADirectoryURL: b.CADirectoryURL,
		HTTPPort:       b.HTTPPort,
		Provider:       provider,
		CredentialsRef: b.CredentialsRef,
		WebrootPath:    b.WebrootPath,
	}
	if err := method.Validate(); err != nil {
		return interfaces.AcquisitionMethod{}, fmt.Errorf("domain %s: %w", domain, err)
	}
	return method, nil
}

func (b PolicyBlock) build(domain string) (interfaces.RenewalPolicy, error) {
	base, err := parseDuration("policy.backoff_base", b.BackoffBase)
	if err != nil {
		return interfaces.RenewalPolicy{}, fmt.Errorf("domain %s: %w", domain, err)
	}
	ceiling, err := parseDuration("policy.backoff_cap", b.BackoffCap)
	if err != nil {
		return interfaces.RenewalPolicy{}, fmt.Errorf("domain %s: %w", domain, err)
	}
	if b.RenewBeforeExpiryDays < 0 {
		return interfaces.RenewalPolicy{}, fmt.Errorf("%w: domain %s: renew_before_expiry_days must not be negative",
			interfaces.ErrInvalidConfig, domain)
	}
	if b.MaxRetries < 0 {
		return interfaces.RenewalPolicy{}, fmt.Errorf("%w: domain %s: max_retries must not be negative",
			interfaces.ErrInvalidConfig, domain)
	}
	return interfaces.RenewalPolicy{
		RenewBeforeExpiryDays: b.RenewBeforeExpiryDays,
		MaxRetries:            b.MaxRetries,
		BackoffBase:           base,
		BackoffCap:            ceiling,
	}.Normalized(), nil
}

// SingleDomain builds a one-domain configuration from environment-style
// values: the DOMAIN, CERTBOT_EMAIL, CERTBOT_METHOD and CERTBOT_STAGING
// surface of the original container deployment. An empty method means
// self-signed; an empty email defaults to admin@<domain> for ACME methods.
// The dns-cloudflare method reads its token from CF_DNS_API_TOKEN, since
// this path has no manifest to carry a credentials reference.
func SingleDomain(domain, email, method string, staging bool) (*Config, error) {
	if err := checkDomainName(domain); err != nil {
		return nil, err
	}

	if method == "" {
		method = string(interfaces.MethodSelfSigned)
	}
	kind, provider, err := ParseMethodKind(method)
	if err != nil {
		return nil, err
	}

	m := interfaces.AcquisitionMethod{
		Kind:     kind,
		Staging:  staging,
		Provider: provider,
	}
	if kind.IsACME() {
		if email == "" {
			email = "admin@" + domain
		}
		m.Email = email
	}
	if provider == "cloudflare" {
		m.CredentialsRef = "env://CF_DNS_API_TOKEN"
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &Config{
		BundleRoot: DefaultBundleRoot,
		AccountDir: filepath.Join(DefaultBundleRoot, DefaultACMEDirName),
		Domains: []Domain{{
			Name:   domain,
			Method: m,
			Policy: interfaces.DefaultRenewalPolicy(),
		}},
	}, nil
}

// ParseMethodKind maps a method name to its kind. Besides the canonical
// kind names it accepts the short names of the original deployment:
// "standalone", "webroot", and "dns-<provider>" (which also carries the
// provider).
func ParseMethodKind(raw string) (interfaces.MethodKind, string, error) {
	switch raw {
	case string(interfaces.MethodSelfSigned), "selfsigned":
		return interfaces.MethodSelfSigned, "", nil
	case string(interfaces.MethodACMEStandalone), "standalone":
		return interfaces.MethodACMEStandalone, "", nil
	case string(interfaces.MethodACMEWebroot), "webroot":
		return interfaces.MethodACMEWebroot, "", nil
	case string(interfaces.MethodACMEDNS), "dns":
		return interfaces.MethodACMEDNS, "", nil
	}
	if provider, ok := strings.CutPrefix(raw, "dns-"); ok && provider != "" {
		return interfaces.MethodACMEDNS, provider, nil
	}
	return "", "", fmt.Errorf("%w: unknown acquisition method %q", interfaces.ErrInvalidConfig, raw)
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", interfaces.ErrInvalidConfig, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", interfaces.ErrInvalidConfig, field)
	}
	return d, nil
}

func checkDomainName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: domain name is empty", interfaces.ErrInvalidConfig)
	}
	if strings.ContainsAny(name, "/\\ \t") || strings.HasPrefix(name, ".") || name != strings.ToLower(name) {
		return fmt.Errorf("%w: invalid domain name %q", interfaces.ErrInvalidConfig, name)
	}
	return nil
}
