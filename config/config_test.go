package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lakowske/podserve/interfaces"
)

const fullManifest = `
bundle_root = "/srv/certs"
keep_generations = 3

[acme]
account_dir = "/srv/certs/accounts"
propagation_timeout = "2m"

[scheduler]
tick_interval = "6h"
urgent_interval = "30m"
attempt_timeout = "90s"
workers = 3

[mirror]
bucket = "cert-archive"
prefix = "prod"
region = "us-east-1"

[[consumer]]
service = "apache"
uid = 33
gid = 33
mount_path = "/etc/ssl/podserve"
needs_private_key = true

[[consumer]]
service = "dovecot"
uid = 97
gid = 97
mount_path = "/etc/dovecot/ssl"
needs_private_key = true

[[domain]]
name = "web.example.com"
consumers = ["apache"]

[domain.method]
kind = "acme-standalone"
email = "admin@example.com"
http_port = 8080

[domain.policy]
renew_before_expiry_days = 14

[[domain]]
name = "mail.example.com"
consumers = ["dovecot", "apache"]

[domain.method]
kind = "dns-cloudflare"
email = "admin@example.com"
staging = true
credentials = "env://CF_DNS_API_TOKEN"
`

func TestParseFullManifest(t *testing.T) {
	cfg, err := Parse([]byte(fullManifest))
	require.NoError(t, err)

	require.Equal(t, "/srv/certs", cfg.BundleRoot)
	require.Equal(t, 3, cfg.KeepGenerations)
	require.Equal(t, "/srv/certs/accounts", cfg.AccountDir)
	require.Equal(t, 2*time.Minute, cfg.PropagationTimeout)
	require.Equal(t, 6*time.Hour, cfg.TickInterval)
	require.Equal(t, 30*time.Minute, cfg.UrgentInterval)
	require.Equal(t, 90*time.Second, cfg.AttemptTimeout)
	require.Equal(t, 3, cfg.Workers)

	require.NotNil(t, cfg.Mirror)
	require.Equal(t, "cert-archive", cfg.Mirror.Bucket)
	require.Equal(t, "prod", cfg.Mirror.Prefix)
	require.Equal(t, "us-east-1", cfg.Mirror.Region)

	require.Equal(t, []string{"web.example.com", "mail.example.com"}, cfg.DomainNames())

	web, err := cfg.Find("web.example.com")
	require.NoError(t, err)
	require.Equal(t, interfaces.MethodACMEStandalone, web.Method.Kind)
	require.Equal(t, 8080, web.Method.HTTPPort)
	require.Equal(t, 14, web.Policy.RenewBeforeExpiryDays)
	require.Equal(t, 5, web.Policy.MaxRetries, "unset policy fields take defaults")
	require.Len(t, web.Consumers, 1)
	require.Equal(t, "apache", web.Consumers[0].ServiceName)
	require.True(t, web.Consumers[0].NeedsPrivateKey)

	mail, err := cfg.Find("mail.example.com")
	require.NoError(t, err)
	require.Equal(t, interfaces.MethodACMEDNS, mail.Method.Kind)
	require.Equal(t, "cloudflare", mail.Method.Provider)
	require.True(t, mail.Method.Staging)
	require.Len(t, mail.Consumers, 2)
	require.Equal(t, "dovecot", mail.Consumers[0].ServiceName)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[[domain]]
name = "web.example.com"

[domain.method]
kind = "self-signed"
`))
	require.NoError(t, err)

	require.Equal(t, DefaultBundleRoot, cfg.BundleRoot)
	require.Equal(t, filepath.Join(DefaultBundleRoot, ".acme"), cfg.AccountDir)
	require.Zero(t, cfg.TickInterval)
	require.Zero(t, cfg.Workers)
	require.Nil(t, cfg.Mirror)

	d := cfg.Domains[0]
	require.Equal(t, interfaces.MethodSelfSigned, d.Method.Kind)
	require.Equal(t, interfaces.DefaultRenewalPolicy(), d.Policy)
	require.Empty(t, d.Consumers)
}

func TestParseRejectsBadManifests(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{"unknown key", `bundel_root = "/srv"` + "\n" + `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
		{"no domains", `bundle_root = "/srv"`},
		{"empty domain name", `[[domain]]` + "\n" + `name = ""` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
		{"uppercase domain name", `[[domain]]` + "\n" + `name = "Web.Example.Com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
		{"duplicate domain", `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"` + "\n" + `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
		{"unknown method", `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "carrier-pigeon"`},
		{"acme without email", `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "acme-standalone"`},
		{"dns without credentials", `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "acme-dns"` + "\n" + `email = "a@b.c"` + "\n" + `provider = "cloudflare"`},
		{"provider conflict", `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "dns-cloudflare"` + "\n" + `email = "a@b.c"` + "\n" + `provider = "route53"` + "\n" + `credentials = "env://TOKEN"`},
		{"undeclared consumer", `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `consumers = ["ghost"]` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
		{"duplicate consumer", `[[consumer]]` + "\n" + `service = "apache"` + "\n" + `[[consumer]]` + "\n" + `service = "apache"` + "\n" + `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
		{"bad duration", `[scheduler]` + "\n" + `tick_interval = "soon"` + "\n" + `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
		{"negative retries", `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"` + "\n" + `[domain.policy]` + "\n" + `max_retries = -1`},
		{"mirror without bucket", `[mirror]` + "\n" + `region = "us-east-1"` + "\n" + `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
		{"mirror without location", `[mirror]` + "\n" + `bucket = "archive"` + "\n" + `[[domain]]` + "\n" + `name = "a.example.com"` + "\n" + `[domain.method]` + "\n" + `kind = "self-signed"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.manifest))
			require.ErrorIs(t, err, interfaces.ErrInvalidConfig)
		})
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certmgr.toml")
	require.NoError(t, os.WriteFile(path, []byte(fullManifest), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Domains, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestSingleDomainDefaults(t *testing.T) {
	cfg, err := SingleDomain("lab.example.com", "", "", false)
	require.NoError(t, err)
	require.Len(t, cfg.Domains, 1)

	d := cfg.Domains[0]
	require.Equal(t, "lab.example.com", d.Name)
	require.Equal(t, interfaces.MethodSelfSigned, d.Method.Kind)
	require.Empty(t, d.Method.Email)
	require.Equal(t, interfaces.DefaultRenewalPolicy(), d.Policy)
	require.Equal(t, DefaultBundleRoot, cfg.BundleRoot)
}

func TestSingleDomainACME(t *testing.T) {
	cfg, err := SingleDomain("lab.example.com", "", "standalone", true)
	require.NoError(t, err)

	d := cfg.Domains[0]
	require.Equal(t, interfaces.MethodACMEStandalone, d.Method.Kind)
	require.Equal(t, "admin@lab.example.com", d.Method.Email, "email defaults to the domain's admin address")
	require.True(t, d.Method.Staging)
}

func TestSingleDomainDNSCloudflare(t *testing.T) {
	cfg, err := SingleDomain("lab.example.com", "certs@example.com", "dns-cloudflare", false)
	require.NoError(t, err)

	d := cfg.Domains[0]
	require.Equal(t, interfaces.MethodACMEDNS, d.Method.Kind)
	require.Equal(t, "cloudflare", d.Method.Provider)
	require.Equal(t, "certs@example.com", d.Method.Email)
	require.Equal(t, "env://CF_DNS_API_TOKEN", d.Method.CredentialsRef)
}

func TestSingleDomainRejectsBadInput(t *testing.T) {
	_, err := SingleDomain("", "", "", false)
	require.ErrorIs(t, err, interfaces.ErrInvalidConfig)

	_, err = SingleDomain("lab.example.com", "", "carrier-pigeon", false)
	require.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestParseMethodKind(t *testing.T) {
	cases := []struct {
		raw      string
		kind     interfaces.MethodKind
		provider string
	}{
		{"self-signed", interfaces.MethodSelfSigned, ""},
		{"selfsigned", interfaces.MethodSelfSigned, ""},
		{"standalone", interfaces.MethodACMEStandalone, ""},
		{"acme-standalone", interfaces.MethodACMEStandalone, ""},
		{"webroot", interfaces.MethodACMEWebroot, ""},
		{"acme-webroot", interfaces.MethodACMEWebroot, ""},
		{"dns", interfaces.MethodACMEDNS, ""},
		{"acme-dns", interfaces.MethodACMEDNS, ""},
		{"dns-cloudflare", interfaces.MethodACMEDNS, "cloudflare"},
		{"dns-route53", interfaces.MethodACMEDNS, "route53"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			kind, provider, err := ParseMethodKind(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.kind, kind)
			require.Equal(t, tc.provider, provider)
		})
	}

	_, _, err := ParseMethodKind("smoke-signals")
	require.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestFindUnknownDomain(t *testing.T) {
	cfg, err := Parse([]byte(fullManifest))
	require.NoError(t, err)

	_, err = cfg.Find("other.example.com")
	require.ErrorIs(t, err, interfaces.ErrUnknownDomain)
}
