package acquisition

import (
	"bytes"
	"context"
	"crypto"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/lakowske/podserve/interfaces"
)

// acmeClient is the slice of the lego client the acquirer needs. Tests swap
// in a fake through the client factory.
type acmeClient interface {
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	SetHTTP01Provider(provider challenge.Provider) error
	SetDNS01Provider(provider challenge.Provider, opts ...dns01.ChallengeOption) error
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
}

type clientFactory func(cfg *lego.Config) (acmeClient, error)

func defaultClientFactory(cfg *lego.Config) (acmeClient, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoClientAdapter{client: client}, nil
}

type legoClientAdapter struct {
	client *lego.Client
}

func (l *legoClientAdapter) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return l.client.Registration.Register(options)
}

func (l *legoClientAdapter) SetHTTP01Provider(provider challenge.Provider) error {
	return l.client.Challenge.SetHTTP01Provider(provider)
}

func (l *legoClientAdapter) SetDNS01Provider(provider challenge.Provider, opts ...dns01.ChallengeOption) error {
	return l.client.Challenge.SetDNS01Provider(provider, opts...)
}

func (l *legoClientAdapter) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return l.client.Certificate.Obtain(request)
}

// accountUser satisfies lego's registration.User.
type accountUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string                        { return u.email }
func (u *accountUser) GetRegistration() *registration.Resource { return u.registration }
func (u *accountUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// accountStore persists ACME account keys on disk so renewals reuse the same
// CA account instead of registering a fresh one per order.
type accountStore struct {
	dir string
	log *slog.Logger
}

func (s *accountStore) loadOrCreateKey(email string) (crypto.PrivateKey, error) {
	keyPath := filepath.Join(s.dir, safeFileName(email)+".key")

	pemBytes, err := os.ReadFile(keyPath)
	if err == nil {
		key, parseErr := certcrypto.ParsePEMPrivateKey(pemBytes)
		if parseErr == nil {
			return key, nil
		}
		s.log.Warn("Stored ACME account key unreadable, replacing it",
			slog.String("path", keyPath), "err", parseErr)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: reading acme account key: %v", interfaces.ErrWriteFailed, err)
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, fmt.Errorf("generating acme account key: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating acme account dir: %v", interfaces.ErrWriteFailed, err)
	}
	if err := os.WriteFile(keyPath, certcrypto.PEMEncode(key), 0600); err != nil {
		return nil, fmt.Errorf("%w: writing acme account key: %v", interfaces.ErrWriteFailed, err)
	}

	s.log.Info("Created ACME account key", slog.String("path", keyPath))
	return key, nil
}

// safeFileName maps an identifier onto a filesystem-safe file name segment.
func safeFileName(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._-")
	if out == "" {
		return "account"
	}
	return out
}

// challengeFulfiller prepares and attaches one ACME challenge mechanism to a
// client. One implementation exists per ACME acquisition method.
type challengeFulfiller interface {
	// Preflight verifies local preconditions without contacting the CA, so
	// obviously doomed orders fail before spending CA rate limit budget.
	Preflight(ctx context.Context) error

	// Attach registers the challenge provider on the client.
	Attach(client acmeClient) error
}

// acmeAcquirer drives a complete ACME order: challenge preflight, account
// setup, registration and issuance. The challenge mechanism is injected so
// one order flow serves the standalone, webroot and DNS methods.
type acmeAcquirer struct {
	kind      interfaces.MethodKind
	method    interfaces.AcquisitionMethod
	fulfiller challengeFulfiller
	accounts  *accountStore
	newClient clientFactory
	log       *slog.Logger
}

func (a *acmeAcquirer) Kind() interfaces.MethodKind { return a.kind }

// Acquire orders one certificate for the domain. Errors carry a taxonomy
// sentinel so the scheduler can pick retry or park behavior.
func (a *acmeAcquirer) Acquire(ctx context.Context, domain string) (interfaces.RawCertMaterial, error) {
	log := a.log.With(slog.String("domain", domain), slog.String("method", a.kind.String()))

	// Check challenge preconditions before touching the CA.
	if err := a.fulfiller.Preflight(ctx); err != nil {
		return interfaces.RawCertMaterial{}, classify(err)
	}

	accountKey, err := a.accounts.loadOrCreateKey(a.method.Email)
	if err != nil {
		return interfaces.RawCertMaterial{}, err
	}
	user := &accountUser{email: a.method.Email, key: accountKey}

	cfg := lego.NewConfig(user)
	cfg.CADirURL = a.directoryURL()
	cfg.Certificate.KeyType = certcrypto.EC256

	client, err := a.newClient(cfg)
	if err != nil {
		return interfaces.RawCertMaterial{}, classify(fmt.Errorf("creating acme client: %w", err))
	}

	if err := a.fulfiller.Attach(client); err != nil {
		return interfaces.RawCertMaterial{}, classify(err)
	}

	if err := ctx.Err(); err != nil {
		return interfaces.RawCertMaterial{}, fmt.Errorf("%w: %v", interfaces.ErrNetwork, err)
	}

	// Registering an existing account key is idempotent on the CA side.
	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return interfaces.RawCertMaterial{}, classify(fmt.Errorf("registering acme account: %w", err))
	}
	user.registration = reg

	if err := ctx.Err(); err != nil {
		return interfaces.RawCertMaterial{}, fmt.Errorf("%w: %v", interfaces.ErrNetwork, err)
	}

	log.Info("Ordering certificate", slog.String("directory", cfg.CADirURL))

	res, err := client.Obtain(certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	})
	if err != nil {
		return interfaces.RawCertMaterial{}, classify(fmt.Errorf("obtaining certificate: %w", err))
	}

	material, err := splitObtained(res)
	if err != nil {
		return interfaces.RawCertMaterial{}, err
	}

	log.Info("Certificate issued")
	return material, nil
}

func (a *acmeAcquirer) directoryURL() string {
	if a.method.CADirectoryURL != "" {
		return a.method.CADirectoryURL
	}
	if a.method.Staging {
		return lego.LEDirectoryStaging
	}
	return lego.LEDirectoryProduction
}

// splitObtained separates a bundled obtain response into leaf and chain. With
// Bundle set the CA returns the leaf first, followed by the issuer chain.
func splitObtained(res *certificate.Resource) (interfaces.RawCertMaterial, error) {
	if res == nil || len(res.Certificate) == 0 || len(res.PrivateKey) == 0 {
		return interfaces.RawCertMaterial{}, fmt.Errorf("%w: CA returned incomplete certificate material", interfaces.ErrNetwork)
	}

	leaf, chain := splitLeaf(res.Certificate)
	if len(chain) == 0 {
		chain = res.IssuerCertificate
	}

	return interfaces.RawCertMaterial{
		CertPEM:  leaf,
		KeyPEM:   res.PrivateKey,
		ChainPEM: chain,
	}, nil
}

// splitLeaf returns the first PEM block re-encoded, and the remaining blocks
// verbatim.
func splitLeaf(bundled []byte) (leaf, rest []byte) {
	block, remainder := pem.Decode(bundled)
	if block == nil {
		return bundled, nil
	}
	return pem.EncodeToMemory(block), bytes.TrimSpace(remainder)
}
