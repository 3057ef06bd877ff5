package acquisition

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/stretchr/testify/require"

	"github.com/lakowske/podserve/cryptoutils"
	"github.com/lakowske/podserve/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeACMEClient struct {
	registerErr error
	obtainErr   error
	resource    *certificate.Resource

	registered bool
	http01Set  bool
	dns01Set   bool
	obtained   []certificate.ObtainRequest
}

func (f *fakeACMEClient) Register(_ registration.RegisterOptions) (*registration.Resource, error) {
	f.registered = true
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &registration.Resource{}, nil
}

func (f *fakeACMEClient) SetHTTP01Provider(_ challenge.Provider) error {
	f.http01Set = true
	return nil
}

func (f *fakeACMEClient) SetDNS01Provider(_ challenge.Provider, _ ...dns01.ChallengeOption) error {
	f.dns01Set = true
	return nil
}

func (f *fakeACMEClient) Obtain(req certificate.ObtainRequest) (*certificate.Resource, error) {
	f.obtained = append(f.obtained, req)
	if f.obtainErr != nil {
		return nil, f.obtainErr
	}
	return f.resource, nil
}

type fakeFulfiller struct {
	preflightErr error
	attachErr    error
	attached     acmeClient
}

func (f *fakeFulfiller) Preflight(_ context.Context) error { return f.preflightErr }

func (f *fakeFulfiller) Attach(client acmeClient) error {
	f.attached = client
	return f.attachErr
}

func newTestAcquirer(t *testing.T, client acmeClient, fulfiller challengeFulfiller) *acmeAcquirer {
	t.Helper()
	return &acmeAcquirer{
		kind: interfaces.MethodACMEStandalone,
		method: interfaces.AcquisitionMethod{
			Kind:  interfaces.MethodACMEStandalone,
			Email: "ops@example.com",
		},
		fulfiller: fulfiller,
		accounts:  &accountStore{dir: t.TempDir(), log: testLogger()},
		newClient: func(_ *lego.Config) (acmeClient, error) { return client, nil },
		log:       testLogger(),
	}
}

func issueTestPair(t *testing.T, domain string) (certPEM, keyPEM []byte) {
	t.Helper()
	certPEM, keyPEM, err := cryptoutils.IssueSelfSigned(domain, 24*time.Hour)
	require.NoError(t, err)
	return certPEM, keyPEM
}

func TestAcquireIssuesCertificate(t *testing.T) {
	leafPEM, keyPEM := issueTestPair(t, "web.example.com")
	issuerPEM, _ := issueTestPair(t, "issuer.example.com")

	client := &fakeACMEClient{
		resource: &certificate.Resource{
			Certificate: append(append([]byte{}, leafPEM...), issuerPEM...),
			PrivateKey:  keyPEM,
		},
	}
	fulfiller := &fakeFulfiller{}
	acquirer := newTestAcquirer(t, client, fulfiller)

	material, err := acquirer.Acquire(context.Background(), "web.example.com")
	require.NoError(t, err)

	require.Equal(t, string(bytes.TrimSpace(leafPEM)), string(bytes.TrimSpace(material.CertPEM)))
	require.Equal(t, string(bytes.TrimSpace(issuerPEM)), string(bytes.TrimSpace(material.ChainPEM)))
	require.Equal(t, keyPEM, material.KeyPEM)

	require.True(t, client.registered)
	require.Same(t, client, fulfiller.attached)
	require.Len(t, client.obtained, 1)
	require.Equal(t, []string{"web.example.com"}, client.obtained[0].Domains)
	require.True(t, client.obtained[0].Bundle)
}

func TestAcquireFallsBackToIssuerCertificate(t *testing.T) {
	leafPEM, keyPEM := issueTestPair(t, "web.example.com")
	issuerPEM, _ := issueTestPair(t, "issuer.example.com")

	client := &fakeACMEClient{
		resource: &certificate.Resource{
			Certificate:       leafPEM,
			PrivateKey:        keyPEM,
			IssuerCertificate: issuerPEM,
		},
	}
	acquirer := newTestAcquirer(t, client, &fakeFulfiller{})

	material, err := acquirer.Acquire(context.Background(), "web.example.com")
	require.NoError(t, err)
	require.Equal(t, issuerPEM, material.ChainPEM)
}

func TestAcquirePreflightFailureSkipsCA(t *testing.T) {
	fulfiller := &fakeFulfiller{
		preflightErr: interfaces.ErrPortConflict,
	}
	acquirer := newTestAcquirer(t, nil, fulfiller)
	clientsBuilt := 0
	acquirer.newClient = func(_ *lego.Config) (acmeClient, error) {
		clientsBuilt++
		return &fakeACMEClient{}, nil
	}

	_, err := acquirer.Acquire(context.Background(), "web.example.com")
	require.ErrorIs(t, err, interfaces.ErrPortConflict)
	require.Zero(t, clientsBuilt)
}

func TestAcquireClassifiesRegistrationFailure(t *testing.T) {
	client := &fakeACMEClient{
		registerErr: &acme.ProblemDetails{
			Type:       "urn:ietf:params:acme:error:rateLimited",
			HTTPStatus: 429,
		},
	}
	acquirer := newTestAcquirer(t, client, &fakeFulfiller{})

	_, err := acquirer.Acquire(context.Background(), "web.example.com")
	require.ErrorIs(t, err, interfaces.ErrRateLimited)
	require.True(t, interfaces.IsTransient(err))
}

func TestAcquireClassifiesObtainFailure(t *testing.T) {
	// Obtain flattens per-domain problems into a message, so only the urn
	// text survives for classification.
	client := &fakeACMEClient{
		obtainErr: errors.New("error: one or more domains had a problem:\n" +
			"[web.example.com] acme: error: 400 :: urn:ietf:params:acme:error:rejectedIdentifier :: domain not allowed"),
	}
	acquirer := newTestAcquirer(t, client, &fakeFulfiller{})

	_, err := acquirer.Acquire(context.Background(), "web.example.com")
	require.ErrorIs(t, err, interfaces.ErrInvalidConfig)
	require.True(t, interfaces.IsTerminal(err))
}

func TestAcquireCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeACMEClient{}
	acquirer := newTestAcquirer(t, client, &fakeFulfiller{})

	_, err := acquirer.Acquire(ctx, "web.example.com")
	require.ErrorIs(t, err, interfaces.ErrNetwork)
	require.False(t, client.registered)
}

func TestAccountKeyIsReusedAcrossOrders(t *testing.T) {
	leafPEM, keyPEM := issueTestPair(t, "web.example.com")
	client := &fakeACMEClient{
		resource: &certificate.Resource{Certificate: leafPEM, PrivateKey: keyPEM},
	}
	acquirer := newTestAcquirer(t, client, &fakeFulfiller{})

	_, err := acquirer.Acquire(context.Background(), "web.example.com")
	require.NoError(t, err)

	keyPath := filepath.Join(acquirer.accounts.dir, "ops_example.com.key")
	first, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	_, err = acquirer.Acquire(context.Background(), "web.example.com")
	require.NoError(t, err)

	second, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestAccountStoreReplacesCorruptKey(t *testing.T) {
	dir := t.TempDir()
	store := &accountStore{dir: dir, log: testLogger()}

	keyPath := filepath.Join(dir, "ops_example.com.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0600))

	key, err := store.loadOrCreateKey("ops@example.com")
	require.NoError(t, err)
	require.NotNil(t, key)

	replaced, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	require.NotEqual(t, "not a key", string(replaced))
}

func TestDirectoryURLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method interfaces.AcquisitionMethod
		want   string
	}{
		{
			name:   "production by default",
			method: interfaces.AcquisitionMethod{},
			want:   lego.LEDirectoryProduction,
		},
		{
			name:   "staging flag",
			method: interfaces.AcquisitionMethod{Staging: true},
			want:   lego.LEDirectoryStaging,
		},
		{
			name:   "explicit override wins",
			method: interfaces.AcquisitionMethod{Staging: true, CADirectoryURL: "https://ca.internal/dir"},
			want:   "https://ca.internal/dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &acmeAcquirer{method: tt.method}
			require.Equal(t, tt.want, a.directoryURL())
		})
	}
}

func TestSafeFileName(t *testing.T) {
	require.Equal(t, "ops_example.com", safeFileName("Ops@Example.com"))
	require.Equal(t, "account", safeFileName("  "))
	require.Equal(t, "a-b_c.d", safeFileName("a-b_c.d"))
}
