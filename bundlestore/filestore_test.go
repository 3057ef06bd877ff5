package bundlestore

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakowske/podserve/cryptoutils"
	"github.com/lakowske/podserve/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMaterial(t *testing.T, domain string) interfaces.RawCertMaterial {
	t.Helper()
	certPEM, keyPEM, err := cryptoutils.IssueSelfSigned(domain, 90*24*time.Hour)
	require.NoError(t, err)
	return interfaces.RawCertMaterial{CertPEM: certPEM, KeyPEM: keyPEM}
}

func newTestStore(t *testing.T, keep int) *FileStore {
	t.Helper()
	store, err := NewFileStore(Config{
		Root:            t.TempDir(),
		KeepGenerations: keep,
		Log:             testLogger(),
	})
	require.NoError(t, err)
	return store
}

func TestPutGetRoundtrip(t *testing.T) {
	store := newTestStore(t, 2)
	material := testMaterial(t, "test.local")

	published, err := store.Put(context.Background(), "test.local", material, interfaces.MethodSelfSigned)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), published.Generation)
	assert.Equal(t, interfaces.MethodSelfSigned, published.Method)
	assert.NotEmpty(t, published.Serial)
	assert.True(t, published.ExpiresAt.After(time.Now()))

	got, err := store.Get(context.Background(), "test.local")
	require.NoError(t, err)
	assert.Equal(t, material.CertPEM, got.CertPEM)
	assert.Equal(t, material.KeyPEM, got.KeyPEM)
	assert.Empty(t, got.ChainPEM)
	assert.Equal(t, published.Serial, got.Serial)
	assert.Equal(t, uint64(1), got.Generation)

	// The live path is a symlink resolving to a complete generation.
	bundleDir := store.BundleDir("test.local")
	fi, err := os.Lstat(bundleDir)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeSymlink)

	for _, name := range []string{interfaces.CertFileName, interfaces.KeyFileName, interfaces.FullChainFileName} {
		_, err := os.Stat(filepath.Join(bundleDir, name))
		assert.NoError(t, err, name)
	}

	// The key must not be group or world readable until the access policy
	// widens it.
	fi, err = os.Stat(filepath.Join(bundleDir, interfaces.KeyFileName))
	require.NoError(t, err)
	assert.Zero(t, fi.Mode().Perm()&0077)

	// Staging leaves nothing behind.
	entries, err := os.ReadDir(filepath.Join(store.root, stagingDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPutPreservesChain(t *testing.T) {
	store := newTestStore(t, 2)
	material := testMaterial(t, "test.local")
	issuer := testMaterial(t, "issuer.local")
	material.ChainPEM = issuer.CertPEM

	_, err := store.Put(context.Background(), "test.local", material, interfaces.MethodACMEStandalone)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "test.local")
	require.NoError(t, err)
	assert.Equal(t, string(bytes.TrimSpace(issuer.CertPEM))+"\n", string(got.ChainPEM))
	assert.Equal(t, interfaces.MethodACMEStandalone, got.Method)

	fullchain, err := os.ReadFile(filepath.Join(store.BundleDir("test.local"), interfaces.FullChainFileName))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(fullchain, bytes.TrimSpace(material.CertPEM)))
	assert.Contains(t, string(fullchain), string(bytes.TrimSpace(issuer.CertPEM)))
}

func TestPutAdvancesGenerationAndPrunes(t *testing.T) {
	store := newTestStore(t, 2)

	for i := 1; i <= 4; i++ {
		published, err := store.Put(context.Background(), "test.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), published.Generation)
	}

	gens, err := store.ListGenerations("test.local")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, gens)

	current, err := store.CurrentGeneration("test.local")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), current)
}

func TestPutRejectsMismatchedMaterial(t *testing.T) {
	store := newTestStore(t, 2)
	material := testMaterial(t, "test.local")
	other := testMaterial(t, "test.local")
	material.KeyPEM = other.KeyPEM

	_, err := store.Put(context.Background(), "test.local", material, interfaces.MethodSelfSigned)
	require.ErrorIs(t, err, interfaces.ErrVerificationFailed)

	// Nothing was published.
	_, err = store.Get(context.Background(), "test.local")
	assert.ErrorIs(t, err, interfaces.ErrBundleNotFound)
}

func TestPutRejectsWrongDomain(t *testing.T) {
	store := newTestStore(t, 2)

	_, err := store.Put(context.Background(), "other.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
	require.ErrorIs(t, err, interfaces.ErrVerificationFailed)
}

func TestPutRejectsInvalidDomainNames(t *testing.T) {
	store := newTestStore(t, 2)
	material := testMaterial(t, "test.local")

	for _, domain := range []string{"", ".", "..", "a/b", ".hidden"} {
		_, err := store.Put(context.Background(), domain, material, interfaces.MethodSelfSigned)
		assert.ErrorIs(t, err, interfaces.ErrInvalidConfig, "domain %q", domain)
	}
}

func TestGetMissingDomain(t *testing.T) {
	store := newTestStore(t, 2)

	_, err := store.Get(context.Background(), "absent.local")
	assert.ErrorIs(t, err, interfaces.ErrBundleNotFound)

	_, err = store.CurrentGeneration("absent.local")
	assert.ErrorIs(t, err, interfaces.ErrBundleNotFound)
}

func TestGetDetectsCorruption(t *testing.T) {
	store := newTestStore(t, 2)
	_, err := store.Put(context.Background(), "test.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
	require.NoError(t, err)

	certPath := filepath.Join(store.generationDir("test.local", 1), interfaces.CertFileName)
	require.NoError(t, os.WriteFile(certPath, []byte("tampered"), 0644))

	_, err = store.Get(context.Background(), "test.local")
	assert.ErrorIs(t, err, interfaces.ErrChecksumMismatch)
}

func TestGetDetectsMissingFile(t *testing.T) {
	store := newTestStore(t, 2)
	_, err := store.Put(context.Background(), "test.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(store.generationDir("test.local", 1), interfaces.FullChainFileName)))

	_, err = store.Get(context.Background(), "test.local")
	assert.ErrorIs(t, err, interfaces.ErrChecksumMismatch)
}

func TestGetRejectsCertificateForAnotherDomain(t *testing.T) {
	store := newTestStore(t, 2)
	_, err := store.Put(context.Background(), "test.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
	require.NoError(t, err)

	// Swap in a certificate for a different domain and regenerate the
	// checksum file, so the digests match the swapped content.
	other := testMaterial(t, "other.local")
	dir := store.generationDir("test.local", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, interfaces.CertFileName), other.CertPEM, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, interfaces.FullChainFileName), other.CertPEM, 0644))
	require.NoError(t, writeChecksumFile(dir, []string{
		interfaces.CertFileName, interfaces.KeyFileName, interfaces.FullChainFileName, manifestFileName,
	}))

	_, err = store.Get(context.Background(), "test.local")
	assert.ErrorIs(t, err, interfaces.ErrVerificationFailed)
}

// Readers running concurrently with publications must always observe a
// complete, self-consistent bundle.
func TestConcurrentReadersSeeConsistentBundles(t *testing.T) {
	// Keep enough generations that none disappears mid-read.
	store := newTestStore(t, 16)

	_, err := store.Put(context.Background(), "test.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				bundle, err := store.Get(context.Background(), "test.local")
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, cryptoutils.VerifyMaterial(bundle.KeyPEM, bundle.CertPEM, bundle.ChainPEM, "test.local"))
			}
		}()
	}

	for i := 0; i < 8; i++ {
		_, err := store.Put(context.Background(), "test.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
}

func TestListDomains(t *testing.T) {
	store := newTestStore(t, 2)

	domains, err := store.ListDomains()
	require.NoError(t, err)
	assert.Empty(t, domains)

	for _, domain := range []string{"b.local", "a.local"} {
		_, err := store.Put(context.Background(), domain, testMaterial(t, domain), interfaces.MethodSelfSigned)
		require.NoError(t, err)
	}

	domains, err = store.ListDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.local", "b.local"}, domains)
}

func TestRemove(t *testing.T) {
	store := newTestStore(t, 2)
	_, err := store.Put(context.Background(), "test.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
	require.NoError(t, err)

	require.NoError(t, store.Remove(context.Background(), "test.local"))

	_, err = store.Get(context.Background(), "test.local")
	assert.ErrorIs(t, err, interfaces.ErrBundleNotFound)

	domains, err := store.ListDomains()
	require.NoError(t, err)
	assert.Empty(t, domains)

	// Removing an absent domain is not an error.
	assert.NoError(t, store.Remove(context.Background(), "test.local"))
}

type recordingMirror struct {
	mu    sync.Mutex
	calls []map[string][]byte
}

func (m *recordingMirror) MirrorGeneration(ctx context.Context, domain string, generation uint64, files map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, files)
	return nil
}

func (m *recordingMirror) Name() string { return "recording" }

func TestMirrorReceivesPublicFilesOnly(t *testing.T) {
	mirror := &recordingMirror{}
	store, err := NewFileStore(Config{
		Root:   t.TempDir(),
		Mirror: mirror,
		Log:    testLogger(),
	})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "test.local", testMaterial(t, "test.local"), interfaces.MethodSelfSigned)
	require.NoError(t, err)
	store.Close()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Len(t, mirror.calls, 1)
	files := mirror.calls[0]
	assert.Contains(t, files, interfaces.CertFileName)
	assert.Contains(t, files, interfaces.FullChainFileName)
	assert.Contains(t, files, manifestFileName)
	assert.NotContains(t, files, interfaces.KeyFileName)
}
