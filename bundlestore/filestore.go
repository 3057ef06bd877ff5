package bundlestore

import (
	"bytes"
	"context"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lakowske/podserve/cryptoutils"
	"github.com/lakowske/podserve/interfaces"
)

const (
	versionsDirName  = ".versions"
	stagingDirName   = ".staging"
	manifestFileName = "manifest.toml"

	generationDirPrefix = "gen-"

	// mirrorTimeout bounds a single asynchronous mirror upload.
	mirrorTimeout = 60 * time.Second
)

// Mirror receives the public files of every published generation for
// off-host archival. Implementations must tolerate repeated uploads of the
// same generation.
type Mirror interface {
	// MirrorGeneration uploads the given files, keyed by file name.
	MirrorGeneration(ctx context.Context, domain string, generation uint64, files map[string][]byte) error

	// Name returns an identifier for logging.
	Name() string
}

// generationManifest records what a generation contains and where it came
// from. Stored as manifest.toml inside each generation directory.
type generationManifest struct {
	Domain     string    `toml:"domain"`
	Generation uint64    `toml:"generation"`
	Method     string    `toml:"method"`
	Serial     string    `toml:"serial"`
	IssuedAt   time.Time `toml:"issued_at"`
	ExpiresAt  time.Time `toml:"expires_at"`
	CreatedAt  time.Time `toml:"created_at"`
}

// Config configures a FileStore.
type Config struct {
	// Root is the bundle root directory consumers mount.
	Root string
	// KeepGenerations is how many generations to retain per domain,
	// including the live one. Defaults to 2.
	KeepGenerations int
	// Mirror, when set, receives every published generation asynchronously.
	// Mirror failures are logged and never block publication.
	Mirror Mirror
	// Log is the structured logger for store operations.
	Log *slog.Logger
}

// FileStore implements interfaces.BundleStore on the local filesystem.
// Publication is atomic with respect to concurrent readers; see the package
// documentation for the protocol.
type FileStore struct {
	root   string
	keep   int
	mirror Mirror
	log    *slog.Logger

	// mu serializes generation allocation and symlink swaps. Reads need no
	// lock; symlink resolution is atomic.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewFileStore creates the bundle root and its internal directories if
// missing.
func NewFileStore(cfg Config) (*FileStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: bundle root not set", interfaces.ErrInvalidConfig)
	}
	if cfg.KeepGenerations <= 0 {
		cfg.KeepGenerations = 2
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	for _, dir := range []string{cfg.Root, filepath.Join(cfg.Root, versionsDirName), filepath.Join(cfg.Root, stagingDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	return &FileStore{
		root:   cfg.Root,
		keep:   cfg.KeepGenerations,
		mirror: cfg.Mirror,
		log:    cfg.Log,
	}, nil
}

// Put verifies material and publishes it as the domain's next generation.
// Verification failures discard the material without touching the store.
func (s *FileStore) Put(ctx context.Context, domain string, material interfaces.RawCertMaterial, method interfaces.MethodKind) (*interfaces.CertificateBundle, error) {
	if err := validateDomain(domain); err != nil {
		return nil, err
	}

	if err := cryptoutils.VerifyMaterial(material.KeyPEM, material.CertPEM, material.ChainPEM, domain); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrVerificationFailed, err)
	}
	info, err := cryptoutils.ParseCertInfo(material.CertPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrVerificationFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen, err := s.nextGeneration(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}

	fullchain := interfaces.ConcatPEM(material.CertPEM, material.ChainPEM)

	manifest := generationManifest{
		Domain:     domain,
		Generation: gen,
		Method:     method.String(),
		Serial:     info.Serial,
		IssuedAt:   info.NotBefore.UTC(),
		ExpiresAt:  info.NotAfter.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	manifestTOML, err := toml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding manifest: %v", interfaces.ErrWriteFailed, err)
	}

	staging, err := os.MkdirTemp(filepath.Join(s.root, stagingDirName), domain+".")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	// No-op once the staging directory has been renamed into place.
	defer os.RemoveAll(staging)

	// MkdirTemp creates 0700; consumers need to traverse the directory once
	// it goes live.
	if err := os.Chmod(staging, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}

	files := []struct {
		name string
		data []byte
		mode os.FileMode
	}{
		// The key starts out accessible to nobody but root; the access
		// policy widens it to the consumers' group after publication.
		{interfaces.CertFileName, material.CertPEM, 0644},
		{interfaces.KeyFileName, material.KeyPEM, 0600},
		{interfaces.FullChainFileName, fullchain, 0644},
		{manifestFileName, manifestTOML, 0644},
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if err := writeFileSync(filepath.Join(staging, f.name), f.data, f.mode); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrWriteFailed, f.name, err)
		}
		names = append(names, f.name)
	}
	if err := writeChecksumFile(staging, names); err != nil {
		return nil, fmt.Errorf("%w: checksums: %v", interfaces.ErrWriteFailed, err)
	}

	genDir := s.generationDir(domain, gen)
	if err := os.MkdirAll(filepath.Dir(genDir), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	if err := os.Rename(staging, genDir); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	syncDir(filepath.Dir(genDir))

	if err := s.swapLink(domain, gen); err != nil {
		return nil, err
	}

	s.pruneGenerations(domain, gen)

	bundle := &interfaces.CertificateBundle{
		Domain:     domain,
		CertPEM:    material.CertPEM,
		KeyPEM:     material.KeyPEM,
		ChainPEM:   material.ChainPEM,
		IssuedAt:   info.NotBefore,
		ExpiresAt:  info.NotAfter,
		Serial:     info.Serial,
		Method:     method,
		Generation: gen,
	}

	if s.mirror != nil {
		// The private key never leaves the host.
		s.mirrorAsync(domain, gen, map[string][]byte{
			interfaces.CertFileName:      material.CertPEM,
			interfaces.FullChainFileName: fullchain,
			manifestFileName:             manifestTOML,
		})
	}

	s.log.Info("Published certificate bundle",
		slog.String("domain", domain),
		slog.Uint64("generation", gen),
		slog.String("method", method.String()),
		slog.Time("expires", info.NotAfter))

	return bundle, nil
}

// Get reads the domain's live generation, verifying checksums and that the
// embedded leaf certificate still covers the domain.
func (s *FileStore) Get(ctx context.Context, domain string) (*interfaces.CertificateBundle, error) {
	gen, err := s.CurrentGeneration(domain)
	if err != nil {
		return nil, err
	}
	dir := s.generationDir(domain, gen)

	if err := verifyChecksumFile(dir); err != nil {
		return nil, fmt.Errorf("%w: %s generation %d: %v", interfaces.ErrChecksumMismatch, domain, gen, err)
	}

	certPEM, err := os.ReadFile(filepath.Join(dir, interfaces.CertFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrChecksumMismatch, err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, interfaces.KeyFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrChecksumMismatch, err)
	}
	fullchain, err := os.ReadFile(filepath.Join(dir, interfaces.FullChainFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrChecksumMismatch, err)
	}

	manifestTOML, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrChecksumMismatch, err)
	}
	var manifest generationManifest
	if err := toml.Unmarshal(manifestTOML, &manifest); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %v", interfaces.ErrChecksumMismatch, err)
	}
	if manifest.Domain != domain || manifest.Generation != gen {
		return nil, fmt.Errorf("%w: manifest names %s generation %d", interfaces.ErrChecksumMismatch, manifest.Domain, manifest.Generation)
	}

	cert, err := cryptoutils.ParseLeafCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrChecksumMismatch, err)
	}
	if err := cert.VerifyHostname(domain); err != nil {
		return nil, fmt.Errorf("%w: stored certificate does not cover %s", interfaces.ErrVerificationFailed, domain)
	}

	return &interfaces.CertificateBundle{
		Domain:     domain,
		CertPEM:    certPEM,
		KeyPEM:     keyPEM,
		ChainPEM:   chainFromFullChain(fullchain),
		IssuedAt:   cert.NotBefore,
		ExpiresAt:  cert.NotAfter,
		Serial:     cryptoutils.FormatSerial(cert.SerialNumber),
		Method:     interfaces.MethodKind(manifest.Method),
		Generation: gen,
	}, nil
}

// CurrentGeneration resolves the live generation number from the domain
// symlink without reading bundle contents.
func (s *FileStore) CurrentGeneration(domain string) (uint64, error) {
	if err := validateDomain(domain); err != nil {
		return 0, err
	}

	target, err := os.Readlink(filepath.Join(s.root, domain))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", interfaces.ErrBundleNotFound, domain)
		}
		return 0, fmt.Errorf("failed to resolve live bundle for %s: %w", domain, err)
	}
	return parseGenerationDirName(filepath.Base(target))
}

// ListDomains returns every domain with at least one stored generation,
// sorted.
func (s *FileStore) ListDomains() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, versionsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var domains []string
	for _, e := range entries {
		if e.IsDir() {
			domains = append(domains, e.Name())
		}
	}
	sort.Strings(domains)
	return domains, nil
}

// ListGenerations returns the retained generation numbers for the domain,
// ascending.
func (s *FileStore) ListGenerations(domain string) ([]uint64, error) {
	if err := validateDomain(domain); err != nil {
		return nil, err
	}
	return s.listGenerations(domain)
}

// Remove deletes the domain's live symlink and all retained generations.
func (s *FileStore) Remove(ctx context.Context, domain string) error {
	if err := validateDomain(domain); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.root, domain)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	if err := os.RemoveAll(filepath.Join(s.root, versionsDirName, domain)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}

	s.log.Info("Removed stored bundles", slog.String("domain", domain))
	return nil
}

// BundleDir returns the stable path consumers mount for the domain's live
// bundle.
func (s *FileStore) BundleDir(domain string) string {
	return filepath.Join(s.root, domain)
}

// Close waits for in-flight mirror uploads to finish.
func (s *FileStore) Close() {
	s.wg.Wait()
}

func (s *FileStore) generationDir(domain string, gen uint64) string {
	return filepath.Join(s.root, versionsDirName, domain, generationDirName(gen))
}

func (s *FileStore) nextGeneration(domain string) (uint64, error) {
	gens, err := s.listGenerations(domain)
	if err != nil {
		return 0, err
	}
	if len(gens) == 0 {
		return 1, nil
	}
	return gens[len(gens)-1] + 1, nil
}

func (s *FileStore) listGenerations(domain string) ([]uint64, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, versionsDirName, domain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var gens []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		gen, err := parseGenerationDirName(e.Name())
		if err != nil {
			continue
		}
		gens = append(gens, gen)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// swapLink atomically repoints the domain symlink at the given generation.
func (s *FileStore) swapLink(domain string, gen uint64) error {
	link := filepath.Join(s.root, domain)
	if fi, err := os.Lstat(link); err == nil && fi.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("%w: %s exists and is not a symlink", interfaces.ErrWriteFailed, link)
	}

	// Relative target keeps the root relocatable across mounts. The
	// temporary link is never resolved in place, only renamed, so the
	// target is written relative to the root where it ends up.
	target := filepath.Join(versionsDirName, domain, generationDirName(gen))
	tmp := filepath.Join(s.root, stagingDirName, domain+".link")
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	syncDir(s.root)
	return nil
}

// pruneGenerations removes generations beyond the keep count, never the
// live one.
func (s *FileStore) pruneGenerations(domain string, live uint64) {
	gens, err := s.listGenerations(domain)
	if err != nil || len(gens) <= s.keep {
		return
	}

	for _, gen := range gens[:len(gens)-s.keep] {
		if gen == live {
			continue
		}
		if err := os.RemoveAll(s.generationDir(domain, gen)); err != nil {
			s.log.Warn("Failed to prune old generation",
				slog.String("domain", domain),
				slog.Uint64("generation", gen),
				"err", err)
			continue
		}
		s.log.Debug("Pruned old generation",
			slog.String("domain", domain),
			slog.Uint64("generation", gen))
	}
}

func (s *FileStore) mirrorAsync(domain string, gen uint64, files map[string][]byte) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()

		if err := s.mirror.MirrorGeneration(ctx, domain, gen, files); err != nil {
			s.log.Warn("Bundle mirror upload failed",
				slog.String("mirror", s.mirror.Name()),
				slog.String("domain", domain),
				slog.Uint64("generation", gen),
				"err", err)
			return
		}
		s.log.Debug("Mirrored bundle generation",
			slog.String("mirror", s.mirror.Name()),
			slog.String("domain", domain),
			slog.Uint64("generation", gen))
	}()
}

func generationDirName(gen uint64) string {
	return fmt.Sprintf("%s%06d", generationDirPrefix, gen)
}

func parseGenerationDirName(name string) (uint64, error) {
	if !strings.HasPrefix(name, generationDirPrefix) {
		return 0, fmt.Errorf("not a generation directory: %s", name)
	}
	gen, err := strconv.ParseUint(strings.TrimPrefix(name, generationDirPrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a generation directory: %s", name)
	}
	return gen, nil
}

// chainFromFullChain returns everything after the first PEM block, which is
// the issuer chain stored within fullchain.pem.
func chainFromFullChain(fullchain []byte) []byte {
	block, rest := pem.Decode(fullchain)
	if block == nil {
		return nil
	}
	rest = bytes.TrimSpace(rest)
	if len(rest) == 0 {
		return nil
	}
	chain := append([]byte(nil), rest...)
	return append(chain, '\n')
}

func validateDomain(domain string) error {
	if domain == "" || domain == "." || domain == ".." ||
		strings.ContainsAny(domain, "/\\") || strings.HasPrefix(domain, ".") {
		return fmt.Errorf("%w: invalid domain name %q", interfaces.ErrInvalidConfig, domain)
	}
	return nil
}

// writeFileSync writes data and flushes it to stable storage before
// returning.
func writeFileSync(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir best-effort fsyncs a directory so renames inside it survive a
// crash. Some filesystems do not support it; the rename itself is still
// atomic.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
