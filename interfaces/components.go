package interfaces

import "context"

// BundleStore provides versioned, crash-safe storage of per-domain
// certificate bundles. A Put publishes a complete new generation atomically;
// at every instant readers resolve either the previous generation or the new
// one, never a partial mix.
type BundleStore interface {
	// Put verifies material and publishes it as the domain's next
	// generation. Returns the published bundle.
	Put(ctx context.Context, domain string, material RawCertMaterial, method MethodKind) (*CertificateBundle, error)

	// Get reads the domain's live generation, verifying checksums and
	// re-parsing the leaf certificate.
	Get(ctx context.Context, domain string) (*CertificateBundle, error)

	// CurrentGeneration returns the live generation number without reading
	// bundle contents.
	CurrentGeneration(domain string) (uint64, error)

	// ListDomains returns every domain with at least one stored generation.
	ListDomains() ([]string, error)

	// ListGenerations returns the retained generation numbers, ascending.
	ListGenerations(domain string) ([]uint64, error)

	// Remove deletes all stored generations for a domain.
	Remove(ctx context.Context, domain string) error

	// BundleDir returns the stable path consumers mount for the domain's
	// live bundle.
	BundleDir(domain string) string
}

// AcquisitionStrategy produces raw certificate material for a domain.
// Acquire honors ctx cancellation and deadline; the caller imposes the
// wall-clock attempt budget.
type AcquisitionStrategy interface {
	// Acquire obtains a certificate, private key and chain for the domain.
	Acquire(ctx context.Context, domain string) (RawCertMaterial, error)

	// Kind identifies the strategy for logging and stored metadata.
	Kind() MethodKind
}

// AccessPolicy applies ownership and permissions to a published bundle
// directory so each registered consumer can read what it needs and nothing
// more. Apply is idempotent; re-applying over correct state performs no
// filesystem writes.
type AccessPolicy interface {
	// Apply sets ownership and modes on the bundle files in dir for the
	// given consumers.
	Apply(ctx context.Context, domain string, dir string, consumers []ConsumerRegistration) error
}

// ChangeNotifier signals consumers that a bundle generation has been
// published and its permissions applied. Delivery is at-least-once; a signal
// carries the generation so consumers can deduplicate.
type ChangeNotifier interface {
	// Notify records that generation is fully distributed for the domain.
	Notify(ctx context.Context, domain string, generation uint64) error
}

// ReadinessGate answers whether a domain's certificate material is safe for
// a consumer to load. The check is cheap and free of side effects so
// consumers can poll it during startup.
type ReadinessGate interface {
	// IsReady reports whether the domain's live bundle exists, has not
	// expired, and has been fully distributed.
	IsReady(domain string) bool
}
