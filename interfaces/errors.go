package interfaces

import "errors"

// Acquisition errors. These originate while obtaining certificate material
// from a strategy, before anything touches the store.
var (
	// ErrNetwork is returned when an acquisition attempt fails to reach the
	// CA, a challenge endpoint, or a provider API. Retried with backoff.
	ErrNetwork = errors.New("network failure during acquisition")

	// ErrPortConflict is returned when the standalone challenge listener
	// cannot bind its port because another process holds it.
	ErrPortConflict = errors.New("challenge port already in use")

	// ErrChallengeFailed is returned when the CA rejects a challenge
	// response, typically because validation reached the wrong host.
	ErrChallengeFailed = errors.New("challenge validation failed")

	// ErrPropagationTimeout is returned when a DNS-01 record did not become
	// visible on authoritative nameservers within the propagation window.
	// Retried with longer backoff to allow propagation.
	ErrPropagationTimeout = errors.New("dns record propagation timed out")

	// ErrRateLimited is returned when the CA refuses the order due to rate
	// limits. Retried with backoff; the CA's limits are per-window.
	ErrRateLimited = errors.New("rate limited by certificate authority")

	// ErrCredentialInvalid is returned when provider credentials are
	// missing, unreadable, or rejected. Terminal until configuration changes.
	ErrCredentialInvalid = errors.New("provider credentials invalid")

	// ErrInvalidConfig is returned when an acquisition method or domain
	// configuration is incomplete or contradictory. Terminal until
	// configuration changes.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrWebrootUnavailable is returned when the configured webroot is
	// missing or not writable for challenge files.
	ErrWebrootUnavailable = errors.New("webroot not usable for challenges")
)

// Store errors. These originate while persisting or reading bundles.
var (
	// ErrWriteFailed is returned when a bundle generation could not be
	// written or published. The attempt is abandoned and retried later.
	ErrWriteFailed = errors.New("bundle write failed")

	// ErrVerificationFailed is returned when acquired material is
	// internally inconsistent, for example the certificate does not match
	// the private key or does not cover the domain. The material is
	// discarded and never published.
	ErrVerificationFailed = errors.New("bundle verification failed")

	// ErrChecksumMismatch is returned when stored bundle files no longer
	// match their recorded checksums. The bundle is treated as corrupt and
	// re-acquired.
	ErrChecksumMismatch = errors.New("bundle checksum mismatch")

	// ErrBundleNotFound is returned when no published generation exists for
	// the domain.
	ErrBundleNotFound = errors.New("no bundle stored for domain")
)

// Policy errors. These originate while applying ownership and permissions.
var (
	// ErrNoCommonGroup is returned when the registered private key
	// consumers share no group, so no single group ownership can grant all
	// of them read access. Access is never widened to resolve this.
	ErrNoCommonGroup = errors.New("no common group among private key consumers")

	// ErrPermissionApply is returned when chown or chmod on bundle files
	// fails.
	ErrPermissionApply = errors.New("applying permissions failed")
)

// Scheduling errors.
var (
	// ErrRenewalInProgress is returned when a renewal is requested for a
	// domain whose previous attempt has not finished.
	ErrRenewalInProgress = errors.New("renewal already in progress")

	// ErrUnknownDomain is returned when an operation names a domain that is
	// not under management.
	ErrUnknownDomain = errors.New("domain not managed")
)

// IsTerminal reports whether err is configuration-class: retrying cannot
// succeed until configuration changes, so the scheduler parks the domain in
// a persistent alarm state instead of backing off.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrCredentialInvalid) ||
		errors.Is(err, ErrNoCommonGroup)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return err != nil && !IsTerminal(err)
}

// ForcesReacquisition reports whether err indicates stored or acquired
// material that must not be trusted, so the next attempt starts from a
// fresh acquisition rather than the cached state.
func ForcesReacquisition(err error) bool {
	return errors.Is(err, ErrVerificationFailed) || errors.Is(err, ErrChecksumMismatch)
}
