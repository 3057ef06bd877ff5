// Package acquisition produces certificate material for managed domains.
//
// NewStrategy builds the strategy for a validated acquisition method:
//
//   - self-signed: local ECDSA issuance, no network access.
//   - acme-standalone: ACME order answering HTTP-01 challenges on a
//     dedicated listener, with a preflight bind probe so a port held by
//     another process is reported as ErrPortConflict before the order
//     starts.
//   - acme-dns: ACME order answering DNS-01 challenges through a DNS
//     provider API. Provider credentials are resolved out of band via
//     file://, env:// or vault:// references, and record propagation is
//     verified against the zone's authoritative nameservers before the CA
//     is asked to validate.
//   - acme-webroot: ACME order placing HTTP-01 challenge files under an
//     already-served document root, with a writability probe reported as
//     ErrWebrootUnavailable.
//
// All ACME kinds share one acquirer built on go-acme/lego: a persistent
// ECDSA account key per contact email, idempotent account registration,
// and a bundled certificate order. Challenge specifics are injected
// through the challengeFulfiller interface, and the lego client itself is
// constructed through a factory so tests can substitute the entire ACME
// conversation.
//
// Failures are classified into the shared error taxonomy (ErrNetwork,
// ErrRateLimited, ErrChallengeFailed, ErrPropagationTimeout,
// ErrCredentialInvalid, ErrInvalidConfig) so the scheduler can decide
// between backoff and terminal alarm without string matching.
package acquisition
