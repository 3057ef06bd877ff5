// Package interfaces defines core interfaces and types for the certificate
// lifecycle system, separating interface definitions from implementations.
//
// The package provides interfaces for the key components of the system:
//
// # Lifecycle Interfaces
//
// BundleStore: Versioned, crash-safe storage for per-domain certificate
// bundles. Writers publish complete generations atomically; readers always
// observe a consistent cert/key/chain triple.
//
// AcquisitionStrategy: Produces raw certificate material for a domain.
// Implementations cover self-signed issuance and ACME issuance with
// HTTP-01, DNS-01, and webroot challenge fulfillment.
//
// AccessPolicy: Applies filesystem ownership and permissions so that
// independently-owned consumer processes can read exactly the material
// they are entitled to.
//
// ChangeNotifier: Signals consumers that a new bundle generation has been
// published and distributed. Delivery is at-least-once.
//
// # Core Types
//
// The package also defines the value types shared across components:
//
//   - CertificateBundle: Parsed, versioned certificate material for a domain
//   - RawCertMaterial: PEM triple produced by acquisition before storage
//   - AcquisitionMethod: Validated configuration for one acquisition strategy
//   - RenewalPolicy: Expiry thresholds and retry/backoff tuning
//   - ConsumerRegistration: A consumer process and its access requirements
//   - CredentialRef: URI reference to out-of-band provider credentials
//   - DomainState/DomainStatus: Renewal state machine surface for reporting
//
// # Error Taxonomy
//
// Sentinel errors classify every failure by origin (acquisition, store,
// policy, scheduling) and by handling class. IsTerminal reports errors that
// require a configuration change and must not be retried; everything else
// is retried with backoff by the scheduler.
package interfaces
