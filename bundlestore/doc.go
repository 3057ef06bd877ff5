// Package bundlestore provides versioned, crash-safe storage of per-domain
// certificate bundles on the local filesystem, with optional off-host
// mirroring of published generations.
//
// # Layout
//
// Each domain's live bundle is a directory symlink that consumers mount
// read-only:
//
//	<root>/<domain>                  -> .versions/<domain>/gen-000003
//	<root>/.versions/<domain>/gen-000003/
//	    cert.pem        leaf certificate
//	    privkey.pem     private key
//	    fullchain.pem   leaf plus issuer chain
//	    manifest.toml   generation metadata
//	    SHA256SUMS      digests of the files above
//	<root>/.staging/                 in-flight writes
//
// # Publication protocol
//
// A new generation is written completely into the staging area, fsynced,
// renamed into .versions, and only then made live by atomically replacing
// the domain symlink. A reader that resolved the symlink before the swap
// keeps a consistent view of the previous generation; a reader after the
// swap sees the new one. No ordering of reader and writer can observe a
// half-written bundle. Retained generations beyond the configured keep
// count are pruned after each publication.
//
// Checksums recorded at publication are re-verified on every read, and the
// stored leaf must still cover the domain; a failed check marks the bundle
// unusable and forces re-acquisition rather than serving damaged material.
package bundlestore
