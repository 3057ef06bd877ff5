// Package cryptoutils provides certificate handling primitives for the
// certificate lifecycle system.
//
// It covers three concerns:
//
//   - Issuance: IssueSelfSigned generates an ECDSA P-256 key pair and a
//     self-signed server certificate covering a domain and its wildcard.
//
//   - Verification: VerifyMaterial checks that an acquired cert/key/chain
//     triple is internally consistent (key matches certificate, certificate
//     covers the domain, chain parses) before it may be published.
//     ParseCertInfo extracts the summary fields used for renewal decisions
//     and status reporting.
//
//   - Revocation: CheckOCSP queries the issuing CA's OCSP responder for a
//     certificate's revocation status.
//
// The package has no dependencies on the rest of the system; everything
// operates on PEM byte slices.
//
// # Usage Example
//
//	certPEM, keyPEM, err := cryptoutils.IssueSelfSigned("test.local", 365*24*time.Hour)
//	if err != nil {
//	    log.Fatalf("Failed to issue: %v", err)
//	}
//
//	// Verify before publishing
//	if err := cryptoutils.VerifyMaterial(keyPEM, certPEM, nil, "test.local"); err != nil {
//	    log.Fatalf("Material inconsistent: %v", err)
//	}
//
//	info, _ := cryptoutils.ParseCertInfo(certPEM)
//	fmt.Println("expires:", info.NotAfter)
package cryptoutils
