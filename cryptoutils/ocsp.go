package cryptoutils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// ErrNoOCSPResponder is returned when the certificate carries no OCSP
// responder URL, which is always the case for self-signed certificates.
var ErrNoOCSPResponder = errors.New("certificate has no ocsp responder")

// OCSPStatus is the revocation state reported by the issuing CA's
// responder.
type OCSPStatus struct {
	Status     string // good, revoked, or unknown
	Revoked    bool
	RevokedAt  time.Time
	ThisUpdate time.Time
	NextUpdate time.Time
	Responder  string
}

// CheckOCSP queries the certificate's OCSP responder for revocation status.
// issuerPEM must contain the issuing certificate, typically the first entry
// of the bundle chain. A nil client falls back to http.DefaultClient.
func CheckOCSP(ctx context.Context, client *http.Client, certPEM, issuerPEM []byte) (*OCSPStatus, error) {
	cert, err := ParseLeafCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	if len(cert.OCSPServer) == 0 {
		return nil, ErrNoOCSPResponder
	}

	issuer, err := ParseLeafCertificate(issuerPEM)
	if err != nil {
		return nil, fmt.Errorf("issuer certificate: %w", err)
	}

	reqDER, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ocsp request: %w", err)
	}

	if client == nil {
		client = http.DefaultClient
	}

	responder := cert.OCSPServer[0]
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, responder, bytes.NewReader(reqDER))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ocsp responder unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocsp responder returned status %d", httpResp.StatusCode)
	}

	respDER, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	parsed, err := ocsp.ParseResponseForCert(respDER, cert, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ocsp response: %w", err)
	}

	status := &OCSPStatus{
		ThisUpdate: parsed.ThisUpdate,
		NextUpdate: parsed.NextUpdate,
		Responder:  responder,
	}
	switch parsed.Status {
	case ocsp.Good:
		status.Status = "good"
	case ocsp.Revoked:
		status.Status = "revoked"
		status.Revoked = true
		status.RevokedAt = parsed.RevokedAt
	default:
		status.Status = "unknown"
	}
	return status, nil
}
