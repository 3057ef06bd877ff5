package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakowske/podserve/cryptoutils"
	"github.com/lakowske/podserve/interfaces"
)

// SelfSigned issues locally generated self-signed certificates. No network
// round trips are involved, so acquisition cannot fail transiently.
type SelfSigned struct {
	validity time.Duration
	log      *slog.Logger
}

// NewSelfSigned returns a strategy issuing certificates valid for the given
// number of days. Non-positive validity falls back to one year.
func NewSelfSigned(validityDays int, log *slog.Logger) *SelfSigned {
	if validityDays <= 0 {
		validityDays = 365
	}
	return &SelfSigned{
		validity: time.Duration(validityDays) * 24 * time.Hour,
		log:      log,
	}
}

func (s *SelfSigned) Kind() interfaces.MethodKind { return interfaces.MethodSelfSigned }

func (s *SelfSigned) Acquire(ctx context.Context, domain string) (interfaces.RawCertMaterial, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.RawCertMaterial{}, err
	}

	certPEM, keyPEM, err := cryptoutils.IssueSelfSigned(domain, s.validity)
	if err != nil {
		return interfaces.RawCertMaterial{}, fmt.Errorf("issuing self-signed certificate: %w", err)
	}

	s.log.Info("Issued self-signed certificate",
		slog.String("domain", domain),
		slog.Duration("validity", s.validity))

	// Self-signed leaves carry no issuer chain.
	return interfaces.RawCertMaterial{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}
