package acquisition

import (
	"context"
	"fmt"
	"time"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/providers/dns/cloudflare"

	"github.com/lakowske/podserve/interfaces"
)

// ProviderCloudflare is the supported DNS provider name for DNS-01 orders.
const ProviderCloudflare = "cloudflare"

const defaultPropagationTimeout = 10 * time.Minute

// dnsFulfiller answers DNS-01 challenges through a DNS provider API.
// Credentials are resolved during preflight so missing or unreadable
// credentials fail the attempt with the right class before the CA is
// contacted.
type dnsFulfiller struct {
	provider    string
	credentials interfaces.CredentialRef
	resolver    *CredentialResolver
	checker     *txtChecker
	timeout     time.Duration

	// dnsProvider is built by Preflight and consumed by Attach.
	dnsProvider challenge.Provider
}

func (f *dnsFulfiller) Preflight(ctx context.Context) error {
	token, err := f.resolver.Resolve(ctx, f.credentials)
	if err != nil {
		return err
	}

	provider, err := newDNSProvider(f.provider, token, f.propagationTimeout())
	if err != nil {
		return err
	}
	f.dnsProvider = provider
	return nil
}

func (f *dnsFulfiller) Attach(client acmeClient) error {
	opts := []dns01.ChallengeOption{dns01.AddDNSTimeout(10 * time.Second)}
	if f.checker != nil {
		opts = append(opts, dns01.WrapPreCheck(f.checker.wrap))
	}
	if err := client.SetDNS01Provider(f.dnsProvider, opts...); err != nil {
		return fmt.Errorf("configuring dns-01 provider: %w", err)
	}
	return nil
}

func (f *dnsFulfiller) propagationTimeout() time.Duration {
	if f.timeout > 0 {
		return f.timeout
	}
	return defaultPropagationTimeout
}

// newDNSProvider builds the lego challenge provider for a named DNS service.
func newDNSProvider(name, token string, propagation time.Duration) (challenge.Provider, error) {
	switch name {
	case ProviderCloudflare:
		cfg := cloudflare.NewDefaultConfig()
		cfg.AuthToken = token
		cfg.PropagationTimeout = propagation
		provider, err := cloudflare.NewDNSProviderConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: cloudflare provider: %v", interfaces.ErrCredentialInvalid, err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("%w: unsupported dns provider %q", interfaces.ErrInvalidConfig, name)
	}
}
