package acquisition

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lakowske/podserve/interfaces"
)

// Config assembles an acquisition strategy for one domain.
type Config struct {
	// Method is the acquisition configuration to build a strategy for.
	Method interfaces.AcquisitionMethod

	// AccountDir is where ACME account keys are persisted. Required for
	// ACME methods.
	AccountDir string

	// PropagationTimeout bounds the DNS-01 record propagation wait. Zero
	// means 10 minutes.
	PropagationTimeout time.Duration

	// Log is the structured logger. Required.
	Log *slog.Logger
}

// NewStrategy builds the acquisition strategy selected by cfg.Method.Kind.
// Configuration problems are reported as ErrInvalidConfig.
func NewStrategy(cfg Config) (interfaces.AcquisitionStrategy, error) {
	if err := cfg.Method.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	if cfg.Method.Kind == interfaces.MethodSelfSigned {
		return NewSelfSigned(cfg.Method.ValidityDays, log), nil
	}

	if cfg.AccountDir == "" {
		return nil, fmt.Errorf("%w: acme account directory not set", interfaces.ErrInvalidConfig)
	}

	fulfiller, err := newFulfiller(cfg, log)
	if err != nil {
		return nil, err
	}

	return &acmeAcquirer{
		kind:      cfg.Method.Kind,
		method:    cfg.Method,
		fulfiller: fulfiller,
		accounts:  &accountStore{dir: cfg.AccountDir, log: log},
		newClient: defaultClientFactory,
		log:       log,
	}, nil
}

func newFulfiller(cfg Config, log *slog.Logger) (challengeFulfiller, error) {
	switch cfg.Method.Kind {
	case interfaces.MethodACMEStandalone:
		port := cfg.Method.HTTPPort
		if port == 0 {
			port = 80
		}
		return &standaloneFulfiller{port: port}, nil

	case interfaces.MethodACMEWebroot:
		return &webrootFulfiller{path: cfg.Method.WebrootPath}, nil

	case interfaces.MethodACMEDNS:
		if cfg.Method.Provider != ProviderCloudflare {
			return nil, fmt.Errorf("%w: unsupported dns provider %q", interfaces.ErrInvalidConfig, cfg.Method.Provider)
		}
		ref, err := interfaces.ParseCredentialRef(cfg.Method.CredentialsRef)
		if err != nil {
			return nil, err
		}
		return &dnsFulfiller{
			provider:    cfg.Method.Provider,
			credentials: ref,
			resolver:    NewCredentialResolver(log),
			checker:     newTXTChecker(log),
			timeout:     cfg.PropagationTimeout,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown acquisition method %q", interfaces.ErrInvalidConfig, cfg.Method.Kind)
	}
}
