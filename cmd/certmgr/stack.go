package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/lakowske/podserve/acquisition"
	"github.com/lakowske/podserve/bundlestore"
	"github.com/lakowske/podserve/cmd/flags"
	"github.com/lakowske/podserve/config"
	"github.com/lakowske/podserve/interfaces"
	"github.com/lakowske/podserve/notify"
	"github.com/lakowske/podserve/policy"
	"github.com/lakowske/podserve/scheduler"
)

// stack is the fully wired certificate management pipeline.
type stack struct {
	cfg      *config.Config
	store    *bundlestore.FileStore
	engine   *policy.Engine
	notifier *notify.MarkerNotifier
	gate     *notify.Gate
	sched    *scheduler.Scheduler
	log      *slog.Logger
}

// resolveConfig picks the configuration source: a manifest file when
// --config is given, otherwise the single-domain quick path from --domain
// and its companions.
func resolveConfig(cCtx *cli.Context) (*config.Config, error) {
	if path := cCtx.String(flags.ConfigFlag.Name); path != "" {
		if cCtx.String(flags.BundleRootFlag.Name) != "" {
			return nil, fmt.Errorf("%w: --bundle-root applies only to the single-domain quick path; set bundle_root in the manifest",
				interfaces.ErrInvalidConfig)
		}
		return config.Load(path)
	}

	domain := cCtx.String(flags.DomainFlag.Name)
	if domain == "" {
		return nil, fmt.Errorf("%w: provide --config or --domain", interfaces.ErrInvalidConfig)
	}

	cfg, err := config.SingleDomain(domain,
		cCtx.String(flags.EmailFlag.Name),
		cCtx.String(flags.MethodFlag.Name),
		cCtx.Bool(flags.StagingFlag.Name))
	if err != nil {
		return nil, err
	}
	if root := cCtx.String(flags.BundleRootFlag.Name); root != "" {
		cfg.BundleRoot = root
		cfg.AccountDir = filepath.Join(root, config.DefaultACMEDirName)
	}
	return cfg, nil
}

// buildStack resolves configuration and wires store, policy engine,
// notifier, readiness gate, acquisition strategies, and the scheduler.
func buildStack(cCtx *cli.Context, log *slog.Logger) (*stack, error) {
	cfg, err := resolveConfig(cCtx)
	if err != nil {
		return nil, err
	}

	var mirror bundlestore.Mirror
	if cfg.Mirror != nil {
		s3, err := bundlestore.NewS3Mirror(cfg.Mirror.Bucket, cfg.Mirror.Prefix, cfg.Mirror.Region,
			cfg.Mirror.Endpoint, cfg.Mirror.AccessKey, cfg.Mirror.SecretKey, log)
		if err != nil {
			return nil, err
		}
		mirror = s3
	}

	store, err := bundlestore.NewFileStore(bundlestore.Config{
		Root:            cfg.BundleRoot,
		KeepGenerations: cfg.KeepGenerations,
		Mirror:          mirror,
		Log:             log,
	})
	if err != nil {
		return nil, err
	}

	notifier, err := notify.NewMarkerNotifier(cfg.BundleRoot, log)
	if err != nil {
		return nil, err
	}
	gate := notify.NewGate(store, notifier, log)
	engine := policy.NewEngine(log)

	domains := make([]scheduler.DomainConfig, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		strategy, err := acquisition.NewStrategy(acquisition.Config{
			Method:             d.Method,
			AccountDir:         cfg.AccountDir,
			PropagationTimeout: cfg.PropagationTimeout,
			Log:                log,
		})
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", d.Name, err)
		}
		domains = append(domains, scheduler.DomainConfig{
			Domain:    d.Name,
			Strategy:  strategy,
			Policy:    d.Policy,
			Consumers: d.Consumers,
		})
	}

	sched, err := scheduler.New(scheduler.Config{
		Store:          store,
		AccessPolicy:   engine,
		Notifier:       notifier,
		Gate:           gate,
		Domains:        domains,
		TickInterval:   cfg.TickInterval,
		UrgentInterval: cfg.UrgentInterval,
		AttemptTimeout: cfg.AttemptTimeout,
		Workers:        cfg.Workers,
		Log:            log,
	})
	if err != nil {
		return nil, err
	}

	return &stack{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		notifier: notifier,
		gate:     gate,
		sched:    sched,
		log:      log,
	}, nil
}

// distribute applies consumer permissions to the domain's live bundle
// directory and records the change marker, without re-acquiring material.
func (s *stack) distribute(ctx context.Context, d config.Domain, generation uint64) error {
	if err := s.engine.Apply(ctx, d.Name, s.store.BundleDir(d.Name), d.Consumers); err != nil {
		return err
	}
	return s.notifier.Notify(ctx, d.Name, generation)
}
