package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lakowske/podserve/cmd/flags"
	"github.com/lakowske/podserve/common"
	"github.com/lakowske/podserve/httpserver"
	"github.com/lakowske/podserve/interfaces"
	"github.com/lakowske/podserve/metrics"
)

var forceFlag = &cli.BoolFlag{
	Name:  "force",
	Usage: "renew regardless of expiry; required to regenerate self-signed certificates",
}
var onceFlag = &cli.BoolFlag{
	Name:  "once",
	Usage: "run a single scheduler pass and exit",
}
var serverFlag = &cli.StringFlag{
	Name:  "server",
	Usage: "read live status from a running serve instance at this base URL",
}
var ocspFlag = &cli.BoolFlag{
	Name:  "ocsp",
	Usage: "query OCSP revocation status for stored ACME bundles",
}

func main() {
	app := &cli.App{
		Name:    "certmgr",
		Usage:   "Acquire, renew, store, and distribute TLS certificate bundles",
		Version: common.Version,
		Flags:   append(append([]cli.Flag{}, flags.ConfigFlags...), flags.CommonFlags...),
		Commands: []*cli.Command{
			initCommand,
			renewCommand,
			checkCommand,
			cronCommand,
			serveCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "Acquire certificates for domains without a valid bundle and distribute them",
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		st, err := buildStack(cCtx, logger)
		if err != nil {
			return commandExit(err)
		}

		ctx, stop := signalContext()
		defer stop()
		return commandExit(initDomains(ctx, st))
	},
}

// initDomains brings every configured domain to a published, distributed
// bundle. Valid bundles are kept; valid but undistributed bundles get their
// permissions and change marker completed; everything else is acquired
// fresh.
func initDomains(ctx context.Context, st *stack) error {
	now := time.Now()
	var errs []error

	for _, d := range st.cfg.Domains {
		b, err := st.store.Get(ctx, d.Name)
		if err == nil && b.TimeToExpiry(now) > 0 {
			if ready, reason := st.gate.Explain(d.Name); !ready {
				st.log.Info("Bundle valid but not distributed, completing distribution",
					slog.String("domain", d.Name), slog.String("reason", reason))
				if err := st.distribute(ctx, d, b.Generation); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
				}
				continue
			}
			st.log.Info("Certificate present and valid, skipping",
				slog.String("domain", d.Name), slog.Uint64("generation", b.Generation))
			continue
		}
		if err != nil && !errors.Is(err, interfaces.ErrBundleNotFound) {
			st.log.Warn("Stored bundle unusable, reacquiring", slog.String("domain", d.Name), "err", err)
		}

		if err := st.sched.RenewNow(ctx, d.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
		}
	}

	return errors.Join(errs...)
}

var renewCommand = &cli.Command{
	Name:  "renew",
	Usage: "Run an immediate renewal check, or force renewal of specific domains",
	Description: "Without flags, renews every domain that is due per its policy. " +
		"--domain limits the run to one domain and renews it even when not due. " +
		"Self-signed certificates are regenerated only with --force.",
	Flags: []cli.Flag{forceFlag},
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		st, err := buildStack(cCtx, logger)
		if err != nil {
			return commandExit(err)
		}

		ctx, stop := signalContext()
		defer stop()

		domain := cCtx.String(flags.DomainFlag.Name)
		if cCtx.Bool(forceFlag.Name) {
			targets := st.cfg.DomainNames()
			if domain != "" {
				targets = []string{domain}
			}
			var errs []error
			for _, name := range targets {
				if err := st.sched.RenewNow(ctx, name); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
			return commandExit(errors.Join(errs...))
		}

		if domain != "" {
			d, err := st.cfg.Find(domain)
			if err != nil {
				return commandExit(err)
			}
			if d.Method.Kind == interfaces.MethodSelfSigned {
				return cli.Exit("self-signed certificates do not auto-renew; pass --force to regenerate", ExitConfig)
			}
			return commandExit(st.sched.RenewNow(ctx, domain))
		}

		return commandExit(st.sched.RunPass(ctx))
	},
}

var checkCommand = &cli.Command{
	Name:  "check",
	Usage: "Report certificate status and expiry without side effects",
	Flags: []cli.Flag{serverFlag, ocspFlag},
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		ctx, stop := signalContext()
		defer stop()
		now := time.Now()

		if base := cCtx.String(serverFlag.Name); base != "" {
			sts, err := httpserver.NewClient(base).Status(ctx)
			if err != nil {
				return commandExit(err)
			}
			if code := printStatus(os.Stdout, sts, now); code != ExitOK {
				return cli.Exit("", code)
			}
			return nil
		}

		st, err := buildStack(cCtx, logger)
		if err != nil {
			return commandExit(err)
		}

		sts := st.sched.Status(ctx)
		code := printStatus(os.Stdout, sts, now)
		if cCtx.Bool(ocspFlag.Name) {
			for _, s := range sts {
				if s.Method.IsACME() && s.Generation > 0 {
					fmt.Printf("%-30s %s\n", s.Domain, ocspLine(ctx, st.store, s.Domain))
				}
			}
		}
		if code != ExitOK {
			return cli.Exit("", code)
		}
		return nil
	},
}

var cronCommand = &cli.Command{
	Name:  "cron",
	Usage: "Run the renewal scheduler continuously without the API server",
	Flags: []cli.Flag{onceFlag},
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		st, err := buildStack(cCtx, logger)
		if err != nil {
			return commandExit(err)
		}

		ctx, stop := signalContext()
		defer stop()

		if cCtx.Bool(onceFlag.Name) {
			return commandExit(st.sched.RunPass(ctx))
		}

		if addr := cCtx.String(flags.MetricsAddrFlag.Name); addr != "" {
			metricsSrv, err := metrics.New(common.PackageName, addr)
			if err != nil {
				return commandExit(err)
			}
			go func() {
				logger.With("metricsAddress", addr).Info("Starting metrics server")
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server failed", "err", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}()
		}

		if err := st.sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return commandExit(err)
		}
		logger.Info("Scheduler stopped")
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the scheduler with the status and trigger HTTP API",
	Flags: []cli.Flag{flags.ListenAddrFlag},
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		st, err := buildStack(cCtx, logger)
		if err != nil {
			return commandExit(err)
		}

		srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), st.sched, st.gate)
		if err != nil {
			return commandExit(err)
		}

		ctx, stop := signalContext()
		defer stop()

		srv.RunInBackground()
		err = st.sched.Run(ctx)
		srv.Shutdown()
		if err != nil && !errors.Is(err, context.Canceled) {
			return commandExit(err)
		}
		logger.Info("Server shutdown complete")
		return nil
	},
}
