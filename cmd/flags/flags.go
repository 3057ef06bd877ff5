// Package flags holds the CLI flag definitions and setup helpers shared by
// the certmgr commands.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/lakowske/podserve/common"
	"github.com/lakowske/podserve/httpserver"
)

// SetupLogger builds the root logger from the logging flags.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJSONFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUIDFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server configuration from the server
// flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"CERTMGR_CONFIG"},
	Usage:   "path to the TOML manifest declaring domains, methods, and consumers",
}

var BundleRootFlag = &cli.StringFlag{
	Name:    "bundle-root",
	EnvVars: []string{"CERTMGR_BUNDLE_ROOT"},
	Usage:   "certificate store root for the single-domain quick path",
}

var DomainFlag = &cli.StringFlag{
	Name:    "domain",
	EnvVars: []string{"DOMAIN"},
	Usage:   "manage a single domain without a manifest",
}

var EmailFlag = &cli.StringFlag{
	Name:    "email",
	EnvVars: []string{"CERTBOT_EMAIL"},
	Usage:   "ACME account email for the single-domain quick path",
}

var MethodFlag = &cli.StringFlag{
	Name:    "method",
	EnvVars: []string{"CERTBOT_METHOD"},
	Usage:   "acquisition method for the single-domain quick path: self-signed, standalone, webroot, or dns-<provider>",
}

var StagingFlag = &cli.BoolFlag{
	Name:    "staging",
	EnvVars: []string{"CERTBOT_STAGING"},
	Usage:   "order from the CA's staging environment",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "certmgr",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

// CommonFlags are the logging and observability flags every command takes.
var CommonFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

// ConfigFlags select the configuration source: a manifest file or the
// single-domain environment surface.
var ConfigFlags = []cli.Flag{
	ConfigFlag,
	BundleRootFlag,
	DomainFlag,
	EmailFlag,
	MethodFlag,
	StagingFlag,
}
