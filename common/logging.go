// Package common provides shared logging setup and build metadata.
package common

import (
	"log/slog"
	"os"
)

// LoggingOpts configures the root logger.
type LoggingOpts struct {
	// Debug enables debug-level messages.
	Debug bool
	// JSON switches to JSON output for log collectors.
	JSON bool
	// Service is added as a 'service' tag to every message.
	Service string
	// Version is added as a 'version' tag to every message.
	Version string
}

// SetupLogger builds the process-wide slog logger. Components receive it by
// injection; none construct their own.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	var logHandler slog.Handler
	if opts.JSON {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	log = slog.New(logHandler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
