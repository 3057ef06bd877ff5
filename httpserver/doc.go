/*
Package httpserver exposes the certificate manager's operational API: domain
status, manual renewal triggers, and the readiness probes consumer processes
poll before loading certificate material.

The server is deliberately small. Renewal decisions live in the scheduler;
this package translates HTTP requests into RenewalManager calls and renders
the results. A renewal trigger returns 202 Accepted as soon as the attempt
has begun; its outcome is observed through the status endpoints rather than
by holding the request open for a full ACME exchange.

# Endpoints

  - GET /api/v1/status - All managed domains with state and bundle facts
  - GET /api/v1/status/{domain} - One managed domain
  - POST /api/v1/renew/{domain} - Trigger a renewal attempt
    (202 started, 409 attempt already in flight, 404 unknown domain)
  - GET /livez - Liveness check
  - GET /readyz - Aggregate readiness: not draining and every domain ready
  - GET /readyz/{domain} - Per-domain readiness with the blocking reason
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

A Prometheus endpoint is served on its own listener when MetricsAddr is set,
and pprof is mounted under /debug when enabled.

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}

	server, err := httpserver.New(cfg, sched, gate)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
