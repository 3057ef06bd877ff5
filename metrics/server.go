package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the package registry on a dedicated listener, kept
// separate from the API server so scrapes survive API drains.
type MetricsServer struct {
	name string
	srv  *http.Server
}

// New builds a metrics server for the given service name and listen address.
func New(name, listenAddr string) (*MetricsServer, error) {
	if name == "" {
		return nil, errors.New("metrics server requires a service name")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		MaxRequestsInFlight: 4,
	}))

	return &MetricsServer{
		name: name,
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
