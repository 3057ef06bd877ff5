// Package metrics exposes the certificate manager's Prometheus collectors
// and the standalone listener that serves them. Collectors are registered on
// a package-private registry so the /metrics endpoint never leaks another
// library's default-registry noise.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry = prometheus.NewRegistry()

	renewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certmgr_renewals_total",
			Help: "Completed renewal attempts by final result.",
		},
		[]string{"domain", "result"},
	)

	certificateExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certmgr_certificate_expiry_timestamp_seconds",
			Help: "Unix time at which the live certificate for a domain expires.",
		},
		[]string{"domain"},
	)

	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certmgr_renewal_consecutive_failures",
			Help: "Consecutive failed renewal attempts for a domain. Reset on success.",
		},
		[]string{"domain"},
	)

	renewalAlarm = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certmgr_renewal_alarm",
			Help: "1 while a domain needs operator attention: retries exhausted or configuration error.",
		},
		[]string{"domain"},
	)

	bundleGeneration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certmgr_bundle_generation",
			Help: "Live bundle generation number for a domain.",
		},
		[]string{"domain"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		renewalsTotal,
		certificateExpiry,
		consecutiveFailures,
		renewalAlarm,
		bundleGeneration,
	)
}

// Registry returns the registry backing /metrics, for tests.
func Registry() *prometheus.Registry {
	return registry
}
