package metrics

import "time"

// RecordRenewal counts a finished renewal attempt for a domain.
func RecordRenewal(domain string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	renewalsTotal.WithLabelValues(domain, result).Inc()
}

// SetCertificateExpiry publishes the live certificate's notAfter for a domain.
func SetCertificateExpiry(domain string, notAfter time.Time) {
	certificateExpiry.WithLabelValues(domain).Set(float64(notAfter.Unix()))
}

// SetBundleGeneration publishes the live generation number for a domain.
func SetBundleGeneration(domain string, generation uint64) {
	bundleGeneration.WithLabelValues(domain).Set(float64(generation))
}

// SetConsecutiveFailures publishes the current failure streak for a domain.
func SetConsecutiveFailures(domain string, failures int) {
	consecutiveFailures.WithLabelValues(domain).Set(float64(failures))
}

// SetRenewalAlarm raises or clears the operator-attention alarm for a domain.
func SetRenewalAlarm(domain string, raised bool) {
	v := 0.0
	if raised {
		v = 1
	}
	renewalAlarm.WithLabelValues(domain).Set(v)
}
