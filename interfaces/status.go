package interfaces

import (
	"fmt"
	"time"
)

// DomainState is the renewal state machine position of a managed domain.
type DomainState string

const (
	// StateFresh means the bundle is valid with comfortable margin.
	StateFresh DomainState = "fresh"
	// StateExpiring means remaining validity is below the renewal
	// threshold; renewal is due.
	StateExpiring DomainState = "expiring"
	// StateExpired means the bundle's notAfter has passed. Same transition
	// rules as expiring, raised urgency.
	StateExpired DomainState = "expired"
	// StateRenewing means an acquisition attempt is running.
	StateRenewing DomainState = "renewing"
	// StateFailedBackoff means consecutive attempts exhausted MaxRetries;
	// the domain retries on a long interval with an alarm raised.
	StateFailedBackoff DomainState = "failed-backoff"
	// StateConfigError means the domain hit a configuration-class error and
	// will not be retried until configuration changes.
	StateConfigError DomainState = "config-error"
)

// String returns the state name.
func (s DomainState) String() string { return string(s) }

// DomainStatus is the externally visible condition of one managed domain,
// combining stored bundle facts with scheduler state.
type DomainStatus struct {
	Domain string      `json:"domain"`
	State  DomainState `json:"state"`

	// Bundle facts; zero when no bundle is stored.
	Generation uint64     `json:"generation,omitempty"`
	NotBefore  time.Time  `json:"not_before,omitempty"`
	NotAfter   time.Time  `json:"not_after,omitempty"`
	Serial     string     `json:"serial,omitempty"`
	Method     MethodKind `json:"method,omitempty"`

	// Scheduler facts.
	Failures    int       `json:"failures,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`

	// Ready mirrors the readiness gate: bundle present, valid, and fully
	// distributed to consumers.
	Ready bool `json:"ready"`
}

// DaysLeft returns whole days of remaining validity relative to now,
// negative once expired.
func (s DomainStatus) DaysLeft(now time.Time) int {
	return int(s.NotAfter.Sub(now).Hours() / 24)
}

// Summary renders the one-line operator report for the domain.
func (s DomainStatus) Summary(now time.Time) string {
	switch s.State {
	case StateFresh:
		return fmt.Sprintf("valid(expires in %dd)", s.DaysLeft(now))
	case StateExpiring:
		return fmt.Sprintf("expiring-soon(expires in %dd)", s.DaysLeft(now))
	case StateExpired:
		return "expired"
	case StateRenewing:
		return "renewing"
	case StateFailedBackoff:
		retryIn := time.Duration(0)
		if !s.NextAttempt.IsZero() && s.NextAttempt.After(now) {
			retryIn = s.NextAttempt.Sub(now).Round(time.Second)
		}
		return fmt.Sprintf("renewal-failed(%s, retry-in %s)", s.LastError, retryIn)
	case StateConfigError:
		return fmt.Sprintf("config-error(%s)", s.LastError)
	default:
		return string(s.State)
	}
}
