package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/lakowske/podserve/interfaces"
)

// Gate implements interfaces.ReadinessGate. A domain is ready once its live
// bundle reads back intact, has not expired, and the notifier has recorded
// that the live generation was fully distributed. Checks are pure reads.
type Gate struct {
	store    interfaces.BundleStore
	notifier *MarkerNotifier
	log      *slog.Logger
	now      func() time.Time
}

// NewGate builds a readiness gate over the given store and notifier.
func NewGate(store interfaces.BundleStore, notifier *MarkerNotifier, log *slog.Logger) *Gate {
	return &Gate{store: store, notifier: notifier, log: log, now: time.Now}
}

// IsReady reports whether the domain's certificate material is safe for a
// consumer to load.
func (g *Gate) IsReady(domain string) bool {
	ready, _ := g.Explain(domain)
	return ready
}

// Explain reports readiness along with the blocking condition, for probe
// responses and logs.
func (g *Gate) Explain(domain string) (bool, string) {
	gen, err := g.store.CurrentGeneration(domain)
	if err != nil {
		return false, "no bundle published"
	}

	bundle, err := g.store.Get(context.Background(), domain)
	if err != nil {
		return false, "bundle unreadable: " + err.Error()
	}
	if !bundle.ExpiresAt.After(g.now()) {
		return false, "bundle expired"
	}

	notified, err := g.notifier.LastNotified(domain)
	if err != nil || notified != gen {
		return false, "distribution pending"
	}

	return true, "ready"
}
