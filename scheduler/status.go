package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/lakowske/podserve/interfaces"
)

// Status reports every managed domain in configuration order.
func (s *Scheduler) Status(ctx context.Context) []interfaces.DomainStatus {
	out := make([]interfaces.DomainStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.domainStatus(ctx, s.entries[name]))
	}
	return out
}

// DomainStatus reports a single managed domain.
func (s *Scheduler) DomainStatus(ctx context.Context, domain string) (interfaces.DomainStatus, error) {
	e, ok := s.entries[domain]
	if !ok {
		return interfaces.DomainStatus{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownDomain, domain)
	}
	return s.domainStatus(ctx, e), nil
}

// domainStatus combines stored bundle facts with the entry's runtime state.
// Runtime state takes precedence: a renewing or failed domain reports that
// condition even while its stored bundle is still valid.
func (s *Scheduler) domainStatus(ctx context.Context, e *domainEntry) interfaces.DomainStatus {
	e.mu.Lock()
	st := interfaces.DomainStatus{
		Domain:      e.cfg.Domain,
		Failures:    e.failures,
		NextAttempt: e.nextAttempt,
	}
	renewing := e.renewing
	lastErr := e.lastErr
	e.mu.Unlock()

	if lastErr != nil {
		st.LastError = lastErr.Error()
	}

	bundle, err := s.cfg.Store.Get(ctx, e.cfg.Domain)
	if err == nil {
		st.Generation = bundle.Generation
		st.NotBefore = bundle.IssuedAt
		st.NotAfter = bundle.ExpiresAt
		st.Serial = bundle.Serial
		st.Method = bundle.Method
	}

	now := time.Now()
	switch {
	case renewing:
		st.State = interfaces.StateRenewing
	case lastErr != nil && interfaces.IsTerminal(lastErr):
		st.State = interfaces.StateConfigError
	case st.Failures > 0:
		st.State = interfaces.StateFailedBackoff
	case err != nil:
		// Missing or unreadable bundles need acquisition as urgently as
		// expired ones.
		st.State = interfaces.StateExpired
	case bundle.TimeToExpiry(now) <= 0:
		st.State = interfaces.StateExpired
	case bundle.TimeToExpiry(now) <= e.policy.RenewThreshold():
		st.State = interfaces.StateExpiring
	default:
		st.State = interfaces.StateFresh
	}

	st.Ready = s.cfg.Gate.IsReady(e.cfg.Domain)
	return st
}
