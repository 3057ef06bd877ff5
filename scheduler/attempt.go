package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakowske/podserve/interfaces"
	"github.com/lakowske/podserve/metrics"
)

// acquireResult carries a strategy outcome across the deadline watchdog.
type acquireResult struct {
	material interfaces.RawCertMaterial
	err      error
}

// runAttempt executes the full renewal pipeline for one domain: acquire,
// publish, apply permissions, notify. The caller holds the domain's
// renewing flag. The outcome is recorded on the entry and in metrics unless
// ctx was cancelled from outside.
func (s *Scheduler) runAttempt(ctx context.Context, e *domainEntry) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	domain := e.cfg.Domain
	kind := e.cfg.Strategy.Kind()
	log := s.log.With(slog.String("domain", domain), slog.String("method", kind.String()))
	log.Info("Starting renewal attempt")

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	material, err := s.acquire(attemptCtx, e)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a strategy failure. Retry state stays untouched.
			log.Info("Renewal attempt abandoned by shutdown")
			return ctx.Err()
		}
		s.recordFailure(e, err, log)
		return err
	}

	// Publication must not be torn by shutdown or the attempt deadline. The
	// store swap is atomic either way, but once a generation goes live the
	// consumers still need permissions and the change signal.
	distCtx := context.WithoutCancel(ctx)

	bundle, err := s.cfg.Store.Put(distCtx, domain, material, kind)
	if err != nil {
		s.recordFailure(e, err, log)
		return err
	}
	if err := s.cfg.AccessPolicy.Apply(distCtx, domain, s.cfg.Store.BundleDir(domain), e.cfg.Consumers); err != nil {
		s.recordFailure(e, err, log)
		return err
	}
	if err := s.cfg.Notifier.Notify(distCtx, domain, bundle.Generation); err != nil {
		s.recordFailure(e, err, log)
		return err
	}

	s.recordSuccess(e, bundle, log)
	return nil
}

// acquire runs the strategy under the attempt deadline. A strategy that
// ignores cancellation keeps running in its goroutine; its late result is
// discarded and the attempt fails as a network-class timeout.
func (s *Scheduler) acquire(ctx context.Context, e *domainEntry) (interfaces.RawCertMaterial, error) {
	res := make(chan acquireResult, 1)
	go func() {
		m, err := e.cfg.Strategy.Acquire(ctx, e.cfg.Domain)
		res <- acquireResult{material: m, err: err}
	}()

	select {
	case r := <-res:
		return r.material, r.err
	case <-ctx.Done():
		return interfaces.RawCertMaterial{}, fmt.Errorf("%w: attempt deadline exceeded for %s", interfaces.ErrNetwork, e.cfg.Domain)
	}
}

// recordFailure advances the domain's retry state after a failed attempt
// and schedules the next one.
func (s *Scheduler) recordFailure(e *domainEntry, attemptErr error, log *slog.Logger) {
	now := time.Now()

	e.mu.Lock()
	e.failures++
	e.lastErr = attemptErr
	switch {
	case interfaces.IsTerminal(attemptErr):
		// Retrying cannot help until configuration changes.
		e.alarm = true
		e.nextAttempt = time.Time{}
	case e.failures >= e.policy.MaxRetries:
		e.alarm = true
		e.nextAttempt = now.Add(exhaustedRetryInterval)
	default:
		e.nextAttempt = now.Add(e.backoff.NextBackOff())
	}
	failures := e.failures
	alarm := e.alarm
	next := e.nextAttempt
	e.mu.Unlock()

	domain := e.cfg.Domain
	metrics.RecordRenewal(domain, attemptErr)
	metrics.SetConsecutiveFailures(domain, failures)
	metrics.SetRenewalAlarm(domain, alarm)

	switch {
	case interfaces.IsTerminal(attemptErr):
		log.Error("Renewal failed on configuration, not retrying until it changes",
			"err", attemptErr, slog.Int("failures", failures))
	case alarm:
		log.Error("Renewal retries exhausted, dropping to daily attempts",
			"err", attemptErr, slog.Int("failures", failures), slog.Time("next_attempt", next))
	default:
		log.Warn("Renewal attempt failed, backing off",
			"err", attemptErr, slog.Int("failures", failures), slog.Time("next_attempt", next))
	}
}

// recordSuccess clears the domain's retry state after a published bundle.
func (s *Scheduler) recordSuccess(e *domainEntry, bundle *interfaces.CertificateBundle, log *slog.Logger) {
	e.mu.Lock()
	e.failures = 0
	e.lastErr = nil
	e.nextAttempt = time.Time{}
	e.alarm = false
	e.backoff.Reset()
	e.mu.Unlock()

	domain := e.cfg.Domain
	metrics.RecordRenewal(domain, nil)
	metrics.SetCertificateExpiry(domain, bundle.ExpiresAt)
	metrics.SetBundleGeneration(domain, bundle.Generation)
	metrics.SetConsecutiveFailures(domain, 0)
	metrics.SetRenewalAlarm(domain, false)

	log.Info("Certificate renewed and distributed",
		slog.Uint64("generation", bundle.Generation),
		slog.Time("not_after", bundle.ExpiresAt))
}
