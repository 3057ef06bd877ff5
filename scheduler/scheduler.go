package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"

	"github.com/lakowske/podserve/interfaces"
)

const (
	// DefaultTickInterval is how often the loop re-evaluates all domains.
	DefaultTickInterval = 12 * time.Hour

	// DefaultUrgentInterval replaces the tick interval while any domain is
	// expired or has no usable bundle.
	DefaultUrgentInterval = time.Hour

	// DefaultAttemptTimeout bounds the acquisition phase of one attempt.
	DefaultAttemptTimeout = 120 * time.Second

	// DefaultWorkers is the size of the renewal worker pool.
	DefaultWorkers = 2

	// MaxWorkers caps the pool regardless of configuration.
	MaxWorkers = 4

	// exhaustedRetryInterval is the long retry interval once a domain has
	// used up its MaxRetries budget.
	exhaustedRetryInterval = 24 * time.Hour

	// minWake floors timer resets when a retry is already overdue.
	minWake = time.Second
)

// Config wires the scheduler to the components it drives.
type Config struct {
	// Store persists and publishes certificate bundles.
	Store interfaces.BundleStore
	// AccessPolicy applies consumer ownership and modes after publication.
	AccessPolicy interfaces.AccessPolicy
	// Notifier records change notifications once permissions are applied.
	Notifier interfaces.ChangeNotifier
	// Gate answers readiness for status reporting.
	Gate interfaces.ReadinessGate

	// Domains are the managed domains. At least one is required.
	Domains []DomainConfig

	// TickInterval is the regular evaluation period. Defaults to 12h.
	TickInterval time.Duration
	// UrgentInterval is the evaluation period while any domain is expired
	// or missing its bundle. Defaults to 1h.
	UrgentInterval time.Duration
	// AttemptTimeout bounds the acquisition phase of one renewal attempt.
	// Defaults to 120s.
	AttemptTimeout time.Duration
	// Workers sizes the renewal worker pool. Defaults to 2, capped at 4.
	Workers int

	// Log is the structured logger for scheduler events.
	Log *slog.Logger
}

// DomainConfig describes one managed domain.
type DomainConfig struct {
	// Domain is the fully qualified name the certificate covers.
	Domain string
	// Strategy produces certificate material for the domain.
	Strategy interfaces.AcquisitionStrategy
	// Policy tunes renewal timing and retries. Zero fields take defaults.
	Policy interfaces.RenewalPolicy
	// Consumers receive read access to published bundles.
	Consumers []interfaces.ConsumerRegistration
}

// domainEntry is the runtime renewal state of one managed domain. All
// mutable fields are guarded by mu.
type domainEntry struct {
	cfg    DomainConfig
	policy interfaces.RenewalPolicy

	mu          sync.Mutex
	renewing    bool
	failures    int
	lastErr     error
	nextAttempt time.Time
	alarm       bool
	backoff     *backoff.ExponentialBackOff
}

func newDomainEntry(cfg DomainConfig) *domainEntry {
	pol := cfg.Policy.Normalized()

	// MaxElapsedTime of zero disables the wall-clock cutoff; the retry
	// budget is MaxRetries. Zero randomization keeps retry times exact.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pol.BackoffBase
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = pol.BackoffCap
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &domainEntry{cfg: cfg, policy: pol, backoff: bo}
}

// begin claims the domain's single renewal slot. Returns false when an
// attempt is already in flight.
func (e *domainEntry) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.renewing {
		return false
	}
	e.renewing = true
	return true
}

func (e *domainEntry) finish() {
	e.mu.Lock()
	e.renewing = false
	e.mu.Unlock()
}

// Scheduler owns per-domain renewal state and runs the evaluation loop.
type Scheduler struct {
	cfg Config
	log *slog.Logger

	entries map[string]*domainEntry
	order   []string

	// sem bounds concurrently running attempts across all domains.
	sem chan struct{}
	// kick wakes the Run loop when an attempt settles, so the next timer
	// reset derives from recorded outcomes.
	kick   chan struct{}
	urgent atomic.Bool
}

// New validates the configuration and builds a scheduler. No goroutines
// start until Run.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil || cfg.AccessPolicy == nil || cfg.Notifier == nil || cfg.Gate == nil {
		return nil, fmt.Errorf("%w: scheduler requires store, access policy, notifier and gate", interfaces.ErrInvalidConfig)
	}
	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("%w: no domains to manage", interfaces.ErrInvalidConfig)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.UrgentInterval <= 0 {
		cfg.UrgentInterval = DefaultUrgentInterval
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Workers > MaxWorkers {
		cfg.Workers = MaxWorkers
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	s := &Scheduler{
		cfg:     cfg,
		log:     cfg.Log,
		entries: make(map[string]*domainEntry, len(cfg.Domains)),
		sem:     make(chan struct{}, cfg.Workers),
		kick:    make(chan struct{}, 1),
	}
	for _, dc := range cfg.Domains {
		if dc.Domain == "" {
			return nil, fmt.Errorf("%w: domain name missing", interfaces.ErrInvalidConfig)
		}
		if dc.Strategy == nil {
			return nil, fmt.Errorf("%w: %s has no acquisition strategy", interfaces.ErrInvalidConfig, dc.Domain)
		}
		if _, dup := s.entries[dc.Domain]; dup {
			return nil, fmt.Errorf("%w: duplicate domain %s", interfaces.ErrInvalidConfig, dc.Domain)
		}
		s.entries[dc.Domain] = newDomainEntry(dc)
		s.order = append(s.order, dc.Domain)
	}

	return s, nil
}

// Run executes the renewal loop until ctx is cancelled. The first
// evaluation pass starts immediately. The loop never blocks on acquisition:
// attempts run on the worker pool, and each settled attempt wakes the loop
// so the timer is recomputed from the recorded outcome. Cancellation aborts
// the acquisition phase of in-flight attempts while publication always
// completes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("Renewal scheduler started",
		slog.Int("domains", len(s.order)),
		slog.Int("workers", cap(s.sem)),
		slog.Duration("tick_interval", s.cfg.TickInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Renewal scheduler stopping")
			return ctx.Err()
		case <-timer.C:
			s.dispatchDue(ctx)
			timer.Reset(s.nextWake(time.Now()))
		case <-s.kick:
			timer.Reset(s.nextWake(time.Now()))
		}
	}
}

// RunPass evaluates every domain once, renews those due, and waits for the
// launched attempts to finish. It serves one-shot invocations; the periodic
// loop is Run.
func (s *Scheduler) RunPass(ctx context.Context) error {
	now := time.Now()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range s.order {
		e := s.entries[name]
		if due, _ := s.evaluate(ctx, e, now); !due {
			continue
		}
		if !e.begin() {
			continue
		}

		wg.Add(1)
		go func(e *domainEntry) {
			defer wg.Done()
			defer s.poke()
			defer e.finish()
			if err := s.runAttempt(ctx, e); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", e.cfg.Domain, err))
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// RenewNow runs one renewal attempt for the domain synchronously,
// regardless of remaining validity. A second trigger while an attempt is in
// flight returns ErrRenewalInProgress immediately, never queues.
func (s *Scheduler) RenewNow(ctx context.Context, domain string) error {
	e, ok := s.entries[domain]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownDomain, domain)
	}
	if !e.begin() {
		return fmt.Errorf("%w: %s", interfaces.ErrRenewalInProgress, domain)
	}
	defer s.poke()
	defer e.finish()

	return s.runAttempt(ctx, e)
}

// StartRenewal begins a renewal attempt for the domain and returns without
// waiting for the outcome. The attempt outlives the caller's context; its
// duration stays bounded by the attempt timeout. Conflict and unknown
// domain checks happen before returning, exactly as in RenewNow.
//
// The attempt runs outside the evaluation loop. A process exit mid-attempt
// cannot tear a published generation; the store swaps complete staged
// writes or nothing.
func (s *Scheduler) StartRenewal(ctx context.Context, domain string) error {
	e, ok := s.entries[domain]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownDomain, domain)
	}
	if !e.begin() {
		return fmt.Errorf("%w: %s", interfaces.ErrRenewalInProgress, domain)
	}

	go func() {
		defer s.poke()
		defer e.finish()
		_ = s.runAttempt(context.WithoutCancel(ctx), e)
	}()
	return nil
}

// dispatchDue starts an attempt for every eligible domain on the worker
// pool and returns without waiting for any of them.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now()
	urgent := false

	for _, name := range s.order {
		e := s.entries[name]
		due, pressing := s.evaluate(ctx, e, now)
		if pressing {
			urgent = true
		}
		if !due || !e.begin() {
			continue
		}

		go func(e *domainEntry) {
			defer s.poke()
			defer e.finish()
			_ = s.runAttempt(ctx, e) // outcome recorded on the entry
		}(e)
	}

	s.urgent.Store(urgent)
}

// poke wakes the Run loop for a timer recomputation. Callers must record
// the attempt outcome and release the renewal slot first. Safe to call when
// no loop is running.
func (s *Scheduler) poke() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// evaluate decides whether the domain is due for an automatic attempt now.
// The second return reports urgency: the domain is expired or has no usable
// bundle, so the loop should re-check on the short interval.
func (s *Scheduler) evaluate(ctx context.Context, e *domainEntry, now time.Time) (due, urgent bool) {
	e.mu.Lock()
	renewing := e.renewing
	failures := e.failures
	lastErr := e.lastErr
	next := e.nextAttempt
	e.mu.Unlock()

	if renewing {
		return false, false
	}
	if lastErr != nil && interfaces.IsTerminal(lastErr) {
		// Parked until configuration changes; see recordFailure.
		return false, false
	}
	if e.cfg.Strategy.Kind() == interfaces.MethodSelfSigned {
		// Self-signed material only changes through a manual trigger.
		return false, false
	}
	if failures > 0 {
		return !now.Before(next), false
	}

	bundle, err := s.cfg.Store.Get(ctx, e.cfg.Domain)
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrBundleNotFound):
		return true, true
	case interfaces.ForcesReacquisition(err):
		s.log.Warn("Stored bundle unusable, scheduling reacquisition",
			slog.String("domain", e.cfg.Domain), "err", err)
		return true, true
	default:
		s.log.Error("Failed to read stored bundle",
			slog.String("domain", e.cfg.Domain), "err", err)
		return false, true
	}

	ttl := bundle.TimeToExpiry(now)
	if ttl <= 0 {
		return true, true
	}
	return ttl <= e.policy.RenewThreshold(), false
}

// nextWake computes the sleep until the next evaluation pass: the earliest
// pending retry, clamped by the tick interval, or the urgent interval while
// any domain lacks a valid bundle.
func (s *Scheduler) nextWake(now time.Time) time.Duration {
	wake := s.cfg.TickInterval
	if s.urgent.Load() {
		wake = s.cfg.UrgentInterval
	}

	for _, name := range s.order {
		e := s.entries[name]
		e.mu.Lock()
		next := e.nextAttempt
		pending := e.failures > 0 && !e.renewing &&
			!(e.lastErr != nil && interfaces.IsTerminal(e.lastErr))
		e.mu.Unlock()

		if !pending || next.IsZero() {
			continue
		}
		if until := next.Sub(now); until < wake {
			wake = until
		}
	}

	if wake < minWake {
		wake = minWake
	}
	return wake
}
