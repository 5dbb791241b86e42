package weibo

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Class groups upstream endpoints that share a quota and backoff state.
type Class string

const (
	// ClassContainer covers the api/container/getIndex family: profiles,
	// feeds and search all hit the same upstream quota.
	ClassContainer Class = "container"
	// ClassDetail covers statuses/show.
	ClassDetail Class = "detail"
)

type LimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	AcquireTimeout    time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
}

// Limiter throttles outbound calls per endpoint class. Upstream throttling
// signals escalate a shared per-class hold with exponential growth and
// jitter, so one throttling event slows every caller in that class.
type Limiter struct {
	cfg   LimiterConfig
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	classes map[Class]*classState
}

type classState struct {
	bucket    *rate.Limiter
	backoff   *backoff.ExponentialBackOff
	holdUntil time.Time
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
		classes: make(map[Class]*classState),
	}
}

func (l *Limiter) class(c Class) *classState {
	l.mu.Lock()
	defer l.mu.Unlock()
	cs, ok := l.classes[c]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = l.cfg.BackoffInitial
		b.MaxInterval = l.cfg.BackoffMax
		b.MaxElapsedTime = 0 // the attempt budget lives in the dispatcher
		b.Reset()
		cs = &classState{
			bucket:  rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst),
			backoff: b,
		}
		l.classes[c] = cs
	}
	return cs
}

// Acquire blocks until an outbound slot is free for the class or the
// configured timeout elapses. A timeout surfaces as rate_limited and does not
// consume a slot.
func (l *Limiter) Acquire(ctx context.Context, c Class) error {
	cs := l.class(c)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.AcquireTimeout)
	defer cancel()

	l.mu.Lock()
	hold := cs.holdUntil
	l.mu.Unlock()
	if wait := hold.Sub(l.now()); wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return E(KindRateLimited, "limiter.acquire", err)
		}
	}

	if err := cs.bucket.Wait(ctx); err != nil {
		return E(KindRateLimited, "limiter.acquire", err)
	}
	return nil
}

// Throttled records an upstream throttling signal for the class, extending
// the shared hold by the next exponential interval. Returns the interval.
func (l *Limiter) Throttled(c Class) time.Duration {
	cs := l.class(c)

	l.mu.Lock()
	defer l.mu.Unlock()
	d := cs.backoff.NextBackOff()
	if d == backoff.Stop {
		d = l.cfg.BackoffMax
	}
	if until := l.now().Add(d); until.After(cs.holdUntil) {
		cs.holdUntil = until
	}
	return d
}

// Settled clears the class backoff after a successful upstream call.
func (l *Limiter) Settled(c Class) {
	cs := l.class(c)

	l.mu.Lock()
	cs.backoff.Reset()
	cs.holdUntil = time.Time{}
	l.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
