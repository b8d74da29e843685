package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter gates every outbound page fetch. Wait applies the politeness delay
// (or the current backoff, whichever is larger) and RecordOutcome escalates or
// resets the backoff.
type Limiter interface {
	Wait(ctx context.Context) error
	RecordOutcome(success bool)
}

type Options struct {
	DelayMin       time.Duration
	DelayMax       time.Duration
	BackoffFactor  float64
	BackoffCeiling time.Duration
}

func DefaultOptions() Options {
	return Options{
		DelayMin:       2 * time.Second,
		DelayMax:       5 * time.Second,
		BackoffFactor:  2.0,
		BackoffCeiling: 5 * time.Minute,
	}
}

// BackoffLimiter is the single politeness/backoff channel of a crawl run.
// All fetches against the remote host serialize through one instance.
type BackoffLimiter struct {
	opts       Options
	backoff    time.Duration
	failures   int
	lastAction time.Time
	mu         sync.Mutex

	// overridable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *BackoffLimiter {
	if opts.BackoffFactor <= 1.0 {
		opts.BackoffFactor = DefaultOptions().BackoffFactor
	}
	if opts.BackoffCeiling <= 0 {
		opts.BackoffCeiling = DefaultOptions().BackoffCeiling
	}

	return &BackoffLimiter{
		opts:  opts,
		sleep: sleepCtx,
	}
}

func (l *BackoffLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()

	delay := l.politenessDelay()
	if l.backoff > delay {
		delay = l.backoff
	}

	elapsed := time.Since(l.lastAction)
	wait := delay - elapsed
	sleep := l.sleep
	l.mu.Unlock()

	if wait > 0 {
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.lastAction = time.Now()
	l.mu.Unlock()

	return nil
}

func (l *BackoffLimiter) RecordOutcome(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		l.failures = 0
		l.backoff = 0
		return
	}

	l.failures++
	if l.backoff == 0 {
		l.backoff = l.opts.DelayMax
		if l.backoff == 0 {
			l.backoff = time.Second
		}
	} else {
		l.backoff = time.Duration(float64(l.backoff) * l.opts.BackoffFactor)
	}

	if l.backoff > l.opts.BackoffCeiling {
		l.backoff = l.opts.BackoffCeiling
	}
}

// CurrentBackoff exposes the active backoff duration, zero when idle.
func (l *BackoffLimiter) CurrentBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

// ConsecutiveFailures reports the failure streak since the last success.
func (l *BackoffLimiter) ConsecutiveFailures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

func (l *BackoffLimiter) politenessDelay() time.Duration {
	if l.opts.DelayMax <= l.opts.DelayMin {
		return l.opts.DelayMin
	}

	delta := l.opts.DelayMax - l.opts.DelayMin
	jitter := time.Duration(rand.Int63n(int64(delta)))
	return l.opts.DelayMin + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
