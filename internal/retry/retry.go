// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package retry provides the exponential backoff policy used by the realtime
// reconnection controller and a small "retry until ready" helper used by the
// HTTP send paths that must wait for a backend room to exist.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned by Until when every attempt reported not-ready.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy describes an exponential backoff schedule.
//
// The delay before retry n (1-based) is min(Base * Factor^(n-1), Cap).
type Policy struct {
	// Base is the delay after the first failure.
	// Default: 1s
	Base time.Duration

	// Cap bounds every computed delay.
	// Default: 30s
	Cap time.Duration

	// Factor is the growth factor between consecutive delays.
	// Default: 2
	Factor float64

	// MaxAttempts is the number of consecutive failures tolerated before
	// giving up. Zero or negative means unlimited; DefaultPolicy uses 10.
	MaxAttempts int
}

// DefaultPolicy returns the reconnect schedule used by the realtime layer:
// 1s, 2s, 4s, ... capped at 30s, giving up after 10 failures.
func DefaultPolicy() Policy {
	return Policy{
		Base:        time.Second,
		Cap:         30 * time.Second,
		Factor:      2,
		MaxAttempts: 10,
	}
}

// withDefaults fills zero values so a partially configured Policy still
// produces a monotonic, bounded schedule.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	return p
}

// Delay returns the backoff for the given 1-based failed attempt.
// Attempts below 1 are treated as the first attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.Base)
	for i := 1; i < attempt; i++ {
		delay *= p.Factor
		if delay >= float64(p.Cap) {
			return p.Cap
		}
	}
	if delay > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(delay)
}

// Exhausted reports whether the given number of consecutive failures has
// reached the attempt ceiling.
func (p Policy) Exhausted(failures int) bool {
	return p.MaxAttempts > 0 && failures >= p.MaxAttempts
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options configures Until.
type Options struct {
	// MaxAttempts is the number of times the condition is evaluated.
	// Default: 40
	MaxAttempts int

	// Delay is the fixed wait between evaluations.
	// Default: 100ms
	Delay time.Duration
}

// Until evaluates cond up to MaxAttempts times, waiting Delay between calls,
// and returns nil as soon as cond reports done. A non-nil error from cond
// stops the loop immediately. When every attempt reports not-done, Until
// returns an error wrapping ErrExhausted.
func Until(ctx context.Context, opts Options, cond func(ctx context.Context) (bool, error)) error {
	if cond == nil {
		return errors.New("retry: condition is nil")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 40
	}
	if opts.Delay <= 0 {
		opts.Delay = 100 * time.Millisecond
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := Sleep(ctx, opts.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, opts.MaxAttempts)
}
