// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/metrics"
	"github.com/tomtom215/deskline/internal/retry"
)

// DefaultStableAfter is how long a connection must stay up before a drop is
// treated as a fresh outage rather than a quick drop.
const DefaultStableAfter = 5 * time.Second

// DefaultMaxQuickDrops is how many consecutive quick drops end the
// controller with ErrUnauthorized.
const DefaultMaxQuickDrops = 3

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Name labels logs and metrics ("room" or "mux").
	Name string

	// Room is reported on every state change. Empty for the multiplexed socket.
	Room RoomID

	Policy retry.Policy

	// StableAfter is the minimum uptime for a connection to count as
	// stable when it later drops. A quicker drop is retried like a failed
	// attempt, starting again from the base delay.
	// Zero uses DefaultStableAfter; negative disables the rule.
	StableAfter time.Duration

	// MaxQuickDrops consecutive quick drops end the controller with
	// ErrUnauthorized: a server that accepts and immediately closes is
	// usually rejecting an expired token. A stable connection clears the
	// count. Zero uses DefaultMaxQuickDrops; negative disables the limit.
	MaxQuickDrops int

	// Session builds the configuration for the next attempt. It is called
	// before every dial so fresh credentials are picked up. Returning an
	// error wrapping ErrUnauthorized stops the controller.
	Session func() (SessionConfig, error)

	// Notifier receives state changes, deliveries and send failures.
	Notifier *Notifier

	// Queue is shared by all sessions of this controller. A fresh queue is
	// created when nil.
	Queue *OutboundQueue

	// OnFrame receives inbound frames of every session.
	OnFrame func(Envelope)
}

// Controller keeps one logical connection alive: it dials, waits for the
// session to end and redials with exponential backoff until the attempt
// ceiling is reached or Stop is called.
type Controller struct {
	cfg    ControllerConfig
	policy retry.Policy
	queue  *OutboundQueue
	log    zerolog.Logger

	// Replaceable in tests.
	dial  func(ctx context.Context, cfg SessionConfig) (*Session, error)
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu       sync.Mutex
	state    ConnectionState
	attempts int
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewController creates a stopped controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}
	if cfg.Policy == (retry.Policy{}) {
		cfg.Policy = retry.DefaultPolicy()
	}
	if cfg.StableAfter == 0 {
		cfg.StableAfter = DefaultStableAfter
	}
	if cfg.MaxQuickDrops == 0 {
		cfg.MaxQuickDrops = DefaultMaxQuickDrops
	}
	if cfg.Name == "" {
		cfg.Name = "room"
	}
	queue := cfg.Queue
	if queue == nil {
		queue = NewOutboundQueue()
	}
	return &Controller{
		cfg:    cfg,
		policy: cfg.Policy,
		queue:  queue,
		log:    logging.Component("realtime").With().Str("transport", cfg.Name).Str("room", string(cfg.Room)).Logger(),
		dial:   Dial,
		sleep:  retry.Sleep,
		now:    time.Now,
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
}

// Start begins connecting in the background. Later calls are no-ops.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// Stop cancels any dial, backoff or live session and waits until the
// controller has finished. Safe to call repeatedly, concurrently and before
// Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.started = true
		close(c.done)
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-c.done
}

// Done is closed when the controller has stopped, either because Stop was
// called or because it gave up.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Running reports whether the controller was started and is still trying.
func (c *Controller) Running() bool {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// State returns the last emitted state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current consecutive failure count.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Queue returns the outbound queue shared by this controller's sessions.
func (c *Controller) Queue() *OutboundQueue {
	return c.queue
}

// Room returns the room this controller serves.
func (c *Controller) Room() RoomID {
	return c.cfg.Room
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.settle()

	c.emit(StateChange{State: StateConnecting})

	quickDrops := 0
	for ctx.Err() == nil {
		sess, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !c.onFailure(ctx, err, "connect") {
				return
			}
			continue
		}

		metrics.RealtimeConnectAttempts.WithLabelValues(c.cfg.Name, "success").Inc()
		connectedAt := c.now()
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()

		<-sess.Done()
		if ctx.Err() != nil {
			return
		}

		cause := sess.Err()
		if cause == nil || errors.Is(cause, ErrClosed) {
			cause = errors.New("connection closed")
		}
		if errors.Is(cause, ErrUnauthorized) {
			c.giveUp("unauthorized", fmt.Sprintf("authentication rejected: %v", cause), cause, 0)
			return
		}

		if c.cfg.StableAfter > 0 && c.now().Sub(connectedAt) < c.cfg.StableAfter {
			quickDrops++
			if c.cfg.MaxQuickDrops > 0 && quickDrops >= c.cfg.MaxQuickDrops {
				err := fmt.Errorf("%w: connection dropped %d times within %s of opening: %w",
					ErrUnauthorized, quickDrops, c.cfg.StableAfter, cause)
				c.giveUp("unstable",
					fmt.Sprintf("connection keeps closing right after opening (%d times): %v", quickDrops, cause),
					err, quickDrops)
				return
			}
			if !c.onFailure(ctx, cause, "connection dropped") {
				return
			}
			continue
		}
		quickDrops = 0

		delay := c.policy.Delay(1)
		c.emit(StateChange{
			State:       StateReconnecting,
			MaxAttempts: c.maxAttempts(),
			Delay:       delay,
			Reason:      fmt.Sprintf("connection lost: %v", cause),
			Err:         cause,
		})
		metrics.RealtimeBackoffSeconds.WithLabelValues(c.cfg.Name).Observe(delay.Seconds())
		if c.sleep(ctx, delay) != nil {
			return
		}
	}
}

// onFailure counts a failed attempt and either schedules the next one or
// gives up. It returns false when the run loop must exit.
func (c *Controller) onFailure(ctx context.Context, err error, what string) bool {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if errors.Is(err, ErrUnauthorized) {
		metrics.RealtimeConnectAttempts.WithLabelValues(c.cfg.Name, "unauthorized").Inc()
		c.giveUp("unauthorized", fmt.Sprintf("authentication rejected: %v", err), err, attempt)
		return false
	}
	metrics.RealtimeConnectAttempts.WithLabelValues(c.cfg.Name, "failure").Inc()

	ceiling := c.maxAttempts()
	if c.policy.Exhausted(attempt) {
		c.giveUp("max_attempts",
			fmt.Sprintf("max attempts reached (%d/%d): %v", attempt, ceiling, err),
			fmt.Errorf("%w: %w", ErrMaxAttempts, err), attempt)
		return false
	}

	delay := c.policy.Delay(attempt)
	reason := fmt.Sprintf("%s attempt %d/%d failed: %v", what, attempt, ceiling, err)
	if ceiling == 0 {
		reason = fmt.Sprintf("%s attempt %d failed: %v", what, attempt, err)
	}
	c.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Realtime connect failed, retrying")
	c.emit(StateChange{
		State:       StateReconnecting,
		Attempt:     attempt,
		MaxAttempts: ceiling,
		Delay:       delay,
		Reason:      reason,
		Err:         err,
	})
	metrics.RealtimeBackoffSeconds.WithLabelValues(c.cfg.Name).Observe(delay.Seconds())
	return c.sleep(ctx, delay) == nil
}

func (c *Controller) giveUp(label, reason string, err error, attempt int) {
	metrics.RealtimeGiveUps.WithLabelValues(c.cfg.Name, label).Inc()
	c.log.Error().Err(err).Int("attempt", attempt).Msg("Realtime connection failed permanently")
	c.emit(StateChange{
		State:       StateFailed,
		Attempt:     attempt,
		MaxAttempts: c.maxAttempts(),
		Reason:      reason,
		Err:         err,
	})
}

// settle reports Disconnected when the controller stops mid-attempt. A live
// session reports its own Disconnected, and Failed is already terminal.
func (c *Controller) settle() {
	switch c.State() {
	case StateConnecting, StateReconnecting:
		c.emit(StateChange{State: StateDisconnected, Reason: "stopped"})
	}
}

func (c *Controller) connect(ctx context.Context) (*Session, error) {
	if c.cfg.Session == nil {
		return nil, errors.New("realtime: controller has no session factory")
	}
	cfg, err := c.cfg.Session()
	if err != nil {
		return nil, err
	}
	cfg.Queue = c.queue
	if c.cfg.OnFrame != nil {
		cfg.OnFrame = c.cfg.OnFrame
	}
	onState := cfg.OnState
	cfg.OnState = func(state ConnectionState, err error) {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		c.emit(StateChange{State: state, Err: err, Reason: reason})
		if onState != nil {
			onState(state, err)
		}
	}
	onSendError := cfg.OnSendError
	cfg.OnSendError = func(f OutboundFrame, err error) {
		c.cfg.Notifier.SendFailed(SendFailure{Room: c.cfg.Room, Frame: f, Err: err})
		if onSendError != nil {
			onSendError(f, err)
		}
	}
	return c.dial(ctx, cfg)
}

func (c *Controller) emit(change StateChange) {
	change.Room = c.cfg.Room
	if change.At.IsZero() {
		change.At = c.now()
	}
	c.mu.Lock()
	c.state = change.State
	c.mu.Unlock()
	metrics.RecordConnectionState(c.cfg.Name, change.State.String())
	c.cfg.Notifier.State(change)
}

func (c *Controller) maxAttempts() int {
	if c.policy.MaxAttempts < 0 {
		return 0
	}
	return c.policy.MaxAttempts
}
