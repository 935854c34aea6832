// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

/*
session.go - One realtime WebSocket connection

A Session owns a single socket from a successful upgrade until teardown.
It runs three goroutines (reader, writer, pinger) plus a monitor that is the
only place teardown happens, so Disconnected is emitted at most once.

Liveness: the read deadline is PingInterval+PingTimeout past the last
inbound frame or pong. After PingInterval without inbound traffic a ping is
sent, so a silent peer is detected PingTimeout after the ping.
*/

package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/metrics"
)

// Close codes the backend uses to reject a session's credentials.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

const closeWriteTimeout = time.Second

// Dialer opens WebSocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// SessionOptions tunes socket timeouts.
type SessionOptions struct {
	// HandshakeTimeout bounds the HTTP upgrade.
	// Default: 10s
	HandshakeTimeout time.Duration

	// HelloTimeout bounds the wait for hello_ack on the multiplexed protocol.
	// Default: 10s
	HelloTimeout time.Duration

	// PingInterval is the idle period after which a ping is sent.
	// Default: 30s
	PingInterval time.Duration

	// PingTimeout is how long a pong may take after a ping.
	// Default: 20s
	PingTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	// Default: 10s
	WriteTimeout time.Duration

	// MaxMessageSize limits inbound frame size in bytes.
	// Default: 1 MiB
	MaxMessageSize int64
}

// DefaultSessionOptions returns the production timeouts.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		HandshakeTimeout: 10 * time.Second,
		HelloTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      20 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   1 << 20,
	}
}

func (o SessionOptions) withDefaults() SessionOptions {
	d := DefaultSessionOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.HelloTimeout <= 0 {
		o.HelloTimeout = d.HelloTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = d.PingTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}

// FrameWriter writes frames directly to a live socket.
type FrameWriter interface {
	WriteFrame(f OutboundFrame) error
}

// SessionConfig describes one connection attempt.
type SessionConfig struct {
	URL     string
	Header  http.Header
	Dialer  Dialer
	Options SessionOptions

	// Queue feeds the writer goroutine. A fresh queue is used when nil.
	Queue *OutboundQueue

	// Hello, when set, is written first and the session only counts as
	// connected once hello_ack arrives within HelloTimeout.
	Hello *Hello

	// OnReady runs after the handshake and before queued frames are
	// written, e.g. to replay subscriptions. An error aborts the attempt.
	OnReady func(w FrameWriter) error

	// OnFrame receives every decoded inbound frame except hello_ack, on the
	// reader goroutine.
	OnFrame func(Envelope)

	// OnState receives Connected and Disconnected.
	OnState func(state ConnectionState, err error)

	// OnSendError receives frames the writer could not send.
	OnSendError func(f OutboundFrame, err error)
}

// Session is a live WebSocket connection.
type Session struct {
	cfg  SessionConfig
	opts SessionOptions
	conn *websocket.Conn
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu  sync.Mutex
	activity chan struct{}
	acked    chan struct{}
	ackOnce  sync.Once
	ready    chan struct{}

	mu        sync.Mutex
	connected bool
	err       error

	wg   sync.WaitGroup
	done chan struct{}
}

// Dial opens a connection, performs the optional hello handshake and starts
// the session goroutines. It blocks until the session is connected or the
// attempt failed. Cancelling ctx tears the session down.
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	opts := cfg.Options.withDefaults()
	log := logging.Component("realtime").With().Str("url", redactURL(cfg.URL)).Logger()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	log.Debug().Msg("Connecting")
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("Failed to close upgrade response body")
		}
	}
	if err != nil {
		return nil, classifyDialError(resp, err)
	}

	if cfg.Queue == nil {
		cfg.Queue = NewOutboundQueue()
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:      cfg,
		opts:     opts,
		conn:     conn,
		log:      log,
		ctx:      sctx,
		cancel:   cancel,
		activity: make(chan struct{}, 1),
		acked:    make(chan struct{}),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(opts.MaxMessageSize)
	s.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	s.wg.Add(3)
	go s.readLoop()
	go s.writeLoop()
	go s.pingLoop()
	go s.monitor()

	if err := s.open(); err != nil {
		s.fail(err)
		<-s.done
		return nil, err
	}
	return s, nil
}

// open runs the handshake and marks the session connected.
func (s *Session) open() error {
	if s.cfg.Hello != nil {
		if err := s.WriteFrame(*s.cfg.Hello); err != nil {
			return fmt.Errorf("send hello: %w", err)
		}
		timer := time.NewTimer(s.opts.HelloTimeout)
		defer timer.Stop()
		select {
		case <-s.acked:
		case <-timer.C:
			return ErrHandshakeTimeout
		case <-s.ctx.Done():
			return s.causeOr(s.ctx.Err())
		}
	}

	if s.cfg.OnReady != nil {
		if err := s.cfg.OnReady(s); err != nil {
			return fmt.Errorf("session ready hook: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return s.causeLocked(s.ctx.Err())
	}
	s.connected = true
	close(s.ready)
	s.log.Info().Msg("Realtime connected")
	if s.cfg.OnState != nil {
		s.cfg.OnState(StateConnected, nil)
	}
	return nil
}

// WriteFrame encodes and writes f immediately, bypassing the queue.
func (s *Session) WriteFrame(f OutboundFrame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return s.writeRaw(f.Type(), data)
}

func (s *Session) writeRaw(typ string, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return &writeError{typ: typ, err: err}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &writeError{typ: typ, err: err}
	}
	metrics.RealtimeFramesSent.WithLabelValues(typ).Inc()
	return nil
}

// writeError is a socket failure, as opposed to an encoding failure.
type writeError struct {
	typ string
	err error
}

func (e *writeError) Error() string { return fmt.Sprintf("write %s: %v", e.typ, e.err) }
func (e *writeError) Unwrap() error { return e.err }

// Stop tears the session down. It is safe to call from any goroutine and
// more than once; it does not wait.
func (s *Session) Stop() {
	s.fail(ErrClosed)
}

// Close stops the session and waits for teardown to finish.
func (s *Session) Close() error {
	s.Stop()
	<-s.done
	return nil
}

// Done is closed after teardown, once Disconnected was emitted.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is running.
// Sessions stopped locally report ErrClosed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Queue returns the queue the writer drains.
func (s *Session) Queue() *OutboundQueue {
	return s.cfg.Queue
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil && err != nil {
		s.err = err
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) causeOr(fallback error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.causeLocked(fallback)
}

func (s *Session) causeLocked(fallback error) error {
	if s.err != nil {
		return s.err
	}
	return fallback
}

// monitor is the single owner of teardown.
func (s *Session) monitor() {
	<-s.ctx.Done()
	s.fail(ErrClosed)

	if err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout),
	); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.log.Debug().Err(err).Msg("Failed to send close message")
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Failed to close connection")
	}
	s.wg.Wait()

	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	cause := s.err
	s.mu.Unlock()

	if wasConnected {
		var reported error
		if !errors.Is(cause, ErrClosed) {
			reported = cause
		}
		s.log.Info().AnErr("cause", reported).Msg("Realtime disconnected")
		if s.cfg.OnState != nil {
			s.cfg.OnState(StateDisconnected, reported)
		}
	}
	close(s.done)
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("Read error")
			}
			s.fail(classifyReadError(err))
			return
		}
		s.touch()

		if mt != websocket.TextMessage {
			continue
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			metrics.RealtimeFramesDropped.WithLabelValues(dropDecode).Inc()
			s.log.Debug().Err(err).Msg("Dropping undecodable frame")
			continue
		}
		if env.Type == TypeHelloAck {
			s.ackOnce.Do(func() { close(s.acked) })
			continue
		}
		if s.cfg.OnFrame != nil {
			s.cfg.OnFrame(env)
		}
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return
	}

	for {
		f, err := s.cfg.Queue.Next(s.ctx)
		if err != nil {
			return
		}
		err = s.WriteFrame(f)
		if err == nil {
			continue
		}

		metrics.RealtimeSendErrors.Inc()
		s.log.Warn().Err(err).Str("type", f.Type()).Msg("Failed to send frame")
		if s.cfg.OnSendError != nil {
			s.cfg.OnSendError(f, err)
		}
		var we *writeError
		if errors.As(err, &we) {
			s.fail(err)
			return
		}
	}
}

func (s *Session) pingLoop() {
	defer s.wg.Done()

	idle := time.NewTimer(s.opts.PingInterval)
	defer idle.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.activity:
			idle.Reset(s.opts.PingInterval)
		case <-idle.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				s.fail(fmt.Errorf("ping: %w", err))
				return
			}
			idle.Reset(s.opts.PingInterval)
		}
	}
}

// touch records inbound traffic. Called on the reader goroutine only.
func (s *Session) touch() {
	s.extendReadDeadline()
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *Session) extendReadDeadline() {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.PingInterval + s.opts.PingTimeout)); err != nil {
		s.log.Debug().Err(err).Msg("Failed to set read deadline")
	}
}

func classifyDialError(resp *http.Response, err error) error {
	if resp != nil {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: upgrade rejected with status %d", ErrUnauthorized, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
	}
	return fmt.Errorf("websocket dial failed: %w", err)
}

func classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.ClosePolicyViolation, CloseUnauthorized, CloseForbidden:
			return fmt.Errorf("%w: closed by server with code %d", ErrUnauthorized, ce.Code)
		}
		return fmt.Errorf("closed by server: %w", err)
	}
	return fmt.Errorf("read: %w", err)
}

// redactURL hides the token query parameter for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
