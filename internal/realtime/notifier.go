// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
)

// Delivery is an inbound event routed to a local chat.
type Delivery struct {
	// LocalID is the application's chat id for the event's room, or "" for
	// connection-wide events.
	LocalID    string
	Event      Event
	ReceivedAt time.Time
}

// SendFailure reports an outbound frame that could not be written.
type SendFailure struct {
	Room  RoomID
	Frame OutboundFrame
	Err   error
}

// Listener receives transport notifications. All callbacks of one transport
// run on a single goroutine in emission order and must not block for long.
type Listener interface {
	StateChanged(StateChange)
	EventReceived(Delivery)
	SendFailed(SendFailure)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnState     func(StateChange)
	OnEvent     func(Delivery)
	OnSendError func(SendFailure)
}

func (f ListenerFuncs) StateChanged(c StateChange) {
	if f.OnState != nil {
		f.OnState(c)
	}
}

func (f ListenerFuncs) EventReceived(d Delivery) {
	if f.OnEvent != nil {
		f.OnEvent(d)
	}
}

func (f ListenerFuncs) SendFailed(s SendFailure) {
	if f.OnSendError != nil {
		f.OnSendError(s)
	}
}

type notification struct {
	state    *StateChange
	delivery *Delivery
	failure  *SendFailure
}

type subscription struct {
	id int
	l  Listener
}

// Notifier fans transport notifications out to listeners on one delivery
// goroutine, so network goroutines never call application code directly.
type Notifier struct {
	mu        sync.Mutex
	pending   []notification
	listeners []subscription
	nextID    int
	closed    bool

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

// NewNotifier starts a notifier's delivery goroutine.
func NewNotifier() *Notifier {
	n := &Notifier{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    logging.Component("realtime"),
	}
	go n.run()
	return n
}

// Subscribe registers l and returns a function that removes it.
func (n *Notifier) Subscribe(l Listener) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, subscription{id: id, l: l})
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.listeners {
			if s.id == id {
				n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
				return
			}
		}
	}
}

// State queues a state change.
func (n *Notifier) State(c StateChange) {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	n.push(notification{state: &c})
}

// Deliver queues a routed event.
func (n *Notifier) Deliver(d Delivery) {
	n.push(notification{delivery: &d})
}

// SendFailed queues a send failure.
func (n *Notifier) SendFailed(f SendFailure) {
	n.push(notification{failure: &f})
}

func (n *Notifier) push(x notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending = append(n.pending, x)
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for range n.signal {
		n.drain()
	}
	n.drain()
}

func (n *Notifier) drain() {
	for {
		n.mu.Lock()
		batch := n.pending
		n.pending = nil
		listeners := append([]subscription(nil), n.listeners...)
		n.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, x := range batch {
			for _, s := range listeners {
				n.dispatch(s.l, x)
			}
		}
	}
}

func (n *Notifier) dispatch(l Listener, x notification) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error().Interface("panic", r).Msg("Realtime listener panicked")
		}
	}()
	switch {
	case x.state != nil:
		l.StateChanged(*x.state)
	case x.delivery != nil:
		l.EventReceived(*x.delivery)
	case x.failure != nil:
		l.SendFailed(*x.failure)
	}
}

// Close delivers everything already queued, then stops the delivery
// goroutine. Notifications pushed after Close are discarded.
func (n *Notifier) Close() {
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.signal)
		n.mu.Unlock()
	})
	<-n.done
}
