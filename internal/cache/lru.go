// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package cache

import (
	"sync"
	"time"
)

// setEntry is a node in the recency list of an ExpiringSet.
type setEntry struct {
	key       string
	prev      *setEntry
	next      *setEntry
	expiresAt time.Time
}

// ExpiringSet is a thread-safe set of string keys bounded both by capacity
// (least recently added keys are evicted first) and by a per-key TTL.
//
// It backs the realtime echo-suppression set: ids returned by HTTP sends are
// added, and the first inbound echo carrying the same id consumes them via
// Take. Keys that are never consumed age out instead of growing the set
// without bound.
//
// All operations are O(1) except CleanupExpired.
type ExpiringSet struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration
	now      func() time.Time

	items map[string]*setEntry

	// head.next is the newest entry, tail.prev the oldest.
	head *setEntry
	tail *setEntry

	evictions int64
	expired   int64
}

// NewExpiringSet creates a set holding at most capacity keys, each for at
// most ttl.
func NewExpiringSet(capacity int, ttl time.Duration) *ExpiringSet {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	s := &ExpiringSet{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*setEntry, capacity),
		head:     &setEntry{},
		tail:     &setEntry{},
	}
	s.head.next = s.tail
	s.tail.prev = s.head
	return s
}

// SetClock replaces the time source. Intended for tests.
func (s *ExpiringSet) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// Add inserts key, refreshing its TTL if already present. When the set is at
// capacity the oldest key is evicted.
func (s *ExpiringSet) Add(key string) {
	if key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(s.ttl)
	if e, ok := s.items[key]; ok {
		e.expiresAt = expiresAt
		s.unlink(e)
		s.pushFront(e)
		return
	}

	e := &setEntry{key: key, expiresAt: expiresAt}
	s.pushFront(e)
	s.items[key] = e

	for len(s.items) > s.capacity {
		oldest := s.tail.prev
		if oldest == s.head {
			break
		}
		s.remove(oldest)
		s.evictions++
	}
}

// Contains reports whether key is present and not expired.
func (s *ExpiringSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false
	}
	if s.now().After(e.expiresAt) {
		s.remove(e)
		s.expired++
		return false
	}
	return true
}

// Take removes key and reports whether it was present and not expired.
// This is the first-match-wins consume used for echo suppression.
func (s *ExpiringSet) Take(key string) bool {
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false
	}
	s.remove(e)
	if s.now().After(e.expiresAt) {
		s.expired++
		return false
	}
	return true
}

// Remove deletes key, reporting whether it was present.
func (s *ExpiringSet) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false
	}
	s.remove(e)
	return true
}

// Len returns the number of stored keys, including expired keys that have
// not been collected yet.
func (s *ExpiringSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// CleanupExpired removes every expired key and returns how many were removed.
func (s *ExpiringSet) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for e := s.tail.prev; e != s.head; {
		prev := e.prev
		if now.After(e.expiresAt) {
			s.remove(e)
			removed++
		}
		e = prev
	}
	s.expired += int64(removed)
	return removed
}

// Stats returns capacity evictions, TTL expirations and current size.
func (s *ExpiringSet) Stats() (evictions, expired int64, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions, s.expired, len(s.items)
}

// list helpers, must be called with mu held

func (s *ExpiringSet) pushFront(e *setEntry) {
	e.prev = s.head
	e.next = s.head.next
	s.head.next.prev = e
	s.head.next = e
}

func (s *ExpiringSet) unlink(e *setEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (s *ExpiringSet) remove(e *setEntry) {
	s.unlink(e)
	delete(s.items, e.key)
}
