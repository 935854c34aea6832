// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/realtime"
)

// Token source errors. Both wrap realtime.ErrUnauthorized so a controller
// treats them as permanent.
var (
	ErrNoToken      = fmt.Errorf("%w: not logged in", realtime.ErrUnauthorized)
	ErrTokenExpired = fmt.Errorf("%w: token expired", realtime.ErrUnauthorized)
)

// DefaultExpirySkew is how long before exp a token is considered expired.
const DefaultExpirySkew = 30 * time.Second

// RefreshFunc obtains a fresh token, typically by logging in again.
type RefreshFunc func(ctx context.Context) (*Token, error)

// Source holds the current token and hands it to realtime connections.
type Source struct {
	refresh RefreshFunc
	timeout time.Duration
	skew    time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu    sync.Mutex
	token *Token
}

// NewSource creates an empty source. refresh may be nil, in which case an
// expired token is reported as ErrTokenExpired.
func NewSource(refresh RefreshFunc) *Source {
	return &Source{
		refresh: refresh,
		timeout: 10 * time.Second,
		skew:    DefaultExpirySkew,
		now:     time.Now,
		log:     logging.Component("auth"),
	}
}

// Set replaces the current token.
func (s *Source) Set(t *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = t
}

// Clear forgets the current token.
func (s *Source) Clear() {
	s.Set(nil)
}

// Current returns the current token without checking expiry.
func (s *Source) Current() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Token implements realtime.TokenSource. An expired token is refreshed
// once; if that fails the error wraps realtime.ErrUnauthorized.
func (s *Source) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		return "", ErrNoToken
	}
	if !s.token.Expired(s.now(), s.skew) {
		return s.token.String(), nil
	}
	if s.refresh == nil {
		return "", ErrTokenExpired
	}

	exp, _ := s.token.ExpiresAt()
	s.log.Info().Time("expired_at", exp).Msg("Access token expired, logging in again")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	fresh, err := s.refresh(ctx)
	if err != nil {
		if errors.Is(err, realtime.ErrUnauthorized) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	if fresh == nil || fresh.Expired(s.now(), s.skew) {
		return "", ErrTokenExpired
	}
	s.token = fresh
	return fresh.String(), nil
}

var _ realtime.TokenSource = (*Source)(nil)
