// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptyToken is returned by ParseToken for an empty string.
var ErrEmptyToken = errors.New("auth: empty token")

// Claims are the fields of a backend access token we look at. The
// signature is never verified here; the backend does that on every use.
type Claims struct {
	Username string `json:"username,omitempty"`
	UserID   any    `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Token is a bearer token returned by one of the login endpoints.
type Token struct {
	raw    string
	claims *Claims
}

// ParseToken wraps raw. JWTs have their claims decoded so expiry can be
// checked locally; anything else is kept as an opaque token that never
// expires on our side.
func ParseToken(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyToken
	}
	t := &Token{raw: raw}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
		t.claims = claims
	}
	return t, nil
}

// String returns the raw token.
func (t *Token) String() string {
	return t.raw
}

// IsJWT reports whether the token's claims could be decoded.
func (t *Token) IsJWT() bool {
	return t.claims != nil
}

// Username returns the username claim, if any.
func (t *Token) Username() string {
	if t.claims == nil {
		return ""
	}
	return t.claims.Username
}

// ExpiresAt returns the exp claim. ok is false when the token carries none.
func (t *Token) ExpiresAt() (exp time.Time, ok bool) {
	if t.claims == nil || t.claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return t.claims.ExpiresAt.Time, true
}

// Expired reports whether the token expires before now+skew.
func (t *Token) Expired(now time.Time, skew time.Duration) bool {
	exp, ok := t.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
