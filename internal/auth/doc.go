// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

/*
Package auth holds the bearer token the desk obtains from the backend login
endpoints and hands it to realtime connections.

Key Components:

  - Token: a raw access token. JWTs have their claims decoded (without
    signature verification) so expiry can be checked locally; opaque tokens
    never expire on the client side.
  - Source: the current token behind a mutex. It implements
    realtime.TokenSource and refreshes an expired token once through a
    RefreshFunc, usually a fresh login.

Errors:

ErrNoToken and ErrTokenExpired wrap realtime.ErrUnauthorized, so a
reconnection controller that cannot obtain a token stops instead of
retrying with backoff.

Usage:

	src := auth.NewSource(func(ctx context.Context) (*auth.Token, error) {
	    resp, err := api.Login(ctx, username, password)
	    if err != nil {
	        return nil, err
	    }
	    return auth.ParseToken(resp.Access)
	})
	tok, _ := auth.ParseToken(loginResp.Access)
	src.Set(tok)

	raw, err := src.Token() // used as ?token= on the room URL
*/
package auth
