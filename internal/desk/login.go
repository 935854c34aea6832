// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package desk

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/deskline/internal/auth"
	"github.com/tomtom215/deskline/internal/backend"
	"github.com/tomtom215/deskline/internal/realtime"
)

// loginMethod names how a session was obtained.
type loginMethod string

const (
	loginOperator loginMethod = "operator"
	loginFx       loginMethod = "fx"
	loginClient   loginMethod = "client"
)

// Login obtains a bearer token. Operator credentials take precedence; without
// them fx-login is tried, then client login by agent instance. When no method
// yields a token the desk reports NoService.
func (d *Desk) Login(ctx context.Context) error {
	d.loginMu.Lock()
	tok, err := d.authenticate(ctx)
	d.loginMu.Unlock()
	if err != nil {
		d.mu.Lock()
		d.loggedIn = false
		d.mu.Unlock()
		d.tokens.Clear()
		d.setState(realtime.StateNoService, "", err.Error())
		return err
	}
	d.tokens.Set(tok)

	if starter, ok := d.transport.(interface{ Start() }); ok {
		starter.Start()
	}
	return nil
}

// authenticate logs in and applies the session identity. It leaves the
// token source alone so the source itself can call it through relogin.
func (d *Desk) authenticate(ctx context.Context) (*auth.Token, error) {
	resp, method, err := d.login(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := auth.ParseToken(resp.Access)
	if err != nil {
		return nil, fmt.Errorf("desk: %w", err)
	}

	username := resp.Username
	if username == "" {
		username = tok.Username()
	}
	if username == "" && method == loginOperator {
		username = d.cfg.Username
	}

	d.mu.Lock()
	d.loggedIn = true
	d.username = username
	if resp.InstanceUID != "" {
		d.instance = resp.InstanceUID
	}
	instance := d.instance
	if d.status.State == realtime.StateNoService {
		d.status = Status{State: realtime.StateDisconnected, Since: d.now()}
	}
	d.mu.Unlock()

	id := d.dispatcher.Identity()
	id.Username = username
	d.dispatcher.SetIdentity(id)

	d.log.Info().
		Str("method", string(method)).
		Str("username", username).
		Str("instance", instance).
		Bool("jwt", tok.IsJWT()).
		Msg("Logged in")
	return tok, nil
}

func (d *Desk) login(ctx context.Context) (*backend.LoginResponse, loginMethod, error) {
	if d.cfg.Username != "" && d.cfg.Password != "" {
		resp, err := d.api.Login(ctx, d.cfg.Username, d.cfg.Password)
		if err != nil {
			return nil, loginOperator, fmt.Errorf("operator login: %w", err)
		}
		return resp, loginOperator, nil
	}

	var errs []error
	if d.cfg.FxID != "" {
		resp, err := d.api.FxLogin(ctx, d.cfg.FxID, d.cfg.Agent.OperatorID)
		if err == nil {
			return resp, loginFx, nil
		}
		d.log.Warn().Err(err).Str("fx_id", d.cfg.FxID).Msg("fx-login failed, trying client login")
		errs = append(errs, fmt.Errorf("fx-login: %w", err))
	}

	resp, err := d.api.ClientLogin(ctx, d.InstanceID())
	if err == nil {
		return resp, loginClient, nil
	}
	errs = append(errs, fmt.Errorf("client login: %w", err))
	return nil, loginClient, fmt.Errorf("%w: %w", ErrNotLoggedIn, errors.Join(errs...))
}

// relogin refreshes an expired token for the realtime layer. It runs under
// the token source's lock and must not call back into it.
func (d *Desk) relogin(ctx context.Context) (*auth.Token, error) {
	d.loginMu.Lock()
	defer d.loginMu.Unlock()
	return d.authenticate(ctx)
}
