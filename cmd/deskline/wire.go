// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package main

import (
	"fmt"
	"sync/atomic"

	"github.com/tomtom215/deskline/internal/agent"
	"github.com/tomtom215/deskline/internal/backend"
	"github.com/tomtom215/deskline/internal/cache"
	"github.com/tomtom215/deskline/internal/config"
	"github.com/tomtom215/deskline/internal/desk"
	"github.com/tomtom215/deskline/internal/realtime"
	"github.com/tomtom215/deskline/internal/retry"
	"github.com/tomtom215/deskline/internal/store"
)

// deskTokens hands the transport the desk's token source. The desk is built
// around the transport, so the source is attached afterwards.
type deskTokens struct {
	desk atomic.Pointer[desk.Desk]
}

func (t *deskTokens) Token() (string, error) {
	d := t.desk.Load()
	if d == nil {
		return "", fmt.Errorf("%w: desk not ready", realtime.ErrUnauthorized)
	}
	return d.Tokens().Token()
}

func backendConfig(cfg *config.Config) backend.Config {
	b := cfg.Backend
	return backend.Config{
		BaseURL:           b.BaseURL,
		Timeout:           b.Timeout,
		UploadTimeout:     b.UploadTimeout,
		RequestsPerSecond: b.RequestsPerSecond,
		Burst:             b.Burst,
		BreakerFailures:   b.BreakerFailures,
		BreakerTimeout:    b.BreakerTimeout,
	}
}

func storeConfig(cfg *config.Config) store.Config {
	s := cfg.Store
	return store.Config{
		Path:       s.Path,
		InMemory:   s.InMemory,
		SyncWrites: s.SyncWrites,
		Greeting:   s.Greeting,
		Operators:  s.Operators,
	}
}

func reconnectPolicy(rt config.RealtimeConfig) retry.Policy {
	return retry.Policy{
		Base:        rt.ReconnectBase,
		Cap:         rt.ReconnectCap,
		Factor:      rt.ReconnectFactor,
		MaxAttempts: rt.MaxAttempts,
	}
}

func sessionOptions(rt config.RealtimeConfig) realtime.SessionOptions {
	return realtime.SessionOptions{
		HandshakeTimeout: rt.HandshakeTimeout,
		HelloTimeout:     rt.HelloTimeout,
		PingInterval:     rt.PingInterval,
		PingTimeout:      rt.PingTimeout,
		WriteTimeout:     rt.WriteTimeout,
		MaxMessageSize:   rt.MaxMessageSize,
	}
}

// loadAgentIDs reads the ids file and applies explicit overrides.
func loadAgentIDs(cfg config.AgentConfig) (agent.IDs, error) {
	ids, err := agent.Load(cfg.IDsFile)
	if err != nil {
		return agent.IDs{}, err
	}
	if cfg.InstanceID != "" {
		ids.InstanceID = cfg.InstanceID
	}
	if cfg.OperatorID != "" {
		ids.OperatorID = cfg.OperatorID
	}
	return ids, nil
}

// buildTransport creates the dispatcher and the transport for the configured
// protocol.
func buildTransport(cfg *config.Config, ids agent.IDs, tokens realtime.TokenSource) (realtime.Transport, *realtime.Dispatcher) {
	rt := cfg.Realtime
	pending := cache.NewExpiringSet(rt.PendingSendCapacity, rt.PendingSendTTL)
	dispatcher := realtime.NewDispatcher(realtime.Identity{Role: rt.SenderRole()}, pending)

	if rt.Protocol == config.ProtocolMux {
		return realtime.NewMuxTransport(realtime.MuxConfig{
			URL:         rt.MuxURL,
			ClientID:    rt.ClientID,
			Username:    cfg.Auth.Username,
			Agent:       realtime.AgentInfo{InstanceID: ids.InstanceID, OperatorID: ids.OperatorID},
			Options:     sessionOptions(rt),
			Policy:      reconnectPolicy(rt),
			StableAfter: rt.StableAfter,
		}, dispatcher), dispatcher
	}
	return realtime.NewRoomTransport(realtime.RoomConfig{
		BaseURL:     rt.WSBase,
		Tokens:      tokens,
		Options:     sessionOptions(rt),
		Policy:      reconnectPolicy(rt),
		StableAfter: rt.StableAfter,
	}, dispatcher), dispatcher
}

func deskConfig(cfg *config.Config, ids agent.IDs) desk.Config {
	return desk.Config{
		UserID:         cfg.Auth.UserID,
		Username:       cfg.Auth.Username,
		Password:       cfg.Auth.Password,
		FxID:           cfg.Auth.FxID,
		Agent:          ids,
		RoomWait:       retry.Options{MaxAttempts: cfg.Realtime.RoomWaitAttempts, Delay: cfg.Realtime.RoomWaitDelay},
		CheckInterval:  cfg.Realtime.CheckInterval,
		RequestTimeout: cfg.Auth.RequestTimeout,
	}
}

// buildDesk wires the desk to its transport and attaches its token source.
func buildDesk(cfg *config.Config, ids agent.IDs, st store.Store, api desk.Backend) (*desk.Desk, realtime.Transport, error) {
	tokens := &deskTokens{}
	transport, dispatcher := buildTransport(cfg, ids, tokens)
	d, err := desk.New(deskConfig(cfg, ids), st, api, transport, dispatcher)
	if err != nil {
		_ = transport.Close()
		return nil, nil, err
	}
	tokens.desk.Store(d)
	return d, transport, nil
}
