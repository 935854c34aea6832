// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
)

// DefaultAPIShutdownTimeout bounds how long in-flight requests from the
// desktop shell may take once the desk is stopping.
const DefaultAPIShutdownTimeout = 10 * time.Second

// APIServer is the subset of *http.Server that APIService drives.
type APIServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// APIService serves the desk's loopback API (status, reconnect, chats and
// messages) under the supervisor's API layer. A bind failure is returned to
// the supervisor, which retries with backoff while the realtime layer keeps
// running.
type APIService struct {
	server  APIServer
	addr    string
	timeout time.Duration
	log     zerolog.Logger
}

// NewAPIService wraps server listening on addr. A non-positive timeout
// means DefaultAPIShutdownTimeout.
func NewAPIService(server APIServer, addr string, timeout time.Duration) *APIService {
	if timeout <= 0 {
		timeout = DefaultAPIShutdownTimeout
	}
	return &APIService{
		server:  server,
		addr:    addr,
		timeout: timeout,
		log:     logging.Component("api"),
	}
}

// Serve implements suture.Service.
func (s *APIService) Serve(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	s.log.Debug().Str("addr", s.addr).Msg("Local API listening")

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("local api on %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	// ctx is gone; the shell's pending requests get their own deadline.
	stopCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("local api shutdown: %w", err)
	}
	<-done
	s.log.Debug().Str("addr", s.addr).Msg("Local API stopped")
	return ctx.Err()
}

func (s *APIService) String() string {
	return "api-server"
}
