// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package services

import (
	"context"
	"fmt"
)

// StartStopManager is a component with its own background goroutines that
// Start spawns and Stop waits for. *desk.Desk implements it.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// DeskService runs the desk: login, room restore and the periodic
// connection check.
type DeskService struct {
	manager StartStopManager
	name    string
}

// NewDeskService wraps manager.
func NewDeskService(manager StartStopManager) *DeskService {
	return &DeskService{manager: manager, name: "desk"}
}

// Serve implements suture.Service.
func (s *DeskService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("desk start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("desk stop failed: %w", err)
	}
	return ctx.Err()
}

func (s *DeskService) String() string {
	return s.name
}
