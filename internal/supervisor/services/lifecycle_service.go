// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package services

import (
	"context"
	"fmt"
)

// StartStopper is a component with a background loop, such as
// *watermark.Compactor.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}

// LifecycleService adapts Start/Stop to suture's Serve.
type LifecycleService struct {
	component StartStopper
	name      string
}

// NewLifecycleService wraps component under name.
func NewLifecycleService(name string, component StartStopper) *LifecycleService {
	return &LifecycleService{component: component, name: name}
}

// Serve starts the component, blocks until ctx is done, then stops it.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	<-ctx.Done()
	if err := s.component.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *LifecycleService) String() string {
	return s.name
}
