// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package services

import (
	"context"
	"errors"
	"fmt"
)

// Runner blocks in Run until ctx is done, such as *extract.Watcher.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a Runner to suture's Serve.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService wraps runner under name.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve runs the runner. A return before cancellation is a failure.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("exited unexpectedly")
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *RunnerService) String() string {
	return s.name
}
