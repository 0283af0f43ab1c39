// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

//go:build integration

package testinfra

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// SkipDockerEnvVar disables container-backed tests when set to any value.
const SkipDockerEnvVar = "PRICEPIPE_SKIP_DOCKER"

var (
	dockerOnce sync.Once
	dockerOK   bool
)

// RequireDocker skips t unless a Docker daemon answers. The probe runs once
// per test binary.
func RequireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv(SkipDockerEnvVar) != "" {
		t.Skipf("%s is set", SkipDockerEnvVar)
	}
	dockerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dockerOK = exec.CommandContext(ctx, "docker", "info").Run() == nil
	})
	if !dockerOK {
		t.Skip("docker daemon not reachable")
	}
}

// Terminate stops c at the end of a test. Failures are logged only; a leaked
// container is reaped by the testcontainers ryuk sidecar.
func Terminate(t *testing.T, c testcontainers.Container) {
	t.Helper()
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Terminate(ctx); err != nil {
		t.Logf("terminate container: %v", err)
	}
}
