// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Defaults for the Postgres container.
const (
	DefaultPostgresImage = "postgres:16-alpine"
	postgresPort         = "5432/tcp"
	postgresUser         = "pricepipe"
	postgresPassword     = "pricepipe"
	postgresDB           = "pricepipe"
)

// PostgresContainer is a running PostgreSQL instance.
type PostgresContainer struct {
	testcontainers.Container
	DSN string
}

// StartPostgres starts a PostgreSQL container and terminates it when the
// test ends. The test is skipped when Docker is unavailable.
func StartPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	RequireDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := NewPostgresContainer(ctx, DefaultPostgresImage)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		Terminate(t, pg.Container)
	})
	return pg
}

// NewPostgresContainer starts image and waits until it accepts connections.
func NewPostgresContainer(ctx context.Context, image string) (*PostgresContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{postgresPort},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
			"TZ":                "UTC",
		},
		// The server restarts once after initdb; wait for the second notice.
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort(postgresPort),
		).WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &PostgresContainer{
		Container: container,
		DSN: fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			postgresUser, postgresPassword, host, port.Port(), postgresDB),
	}, nil
}
