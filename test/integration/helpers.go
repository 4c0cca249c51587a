// Package integration spins up real backing stores in containers and runs
// the construction and analysis pipelines against them.  The suite is
// opt-in: set ATHENE_INTEGRATION_TESTS=1 and have a Docker daemon
// available, otherwise every test skips itself.
package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/athene-kg/athene/internal/config"
)

const (
	envEnabled = "ATHENE_INTEGRATION_TESTS"

	postgresImage = "postgres:16-alpine"
	neo4jImage    = "neo4j:5.18-community"

	postgresUser = "athene"
	postgresPass = "athene"
	postgresDB   = "athene_test"

	neo4jPass = "athene-integration"

	setupTimeout = 2 * time.Minute
)

func skipUnlessEnabled(t *testing.T) {
	t.Helper()
	if os.Getenv(envEnabled) == "" {
		t.Skipf("set %s=1 to run integration tests", envEnabled)
	}
}

// startPostgres launches a throwaway PostgreSQL container and returns the
// connection config plus the migrate-compatible URL.
func startPostgres(t *testing.T) (config.DatabaseConfig, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPass,
				"POSTGRES_DB":       postgresDB,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(setupTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("postgres container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres container port: %v", err)
	}

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     postgresUser,
		Password: postgresPass,
		DBName:   postgresDB,
		SSLMode:  "disable",
		MaxConns: 5,
	}
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		postgresUser, postgresPass, host, port.Int(), postgresDB)
	return cfg, dbURL
}

// startNeo4j launches a throwaway Neo4j container and returns the driver
// config.
func startNeo4j(t *testing.T) config.Neo4jConfig {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        neo4jImage,
			ExposedPorts: []string{"7687/tcp"},
			Env: map[string]string{
				"NEO4J_AUTH": "neo4j/" + neo4jPass,
			},
			WaitingFor: wait.ForLog("Started.").WithStartupTimeout(setupTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting neo4j container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("neo4j container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "7687")
	if err != nil {
		t.Fatalf("neo4j container port: %v", err)
	}

	return config.Neo4jConfig{
		URI:      fmt.Sprintf("bolt://%s:%d", host, port.Int()),
		User:     "neo4j",
		Password: neo4jPass,
		Database: "neo4j",
	}
}

// startRedis runs an in-process miniredis; the lock and cache protocols it
// implements are all the pipeline needs.
func startRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	mr := miniredis.RunT(t)
	return config.RedisConfig{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}
}
