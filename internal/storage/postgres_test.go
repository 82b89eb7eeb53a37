//go:build integration

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/models"
)

func setupPostgres(t *testing.T) (*PostgresStorage, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	url := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	store, err := NewPostgresStorage(ctx, PostgresConfig{URL: url, MaxOpenConns: 5, MaxIdleConns: 2}, zap.NewNop())
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open store: %v", err)
	}

	return store, func() {
		store.Close()
		container.Terminate(ctx)
	}
}

func TestPostgresStorage_Contract(t *testing.T) {
	store, cleanup := setupPostgres(t)
	if store == nil {
		return
	}
	defer cleanup()
	runStorageContract(t, store)

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		if err := store.Migrate(context.Background()); err != nil {
			t.Fatalf("second migrate: %v", err)
		}
	})

	t.Run("RejectsEmptyEmbedding", func(t *testing.T) {
		err := store.CreateIdentity(context.Background(), &models.Identity{UserID: "empty"})
		if err == nil || errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected plain error for empty embedding, got %v", err)
		}
	})

	t.Run("VGGFaceDimensions", func(t *testing.T) {
		vec := make([]float32, 2622)
		for i := range vec {
			vec[i] = float32(i) / 2622
		}
		ctx := context.Background()
		if err := store.CreateIdentity(ctx, &models.Identity{UserID: "vgg", Embedding: vec}); err != nil {
			t.Fatal(err)
		}
		got, err := store.GetIdentity(ctx, "vgg")
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Embedding) != 2622 || got.Embedding[2621] != vec[2621] {
			t.Errorf("round trip lost precision or length: len=%d", len(got.Embedding))
		}
	})
}
