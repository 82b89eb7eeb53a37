package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/facegate/internal/models"
)

// runStorageContract exercises behaviour every driver must share. s must be empty.
func runStorageContract(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		id := &models.Identity{
			UserID:    "alice",
			Embedding: []float32{0.1, -0.2, 0.3},
			Metadata:  map[string]interface{}{"team": "blue"},
		}
		if err := s.CreateIdentity(ctx, id); err != nil {
			t.Fatal(err)
		}
		if id.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set")
		}
		got, err := s.GetIdentity(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if got.UserID != "alice" || len(got.Embedding) != 3 || got.Embedding[1] != -0.2 {
			t.Errorf("got %+v", got)
		}
		if got.Metadata["team"] != "blue" {
			t.Errorf("metadata = %v", got.Metadata)
		}
		if got.CreatedAt.Sub(id.CreatedAt).Abs() > time.Second {
			t.Errorf("created_at = %v, want about %v", got.CreatedAt, id.CreatedAt)
		}
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		err := s.CreateIdentity(ctx, &models.Identity{UserID: "alice", Embedding: []float32{1, 1, 1}})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := s.ExistsIdentity(ctx, "alice")
		if err != nil || !ok {
			t.Errorf("ExistsIdentity(alice) = %v, %v", ok, err)
		}
		ok, err = s.ExistsIdentity(ctx, "nobody")
		if err != nil || ok {
			t.Errorf("ExistsIdentity(nobody) = %v, %v", ok, err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.GetIdentity(ctx, "nobody")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ScanInInsertionOrder", func(t *testing.T) {
		for _, key := range []string{"bob", "carol"} {
			if err := s.CreateIdentity(ctx, &models.Identity{UserID: key, Embedding: []float32{1, 2, 3}}); err != nil {
				t.Fatal(err)
			}
		}
		var keys []string
		for id, err := range s.ScanIdentities(ctx) {
			if err != nil {
				t.Fatal(err)
			}
			keys = append(keys, id.UserID)
		}
		want := []string{"alice", "bob", "carol"}
		if len(keys) != len(want) {
			t.Fatalf("scanned %v, want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("scan[%d] = %s, want %s", i, keys[i], want[i])
			}
		}
	})

	t.Run("ScanStopsEarly", func(t *testing.T) {
		n := 0
		for range s.ScanIdentities(ctx) {
			n++
			break
		}
		if n != 1 {
			t.Errorf("expected to stop after 1, got %d", n)
		}
	})

	t.Run("Count", func(t *testing.T) {
		n, err := s.CountIdentities(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Errorf("count = %d, want 3", n)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.DeleteIdentity(ctx, "bob"); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteIdentity(ctx, "bob"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete: expected ErrNotFound, got %v", err)
		}
		n, _ := s.CountIdentities(ctx)
		if n != 2 {
			t.Errorf("count after delete = %d, want 2", n)
		}
		var keys []string
		for id, err := range s.ScanIdentities(ctx) {
			if err != nil {
				t.Fatal(err)
			}
			keys = append(keys, id.UserID)
		}
		if len(keys) != 2 || keys[0] != "alice" || keys[1] != "carol" {
			t.Errorf("after delete scanned %v", keys)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("ping: %v", err)
		}
	})
}
