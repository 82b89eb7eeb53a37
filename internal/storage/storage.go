// Package storage defines the persistence interface for enrolled identities.
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"iter"
	"math"

	"github.com/hyperjump/facegate/internal/models"
)

var (
	// ErrNotFound is returned when no identity has the requested key.
	ErrNotFound = errors.New("identity not found")
	// ErrAlreadyExists is returned when an identity key is already enrolled.
	ErrAlreadyExists = errors.New("identity already exists")
)

// Storage persists enrolled identities. Keys are unique; the store enforces it.
type Storage interface {
	CreateIdentity(ctx context.Context, id *models.Identity) error
	GetIdentity(ctx context.Context, userID string) (*models.Identity, error)
	DeleteIdentity(ctx context.Context, userID string) error
	ExistsIdentity(ctx context.Context, userID string) (bool, error)

	// ScanIdentities streams every enrolled identity once. A non-nil error ends the stream.
	// Records whose vector cannot be decoded are yielded with a nil Embedding.
	ScanIdentities(ctx context.Context) iter.Seq2[*models.Identity, error]

	CountIdentities(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

// bytesToFloat32Slice returns nil when b is not a whole number of float32 values.
func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	if len(b)%size != 0 {
		return nil
	}
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
