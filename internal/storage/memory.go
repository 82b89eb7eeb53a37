package storage

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/facegate/internal/models"
)

// snapshotVersion is written at the head of every memory snapshot.
const snapshotVersion uint32 = 1

const (
	// version and count
	snapshotHeaderBytes = 8
	// key length, dimensions, created_at and metadata length of an empty record
	minRecordBytes = 20
)

// ErrCorruptSnapshot is returned when a snapshot declares more data than the file holds.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// MemoryStorage is an in-memory Storage for tests and small deployments.
// Contents survive restarts only through Save and Load.
type MemoryStorage struct {
	mu           sync.RWMutex
	records      []*models.Identity
	byKey        map[string]int
	snapshotPath string
}

// NewMemoryStorage creates an empty memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{byKey: make(map[string]int)}
}

// OpenMemoryStorage creates a memory store backed by a snapshot file: the snapshot is loaded
// now and written back on Close.
func OpenMemoryStorage(snapshotPath string) (*MemoryStorage, error) {
	m := NewMemoryStorage()
	if err := m.Load(snapshotPath); err != nil {
		return nil, err
	}
	m.snapshotPath = snapshotPath
	return m, nil
}

// CreateIdentity appends a copy of id.
func (m *MemoryStorage) CreateIdentity(_ context.Context, id *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[id.UserID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id.UserID)
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	m.byKey[id.UserID] = len(m.records)
	m.records = append(m.records, cloneIdentity(id))
	return nil
}

// GetIdentity returns a copy of the identity with key userID.
func (m *MemoryStorage) GetIdentity(_ context.Context, userID string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byKey[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return cloneIdentity(m.records[i]), nil
}

// ExistsIdentity reports whether userID is enrolled.
func (m *MemoryStorage) ExistsIdentity(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byKey[userID]
	return ok, nil
}

// DeleteIdentity removes an identity and keeps the remaining records in insertion order.
func (m *MemoryStorage) DeleteIdentity(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byKey[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	delete(m.byKey, userID)
	for j := i; j < len(m.records); j++ {
		m.byKey[m.records[j].UserID] = j
	}
	return nil
}

// ScanIdentities streams a point-in-time view of the store in insertion order.
// The lock is not held while yielding, so callers may use the store from inside the loop.
func (m *MemoryStorage) ScanIdentities(ctx context.Context) iter.Seq2[*models.Identity, error] {
	return func(yield func(*models.Identity, error) bool) {
		m.mu.RLock()
		view := make([]*models.Identity, len(m.records))
		copy(view, m.records)
		m.mu.RUnlock()

		for _, id := range view {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

// CountIdentities returns the number of enrolled identities.
func (m *MemoryStorage) CountIdentities(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// Ping always succeeds.
func (m *MemoryStorage) Ping(context.Context) error { return nil }

// Close saves the snapshot when the store was opened with one.
func (m *MemoryStorage) Close() error {
	return m.Save(m.snapshotPath)
}

// Save persists the store to path. Directory is created if needed. Format: version (4), n (4),
// then per identity: keyLen (4), key, dim (4), vector (dim*4), created_at unix nanos (8),
// metaLen (4), metadata JSON.
func (m *MemoryStorage) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeSnapshot(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryStorage) writeSnapshot(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, snapshotVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.records))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, id := range m.records {
		if err := writeChunk(w, []byte(id.UserID)); err != nil {
			return fmt.Errorf("write key: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id.Embedding))); err != nil {
			return fmt.Errorf("write dimensions: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(id.Embedding)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, id.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("write created_at: %w", err)
		}
		var meta []byte
		if len(id.Metadata) > 0 {
			var err error
			if meta, err = json.Marshal(id.Metadata); err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", id.UserID, err)
			}
		}
		if err := writeChunk(w, meta); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}
	return nil
}

// Load reads a snapshot from path and replaces the in-memory contents.
// If the file does not exist, no error is returned and the store is unchanged.
func (m *MemoryStorage) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot file: %w", err)
	}
	size := info.Size()
	r := bufio.NewReader(f)

	var version, n uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	if int64(n) > (size-snapshotHeaderBytes)/minRecordBytes {
		return fmt.Errorf("%w: %d records do not fit in %d bytes", ErrCorruptSnapshot, n, size)
	}
	records := make([]*models.Identity, 0, n)
	byKey := make(map[string]int, n)
	for i := uint32(0); i < n; i++ {
		key, err := readChunk(r, size)
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return fmt.Errorf("read dimensions: %w", err)
		}
		if int64(dim)*4 > size {
			return fmt.Errorf("%w: vector of %d dimensions does not fit in %d bytes", ErrCorruptSnapshot, dim, size)
		}
		buf := make([]byte, int(dim)*4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		var nanos int64
		if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
			return fmt.Errorf("read created_at: %w", err)
		}
		meta, err := readChunk(r, size)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		id := &models.Identity{
			UserID:    string(key),
			Embedding: bytesToFloat32Slice(buf),
			CreatedAt: time.Unix(0, nanos).UTC(),
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &id.Metadata); err != nil {
				return fmt.Errorf("unmarshal metadata for %s: %w", id.UserID, err)
			}
		}
		byKey[id.UserID] = len(records)
		records = append(records, id)
	}

	m.mu.Lock()
	m.records = records
	m.byKey = byKey
	m.mu.Unlock()
	return nil
}

func writeChunk(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readChunk reads a length-prefixed chunk, refusing lengths above limit.
func readChunk(r io.Reader, limit int64) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if int64(n) > limit {
		return nil, fmt.Errorf("%w: chunk of %d bytes exceeds %d", ErrCorruptSnapshot, n, limit)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func cloneIdentity(id *models.Identity) *models.Identity {
	c := *id
	if id.Embedding != nil {
		c.Embedding = append([]float32(nil), id.Embedding...)
	}
	if id.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(id.Metadata))
		for k, v := range id.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
