package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hyperjump/facegate/pkg/utils"
)

// MockExtractor is a deterministic extractor for tests and development. It returns a
// fixed-dimension unit vector derived from the image hash, so the same image always gets
// the same embedding and different images land far apart.
type MockExtractor struct {
	dimensions int
}

// NewMockExtractor returns an extractor that produces deterministic embeddings of the given dimensions.
func NewMockExtractor(dimensions int) *MockExtractor {
	if dimensions <= 0 {
		dimensions = 128
	}
	return &MockExtractor{dimensions: dimensions}
}

// Extract returns a deterministic embedding based on the image hash. Empty input has no face.
func (e *MockExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, ErrNoFaceDetected
	}
	h := fnv.New64a()
	_, _ = h.Write(image)
	seed := float64(h.Sum64() % 1_000_003)

	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockExtractor) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockExtractor.
func (e *MockExtractor) Close() error {
	return nil
}
