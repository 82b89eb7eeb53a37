// Package embedding turns face images into feature vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/facegate/internal/config"
)

var (
	// ErrNoFaceDetected is returned when the image holds no usable face.
	ErrNoFaceDetected = errors.New("no face detected in the image")
	// ErrInvalidImage is returned when the payload is not a decodable image.
	ErrInvalidImage = errors.New("invalid image data")
	// ErrUnavailable is returned when the extractor backend cannot be reached or misbehaves.
	ErrUnavailable = errors.New("face extractor unavailable")
)

// Extractor produces a fixed-length feature vector for the face in an image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
	Dimensions() int
	Close() error
}

// New creates the Extractor selected by cfg.Type.
func New(cfg config.ExtractorConfig) (Extractor, error) {
	switch cfg.Type {
	case config.ExtractorHTTP:
		return NewHTTPExtractor(cfg.URL, cfg.Model, cfg.Dimensions, cfg.Timeout), nil
	case config.ExtractorONNX:
		e, err := NewONNXExtractor(cfg.ModelPath, cfg.InputName, cfg.OutputName, cfg.InputSize, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.ExtractorMock:
		return NewMockExtractor(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown extractor type: %s", cfg.Type)
	}
}

func checkDimensions(got, want int) error {
	if want > 0 && got != want {
		return fmt.Errorf("%w: extractor returned %d dimensions, expected %d", ErrUnavailable, got, want)
	}
	return nil
}
