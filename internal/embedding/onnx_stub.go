//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errONNXUnavailable = errors.New("ONNX extractor requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXExtractor stub type when built without CGO (see onnx.go for real implementation).
type ONNXExtractor struct{}

// NewONNXExtractor returns an error when built without CGO (ONNX not available).
func NewONNXExtractor(_, _, _ string, _, _ int) (*ONNXExtractor, error) {
	return nil, errONNXUnavailable
}

// Extract always fails in non-CGO builds.
func (e *ONNXExtractor) Extract(context.Context, []byte) ([]float32, error) {
	return nil, errONNXUnavailable
}

// Dimensions returns 0 in non-CGO builds.
func (e *ONNXExtractor) Dimensions() int { return 0 }

// Close is a no-op in non-CGO builds.
func (e *ONNXExtractor) Close() error { return nil }
