//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/facegate/pkg/utils"
)

// ONNXExtractor runs a face embedding model with ONNX Runtime. It requires CGO and the
// onnxruntime shared library. The input image is treated as an aligned face crop; it is
// resized to the model's input size and fed as a 1x3xSxS tensor in [-1, 1].
type ONNXExtractor struct {
	session      *ort.AdvancedSession
	dimensions   int
	inputSize    int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXExtractor loads the model at modelPath. InitializeEnvironment is called if not already done.
func NewONNXExtractor(modelPath, inputName, outputName string, inputSize, dimensions int) (*ONNXExtractor, error) {
	if inputSize <= 0 || dimensions <= 0 {
		return nil, fmt.Errorf("input size and dimensions must be positive")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	s := int64(inputSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, s, s), make([]float32, 3*inputSize*inputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXExtractor{
		session:      session,
		dimensions:   dimensions,
		inputSize:    inputSize,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Extract returns the L2-normalized embedding of the face crop in image.
func (e *ONNXExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	img, err := DecodeImage(image)
	if err != nil {
		return nil, err
	}
	input := imageToTensor(img, e.inputSize)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), input)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference failed: %v", ErrUnavailable, err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData())
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXExtractor) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
