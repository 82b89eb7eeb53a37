package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/hyperjump/facegate/pkg/utils"
)

const (
	defaultExtractorURL = "http://localhost:5000"
	maxErrorBody        = 200
)

// HTTPExtractor calls a face embedding server. The server detects faces in the posted image
// and returns one embedding per face; the face with the highest detection score is used.
type HTTPExtractor struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

// NewHTTPExtractor creates an extractor for the server at baseURL. dimensions, when positive,
// is enforced on every response.
func NewHTTPExtractor(baseURL, model string, dimensions int, timeout time.Duration) *HTTPExtractor {
	if baseURL == "" {
		baseURL = defaultExtractorURL
	}
	return &HTTPExtractor{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

// faceDetection is a single detected face.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

// faceResponse is the response of the face embedding endpoint.
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Extract posts the image to /embed/face and returns the best face's embedding.
func (e *HTTPExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	body, status, err := e.postMultipartImage(ctx, "/embed/face", image)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnprocessableEntity:
		return nil, ErrNoFaceDetected
	case status == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrInvalidImage, utils.Truncate(strings.TrimSpace(string(body)), maxErrorBody))
	case status != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, utils.Truncate(strings.TrimSpace(string(body)), maxErrorBody))
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}

	best := -1
	for i, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		if best < 0 || f.DetScore > resp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrNoFaceDetected
	}
	emb := resp.Faces[best].Embedding
	if err := checkDimensions(len(emb), e.dimensions); err != nil {
		return nil, err
	}
	return emb, nil
}

func (e *HTTPExtractor) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, int, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, 0, fmt.Errorf("failed to write image data: %w", err)
	}
	if e.model != "" {
		if err := writer.WriteField("model", e.model); err != nil {
			return nil, 0, fmt.Errorf("failed to write model field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+endpoint, &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

// Dimensions returns the configured embedding dimension.
func (e *HTTPExtractor) Dimensions() int {
	return e.dimensions
}

// Close releases idle connections.
func (e *HTTPExtractor) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
