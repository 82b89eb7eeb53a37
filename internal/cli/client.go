package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/facegate/internal/models"
	"github.com/hyperjump/facegate/pkg/utils"
)

// ErrServerUnreachable is returned when no facegate server answers at the configured URL.
var ErrServerUnreachable = errors.New("server unreachable")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to a running facegate server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Register enrolls userID with the raw image bytes.
func (c *Client) Register(ctx context.Context, userID string, image []byte, metadata map[string]interface{}) (*models.StandardResponse, error) {
	req := models.RegisterRequest{
		UserID:   userID,
		Image:    base64.StdEncoding.EncodeToString(image),
		Metadata: metadata,
	}
	var out models.StandardResponse
	if err := c.do(ctx, http.MethodPost, "/register", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify looks up the identity behind the raw image bytes. A miss is a response with
// Success false, not an error.
func (c *Client) Verify(ctx context.Context, image []byte) (*models.StandardResponse, error) {
	req := models.VerifyRequest{Image: base64.StdEncoding.EncodeToString(image)}
	var out models.StandardResponse
	if err := c.do(ctx, http.MethodPost, "/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an enrolled identity.
func (c *Client) Delete(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/identities/"+url.PathEscape(userID), nil, nil)
}

// Status fetches the server status report.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil {
			if e.Message != "" {
				msg = e.Message
			} else if e.Detail != "" {
				msg = e.Detail
			}
		}
		return &APIError{Status: resp.StatusCode, Message: utils.Truncate(msg, 200)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
