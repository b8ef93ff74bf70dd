// Package clipdrop is a thin client for the ClipDrop image APIs:
// text-to-image synthesis and background removal. Both calls return raw
// image bytes; the caller decides where they end up.
package clipdrop

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// DefaultBaseURL is the production ClipDrop endpoint.
const DefaultBaseURL = "https://clipdrop-api.co"

// Config for the ClipDrop client
type Config struct {
	APIKey  string
	BaseURL string        // default: DefaultBaseURL
	Timeout time.Duration // default: 60s
}

// Client calls the ClipDrop image APIs
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new ClipDrop client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// TextToImage generates an image from a text prompt and returns the raw
// image bytes.
func (c *Client) TextToImage(ctx context.Context, prompt string) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("prompt", prompt); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	return c.post(ctx, "/text-to-image/v1", writer.FormDataContentType(), &body)
}

// RemoveBackground strips the background from the supplied image and
// returns the processed image bytes.
func (c *Client) RemoveBackground(ctx context.Context, image io.Reader, filename string) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	return c.post(ctx, "/remove-background/v1", writer.FormDataContentType(), &body)
}

// post sends one multipart request and returns the raw response body.
// No retries: a failed call surfaces directly to the handler.
func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clipdrop request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read clipdrop response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clipdrop returned status %d: %s", resp.StatusCode, truncate(data, 256))
	}

	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
