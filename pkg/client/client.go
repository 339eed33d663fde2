// Package client is a small HTTP client for the convertd API.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client talks to a convertd daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration // covers the whole conversion round trip
	Logger   *slog.Logger
	Insecure bool // skip TLS verification
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 3 * time.Minute,
	}
}

// New creates a convertd API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 3 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := &http.Transport{}
	if config.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- explicit opt-in
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("convertd: %d: %s", e.StatusCode, e.Message)
}

// ServiceStatus mirrors the daemon's /status response.
type ServiceStatus struct {
	Engine struct {
		Running             bool `json:"running"`
		Starting            bool `json:"starting"`
		PID                 int  `json:"pid,omitempty"`
		ConsecutiveFailures int  `json:"consecutive_failures"`
	} `json:"engine"`
	Pairs [][2]string `json:"supported_pairs"`
}

// Convert uploads a document and returns the converted bytes.
func (c *Client) Convert(ctx context.Context, doc io.Reader, filename, inputFmt, outputFmt string) ([]byte, error) {
	var body strings.Builder
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, doc); err != nil {
		return nil, err
	}
	if err := w.WriteField("input_format", inputFmt); err != nil {
		return nil, err
	}
	if err := w.WriteField("output_format", outputFmt); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", strings.NewReader(body.String()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// ConvertFile converts a local file and writes the result next to it using
// the server-chosen extension, or to destPath when non-empty. Returns the
// written path.
func (c *Client) ConvertFile(ctx context.Context, srcPath, inputFmt, outputFmt, destPath string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	out, err := c.Convert(ctx, f, filepath.Base(srcPath), inputFmt, outputFmt)
	if err != nil {
		return "", err
	}
	if destPath == "" {
		base := strings.TrimSuffix(srcPath, filepath.Ext(srcPath))
		destPath = base + "." + outputFmt
	}
	if err := os.WriteFile(destPath, out, 0o600); err != nil {
		return "", err
	}
	return destPath, nil
}

// Status fetches the daemon's supervisor snapshot.
func (c *Client) Status(ctx context.Context) (*ServiceStatus, error) {
	resp, err := c.get(ctx, "/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var st ServiceStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Ready reports whether the daemon's engine is ready to convert.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := c.get(ctx, "/readyz")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

func apiError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(b, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(b))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
}
