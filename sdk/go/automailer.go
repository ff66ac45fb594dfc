// Package automailer is a Go client for the automailer HTTP API.
//
// Client wraps the three mailing endpoints. Flow drives a complete run the
// way the web UI does: fetch the eligible recipients, confirm with the
// passcode, then send.
package automailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConfirmHeader carries the confirmation passcode on POST /send-emails.
const ConfirmHeader = "X-Confirm-Passcode"

// Config holds the configuration for the automailer client.
type Config struct {
	// BaseURL is the root URL of the automailer server.
	// Examples: "http://localhost:8080" or "https://mail.example.com/api"
	BaseURL string

	// HTTPClient is an optional custom HTTP client.
	// If nil, a client with a 30 minute timeout is used; a send run
	// returns only after every recipient has been attempted.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Client is the automailer SDK client.
type Client struct {
	cfg Config
}

// NewClient creates a new automailer client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// ProcessSpreadsheet reads a sheet and returns its rows, the tracking column
// and the eligible recipients.
func (c *Client) ProcessSpreadsheet(ctx context.Context, spreadsheetID string) (*ProcessResponse, error) {
	body, err := c.post(ctx, "/process-spreadsheet", map[string]string{
		"spreadsheetUrl": spreadsheetID,
	}, nil)
	if err != nil {
		return nil, err
	}

	var resp ProcessResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("automailer: failed to parse process response: %w", err)
	}
	return &resp, nil
}

// SendEmails starts a mailing run and blocks until it completes. passcode
// is sent in ConfirmHeader when non-empty.
func (c *Client) SendEmails(ctx context.Context, req SendRequest, passcode string) (*SendResult, error) {
	var headers map[string]string
	if passcode != "" {
		headers = map[string]string{ConfirmHeader: passcode}
	}

	body, err := c.post(ctx, "/send-emails", req, headers)
	if err != nil {
		return nil, err
	}

	var resp SendResult
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("automailer: failed to parse send response: %w", err)
	}
	return &resp, nil
}

// VerifyAttendance checks the shape of an attendance code. An invalid code
// is reported as an *APIError with status 400.
func (c *Client) VerifyAttendance(ctx context.Context, code string) (*VerifyResponse, error) {
	body, err := c.post(ctx, "/verify-attendance", map[string]string{"code": code}, nil)
	if err != nil {
		return nil, err
	}

	var resp VerifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("automailer: failed to parse verify response: %w", err)
	}
	return &resp, nil
}

// Health returns the server health report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("automailer: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		// A degraded server still answers with a report
		apiErr, ok := IsAPIError(err)
		if !ok || apiErr.StatusCode != http.StatusServiceUnavailable {
			return nil, err
		}
		body = []byte(apiErr.raw)
	}

	var resp HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("automailer: failed to parse health response: %w", err)
	}
	return &resp, nil
}

// post sends a POST request to the automailer API.
func (c *Client) post(ctx context.Context, path string, payload interface{}, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("automailer: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("automailer: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("automailer: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("automailer: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return body, nil
}
