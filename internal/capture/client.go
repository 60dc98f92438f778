// Package capture is the HTTP client for the external capture-service that
// routes frames from an externally-captured desktop stream into the
// capture-shell subprocess the CaptureEnvironment runs locally (spec §4.1,
// §6: FT_CAPTURE_API_URL). Like internal/placard and internal/windowmanager,
// this is a thin client for a fixed-interface external collaborator (spec
// §1 lists the capture-service itself as an external system; only the shape
// of the handoff is fixed by this spec).
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the capture-service's assignment and status endpoints.
type Client struct {
	http    *http.Client
	baseURL string
}

func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

// Assignment is the {id, path} handoff body (spec §4.1: "Calls an external
// capture-service HTTP API with {id, path}").
type Assignment struct {
	ID   *string `json:"id"`
	Path string  `json:"path,omitempty"`
}

// Status reports the capture-service's view of how many processes are
// currently routing frames for the assigned upstream.
type Status struct {
	Processes int `json:"processes"`
}

// Available reports whether the capture-service is reachable.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// PostAssignment assigns (or, with a nil ID, clears) the upstream this
// experience captures from.
func (c *Client) PostAssignment(ctx context.Context, body Assignment) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("capture: encoding assignment: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assignment", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("capture: building assignment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("capture: posting assignment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("capture: assignment rejected: status %d", resp.StatusCode)
	}
	return nil
}

// GetStatus polls the capture-service's current process count for the
// CaptureEnvironment's failure-detection grace period (spec §4.1).
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return Status{}, fmt.Errorf("capture: building status request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("capture: fetching status: %w", err)
	}
	defer resp.Body.Close()

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("capture: decoding status: %w", err)
	}
	return status, nil
}
