// Package placard talks to the side-panel display service over a
// Unix-domain socket HTTP client. The client is deliberately thin: the
// Controller treats every failure here as non-fatal (spec §6, "transient
// downstream failure"), so the single retry lives here rather than forcing
// every caller to reimplement it.
package placard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/footron/controller/internal/types"
)

// Client is an HTTP client dialed over a Unix-domain socket, the same shape
// the teacher uses for its websocket runner client (api/pkg/gptscript/runner.go)
// minus the long-lived connection: each call here is a short request/response.
type Client struct {
	http       *http.Client
	socketPath string
}

func New(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

type experiencePayload struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	LongDescription string `json:"long_description,omitempty"`
	Artist          string `json:"artist,omitempty"`
}

// UpdateExperience pushes the current experience's display metadata to the
// placard, retrying once on a transient network error (spec §6).
func (c *Client) UpdateExperience(ctx context.Context, exp *types.Experience) error {
	var body experiencePayload
	if exp != nil {
		body = experiencePayload{
			ID:              exp.ID,
			Title:           exp.Title,
			Description:     exp.Description,
			LongDescription: exp.LongDescription,
			Artist:          exp.Artist,
		}
	}
	return c.putOnceRetried(ctx, "/experience", body)
}

// UpdateURL pushes the rotating access URL (QR code contents) for the
// current experience session.
func (c *Client) UpdateURL(ctx context.Context, url string) error {
	return c.putOnceRetried(ctx, "/url", map[string]string{"url": url})
}

func (c *Client) putOnceRetried(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("placard: encoding request: %w", err)
	}

	return retry.Do(
		func() error { return c.put(ctx, path, payload) },
		retry.Attempts(2),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) put(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, "http://placard"+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("placard: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("placard: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("placard: unexpected status %d", resp.StatusCode)
	}
	return nil
}
