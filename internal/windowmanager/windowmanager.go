// Package windowmanager is a client for the external window-manager
// service: a long-lived TCP connection exchanging newline-delimited JSON
// layout commands (spec §6). Like internal/placard, transient failures here
// are swallowed after one retry so a flaky WM socket can never abort a
// Controller transition (spec §6, propagation policy).
package windowmanager

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/footron/controller/internal/types"
)

type command struct {
	Type     string        `json:"type"`
	After    *time.Time    `json:"after,omitempty"`
	Before   *time.Time    `json:"before,omitempty"`
	Layout   *types.Layout `json:"layout,omitempty"`
	Visible  *bool         `json:"visible,omitempty"`
	LoadTime *int          `json:"load_time,omitempty"`
}

// Client owns one TCP connection to the window-manager, reconnecting lazily
// the way the teacher's runner client redials a dropped websocket
// (api/pkg/gptscript/runner.go).
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

func New(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("windowmanager: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// SetLayout sends a "layout" command for the given composition mode.
func (c *Client) SetLayout(ctx context.Context, layout types.Layout) error {
	now := time.Now()
	return c.sendRetried(ctx, command{Type: "layout", After: &now, Layout: &layout})
}

// ClearViewport sends a "clear_viewport" command. The Controller sends it
// during every transition, after the layout and placard updates and before
// the outgoing environment is stopped (spec §5).
func (c *Client) ClearViewport(ctx context.Context) error {
	now := time.Now()
	return c.sendRetried(ctx, command{Type: "clear_viewport", Before: &now})
}

// ShowLoader asks the window manager to display the full-screen loading
// overlay for loadTime seconds while a slow-starting experience warms up
// (spec §4.2, glossary "Loader").
func (c *Client) ShowLoader(ctx context.Context, loadTime int) error {
	visible := true
	return c.sendRetried(ctx, command{Type: "loader", Visible: &visible, LoadTime: &loadTime})
}

// HideLoader dismisses the loading overlay, sent after loadTime elapses.
func (c *Client) HideLoader(ctx context.Context) error {
	visible := false
	return c.sendRetried(ctx, command{Type: "loader", Visible: &visible})
}

func (c *Client) sendRetried(ctx context.Context, cmd command) error {
	return retry.Do(
		func() error { return c.send(ctx, cmd) },
		retry.Attempts(2),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n).Msg("retrying window-manager command")
		}),
	)
}

func (c *Client) send(ctx context.Context, cmd command) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("windowmanager: encoding command: %w", err)
	}
	payload = append(payload, '\n')

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	}

	if _, err := conn.Write(payload); err != nil {
		c.dropConn()
		return fmt.Errorf("windowmanager: write failed: %w", err)
	}

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := reader.ReadString('\n'); err != nil {
		c.dropConn()
		return fmt.Errorf("windowmanager: ack read failed: %w", err)
	}
	return nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() {
	c.dropConn()
}
