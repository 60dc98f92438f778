package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/footron/controller/internal/messaging"
)

// CurrentView mirrors the GET /current response shape (spec §6). It
// decodes `{}` (nothing current) into a zero-value CurrentView, which is
// exactly what should_advance's "no current -> advance" rule wants.
type CurrentView struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	Lifetime        int                 `json:"lifetime"`
	LastUpdate      int64               `json:"last_update"`
	Collection      string              `json:"collection,omitempty"`
	EndTime         *int64              `json:"end_time,omitempty"`
	StartTime       *int64              `json:"start_time,omitempty"`
	LastInteraction *int64              `json:"last_interaction,omitempty"`
	LastLockUpdate  *int64              `json:"last_lock_update,omitempty"`
	Lock            messaging.LockValue `json:"lock"`
}

// Current reports whether anything is currently showing.
func (v CurrentView) Current() bool { return v.ID != "" }

// ExperienceView mirrors one entry of GET /experiences (only the fields the
// Scheduler's playlist construction needs; spec §6 catalog reads).
type ExperienceView struct {
	ID         string `json:"id"`
	Collection string `json:"collection,omitempty"`
	Unlisted   bool   `json:"unlisted"`
	Queueable  bool   `json:"queueable"`
}

// Client talks to the Controller's operator HTTP API (spec §4.3: "its only
// interface to the Controller is the operator HTTP API").
type Client struct {
	http    *http.Client
	baseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) GetCurrent(ctx context.Context) (CurrentView, error) {
	var view CurrentView
	if err := c.getJSON(ctx, "/current", &view); err != nil {
		return CurrentView{}, err
	}
	return view, nil
}

func (c *Client) GetExperiences(ctx context.Context) (map[string]ExperienceView, error) {
	var views map[string]ExperienceView
	if err := c.getJSON(ctx, "/experiences", &views); err != nil {
		return nil, err
	}
	return views, nil
}

// ErrThrottled signals the Controller rejected the PUT with 429: either the
// throttle window hasn't elapsed or a transition is already in flight
// (spec §5: "the Scheduler treats this as 'someone else changed it' and
// retries next tick").
var ErrThrottled = fmt.Errorf("scheduler: PUT /current throttled")

// SetCurrent issues PUT /current?throttle=T with {id} (spec §4.3).
func (c *Client) SetCurrent(ctx context.Context, id string, throttle time.Duration) error {
	body, err := json.Marshal(struct {
		ID string `json:"id"`
	}{ID: id})
	if err != nil {
		return fmt.Errorf("scheduler: encoding PUT /current body: %w", err)
	}

	u := c.baseURL + "/current"
	if throttle > 0 {
		u += "?" + url.Values{"throttle": {fmt.Sprintf("%d", int(throttle.Seconds()))}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("scheduler: building PUT /current: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler: PUT /current failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrThrottled
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("scheduler: PUT /current unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("scheduler: building GET %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler: GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("scheduler: GET %s unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
