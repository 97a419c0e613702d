// Package lock drives a machine's REST smart lock: unlock for the
// configured hold, then re-lock once it lapses.
package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const DefaultTimeout = 5 * time.Second

const (
	ActionUnlock = "unlock"
	ActionLock   = "lock"
)

var ErrNotConfigured = errors.New("no lock API URL configured")

// Command is the body every lock endpoint receives.
type Command struct {
	Action    string `json:"action"`
	MachineID string `json:"machineId"`
	Duration  int    `json:"duration,omitempty"`
}

// Target is where and how to reach one lock.
type Target struct {
	URL    string
	APIKey string
}

// APIError is a non-2xx reply from the lock.
type APIError struct {
	Status int
}

func (e *APIError) Error() string { return fmt.Sprintf("Lock API error: %d", e.Status) }

type Client struct {
	HTTP    *http.Client
	Timeout time.Duration
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{}, Timeout: DefaultTimeout}
}

// Trigger posts cmd to the lock. The call is bounded by c.Timeout even if
// ctx allows longer.
func (c *Client) Trigger(ctx context.Context, t Target, cmd Command) error {
	if t.URL == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode}
	}
	return nil
}
