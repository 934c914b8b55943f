package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// Client talks to the server's HTTP surface with the agent's admin token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client. baseURL carries the scheme and host, no
// trailing slash.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// PostStatus publishes one machine-status snapshot.
func (c *Client) PostStatus(ctx context.Context, status protocol.MachineStatus) error {
	body, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("agent: failed to encode status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/machine/status", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent: status post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent: status post returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// GetStatuses fetches the latest snapshot of every machine.
func (c *Client) GetStatuses(ctx context.Context) (map[identity.Hostname]protocol.MachineStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/machine/status", nil)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: status fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent: status fetch returned %d: %s", resp.StatusCode, msg)
	}

	var statuses map[identity.Hostname]protocol.MachineStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, fmt.Errorf("agent: malformed status response: %w", err)
	}
	return statuses, nil
}
