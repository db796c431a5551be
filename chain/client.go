package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Status is the external ledger's view of a submitted root.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Client is the external immutable ledger collaborator. Submit records a
// checkpoint root and returns an opaque receipt; Confirm reports whether
// the receipt has settled. No specific network is assumed.
type Client interface {
	Submit(ctx context.Context, rootHash string) (string, error)
	Confirm(ctx context.Context, receipt string) (Status, error)
}

// HTTPClient talks to an anchoring gateway over HTTP with a bounded
// request timeout.
type HTTPClient struct {
	base string
	http *http.Client
}

func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Submit(ctx context.Context, rootHash string) (string, error) {
	body, err := json.Marshal(map[string]string{"root_hash": rootHash})
	if err != nil {
		return "", fmt.Errorf("chain: marshal submit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/anchors", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chain: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chain: submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("chain: submit status %d", resp.StatusCode)
	}

	var out struct {
		Receipt string `json:"receipt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("chain: decode submit response: %w", err)
	}
	if out.Receipt == "" {
		return "", fmt.Errorf("chain: empty receipt")
	}
	return out.Receipt, nil
}

func (c *HTTPClient) Confirm(ctx context.Context, receipt string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/anchors/"+receipt, nil)
	if err != nil {
		return "", fmt.Errorf("chain: build confirm request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chain: confirm: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chain: confirm status %d", resp.StatusCode)
	}

	var out struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("chain: decode confirm response: %w", err)
	}
	switch out.Status {
	case StatusPending, StatusConfirmed, StatusFailed:
		return out.Status, nil
	}
	return "", fmt.Errorf("chain: unknown status %q", out.Status)
}
