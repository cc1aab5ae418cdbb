// Package algod reads application global state from an Algorand node's
// REST API.
package algod

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const tokenHeader = "X-Algo-API-Token"

// tealUint is the value type tag algod uses for integer state entries.
const tealUint = 2

// unlockKey is the global-state key the vault contract sets to 1 on release.
var unlockKey = base64.StdEncoding.EncodeToString([]byte("IsUnlocked"))

// ErrApplicationNotFound is returned when the node has no such application.
var ErrApplicationNotFound = errors.New("application not found")

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type applicationResponse struct {
	ID     uint64 `json:"id"`
	Params struct {
		GlobalState []stateEntry `json:"global-state"`
	} `json:"params"`
}

type stateEntry struct {
	Key   string `json:"key"`
	Value struct {
		Type  int    `json:"type"`
		Bytes string `json:"bytes"`
		Uint  uint64 `json:"uint"`
	} `json:"value"`
}

// IsUnlocked reports whether the application's IsUnlocked flag equals 1.
// A missing flag reads as locked.
func (c *Client) IsUnlocked(ctx context.Context, appID uint64) (bool, error) {
	url := fmt.Sprintf("%s/v2/applications/%d", c.baseURL, appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build algod request: %w", err)
	}
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("algod request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("app %d: %w", appID, ErrApplicationNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("algod status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var app applicationResponse
	if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
		return false, fmt.Errorf("decode algod response: %w", err)
	}
	for _, entry := range app.Params.GlobalState {
		if entry.Key == unlockKey {
			return entry.Value.Type == tealUint && entry.Value.Uint == 1, nil
		}
	}
	return false, nil
}
