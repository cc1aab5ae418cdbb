package e2e

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

// TestContext holds per-scenario HTTP state against a running server.
type TestContext struct {
	BaseURL string
	client  *http.Client

	tokens       map[string]string
	currentToken string
	saved        map[string]string

	lastStatus int
	lastBody   []byte
}

func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		tokens:  map[string]string{},
		saved:   map[string]string{},
	}
}

func (tc *TestContext) Reset() {
	tc.currentToken = ""
	tc.saved = map[string]string{}
	tc.lastStatus = 0
	tc.lastBody = nil
}

// LoginAs fetches a development token for username and makes it current.
func (tc *TestContext) LoginAs(username string) error {
	if token, ok := tc.tokens[username]; ok {
		tc.currentToken = token
		return nil
	}
	if err := tc.do(http.MethodPost, "/dev/token", map[string]string{"username": username}, ""); err != nil {
		return err
	}
	if tc.lastStatus != http.StatusOK {
		return fmt.Errorf("dev token for %s: status %d: %s", username, tc.lastStatus, tc.lastBody)
	}
	token, err := tc.GetResponseField("access_token")
	if err != nil {
		return err
	}
	tc.tokens[username] = fmt.Sprint(token)
	tc.currentToken = tc.tokens[username]
	return nil
}

func (tc *TestContext) Logout() {
	tc.currentToken = ""
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, tc.currentToken)
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil, tc.currentToken)
}

func (tc *TestContext) DELETE(path string) error {
	return tc.do(http.MethodDelete, path, nil, tc.currentToken)
}

func (tc *TestContext) Status() int {
	return tc.lastStatus
}

// GetResponseField reads a top-level field from the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response %s", field, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) Save(name, value string) {
	tc.saved[name] = value
}

// Expand replaces {name} placeholders with saved values.
func (tc *TestContext) Expand(s string) string {
	for k, v := range tc.saved {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

func (tc *TestContext) do(method, path string, body any, token string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, tc.BaseURL+tc.Expand(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}
