// Package upstash implements a store.Backend on top of a Redis REST
// pipeline endpoint, such as Upstash or the bundled kvproxy.
package upstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every pipeline request when Config.Timeout is zero.
const DefaultTimeout = 2 * time.Second

// Config describes how to reach the REST endpoint.
type Config struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Configured reports whether both the URL and the token are set.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Token) != ""
}

// Reply is one element of a pipeline response.
type Reply struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// errCommand marks a per-command error returned inside a pipeline reply.
var errCommand = errors.New("command failed")

// errDecode marks a response body that could not be understood.
var errDecode = errors.New("malformed response")

// Client sends command pipelines to the REST endpoint.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a Client. It does not contact the server.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		url:     strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		token:   strings.TrimSpace(cfg.Token),
		timeout: timeout,
		http:    hc,
	}
}

// Pipeline runs the commands in order and returns one Reply per command.
// Per-command errors are left in the replies for the caller to inspect.
func (c *Client) Pipeline(ctx context.Context, cmds ...[]any) ([]Reply, error) {
	body, err := json.Marshal(cmds)
	if err != nil {
		return nil, fmt.Errorf("%w: encode pipeline: %v", errDecode, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/pipeline", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pipeline returned %s: %s", resp.Status, bytes.TrimSpace(raw))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var replies []Reply
	if err := dec.Decode(&replies); err != nil {
		return nil, fmt.Errorf("%w: %v", errDecode, err)
	}
	if len(replies) != len(cmds) {
		return nil, fmt.Errorf("%w: got %d replies for %d commands", errDecode, len(replies), len(cmds))
	}
	return replies, nil
}

func (r Reply) err() error {
	if r.Error == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", errCommand, r.Error)
}
