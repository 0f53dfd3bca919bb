package thoughts

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

// Message is one conversation turn sent to the thought service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client fetches thought streams from the external completion service. The
// service accepts the conversation history as JSON and answers with a chunked
// text/plain body in the [bt]…[et] / [done] marker grammar.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given endpoint URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Pooled connections keep repeated turn latency low; no overall
		// timeout because the body is consumed incrementally for the whole
		// duration of a turn.
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// Open requests thoughts for the given history and returns the raw body
// stream. The caller feeds it into a [Parser] chunk by chunk and closes it
// when the parser signals done or the turn is aborted.
func (c *Client) Open(ctx context.Context, history []Message) (io.ReadCloser, error) {
	payload, err := json.Marshal(struct {
		Messages []Message `json:"messages"`
	}{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("thought stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("thought stream returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}
