// Package ai wraps the external assistant service. Calls are fallible
// remote requests with a bounded timeout; failures surface to the
// requester, never to the connection.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotConfigured = errors.New("assistant endpoint not configured")

const DefaultTimeout = 15 * time.Second

type Client struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// Request carries the fields the assistant needs for a conflict
// analysis, forwarded opaquely from the wire envelope.
type Request struct {
	Action       string
	UserCode     string
	ConflictCode string
	UserName     string
	ConflictUser string
	RoomID       string
}

type apiRequest struct {
	Action string `json:"action"`
	Prompt string `json:"prompt"`
}

type apiResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

func New(endpoint string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "assistant").Logger(),
	}
}

// Analyze asks the assistant for a free-text take on two conflicting
// edits. The returned text is relayed verbatim to the requester.
func (c *Client) Analyze(ctx context.Context, req Request) (string, error) {
	if c.endpoint == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(apiRequest{
		Action: req.Action,
		Prompt: buildPrompt(req),
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Str("action", req.Action).Msg("assistant call failed")
		return "", fmt.Errorf("assistant call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assistant returned status %d", resp.StatusCode)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("assistant response decode: %w", err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "assistant reported failure"
		}
		return "", errors.New(out.Error)
	}

	c.logger.Debug().
		Str("action", req.Action).
		Dur("elapsed", time.Since(start)).
		Msg("assistant call completed")
	return out.Response, nil
}

func buildPrompt(req Request) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Two participants edited the same Python buffer in room %s.\n\n", req.RoomID)
	fmt.Fprintf(&b, "Version by %s:\n```python\n%s\n```\n\n", req.UserName, req.UserCode)
	fmt.Fprintf(&b, "Version by %s:\n```python\n%s\n```\n\n", req.ConflictUser, req.ConflictCode)
	b.WriteString("Explain the difference and suggest how to combine both changes.")
	return b.String()
}
