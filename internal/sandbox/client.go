package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/codeclash/backend/internal/config"
	"github.com/codeclash/backend/internal/judge"
)

// Client calls the sandbox runner service, which executes untrusted
// submissions under CPU, memory and wall-clock limits and reports a
// structured result. It implements judge.Executor.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a sandbox client, or nil when the runner is not
// configured.
func NewClient(cfg *config.Config) *Client {
	if cfg == nil || cfg.SandboxURL == "" {
		log.Printf("[SANDBOX] Runner not configured - skipping initialization")
		return nil
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.SandboxURL, "/"),
		apiKey:  cfg.SandboxAPIKey,
		// The per-case deadline arrives via ctx; this is a backstop.
		httpClient: &http.Client{Timeout: time.Duration(cfg.TestCaseTimeoutSecs+5) * time.Second},
	}
}

// Execute runs one submission against one test input. Transient runner
// errors (5xx, connection failures) are retried briefly; a deadline from
// ctx is surfaced unchanged so the caller can mark the case timed out.
func (c *Client) Execute(ctx context.Context, req judge.ExecRequest) (*judge.ExecResult, error) {
	if c == nil {
		return nil, errors.New("sandbox client not initialized")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal exec request: %w", err)
	}

	endpoint := c.baseURL + "/api/v1/execute"

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < 2 {
				time.Sleep(time.Duration(100+attempt*200) * time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("execute request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 500 && attempt < 2 {
			lastErr = fmt.Errorf("execute failed with status %d: %s", resp.StatusCode, string(body))
			time.Sleep(time.Duration(100+attempt*200) * time.Millisecond)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("execute failed: %d - %s", resp.StatusCode, string(body))
		}

		var result judge.ExecResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w (body: %s)", err, string(body))
		}
		return &result, nil
	}

	return nil, fmt.Errorf("execute failed after retries: %w", lastErr)
}
