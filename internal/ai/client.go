package ai

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

// Client calls the AI coach service for code grading, hint generation
// and reference solutions. Every call carries a hard deadline; callers
// must treat failures as recoverable.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an AI client, or nil when the service is not
// configured.
func NewClient(cfg *config.Config) *Client {
	if cfg == nil || cfg.AIServiceURL == "" {
		log.Printf("[AI] Coach service not configured - skipping initialization")
		return nil
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.AIServiceURL, "/"),
		apiKey:     cfg.AIServiceAPIKey,
		httpClient: &http.Client{Timeout: time.Duration(cfg.AITimeoutSecs) * time.Second},
	}
}

// AnalyzeCodeQuality grades a submission on quality and creativity, both
// 0..10. Implements judge.Grader.
func (c *Client) AnalyzeCodeQuality(ctx context.Context, req judge.QualityRequest) (*judge.QualityResult, error) {
	if c == nil {
		return nil, errors.New("ai client not initialized")
	}

	payload := map[string]interface{}{
		"code":        req.Code,
		"language":    req.Language,
		"title":       req.ChallengeTitle,
		"description": req.ChallengeDescription,
	}

	var resp struct {
		Quality    float64 `json:"quality"`
		Creativity float64 `json:"creativity"`
		Feedback   string  `json:"feedback"`
	}
	if err := c.post(ctx, "/api/v1/analyze", payload, &resp); err != nil {
		return nil, err
	}

	return &judge.QualityResult{
		Quality:    resp.Quality,
		Creativity: resp.Creativity,
		Feedback:   resp.Feedback,
	}, nil
}

// GenerateHint asks the coach for the nth hint (level is 1-based) on the
// player's current code. The caller redacts hidden test data before
// forwarding the content to the player.
func (c *Client) GenerateHint(ctx context.Context, challengeTitle, challengeDescription, currentCode, language string, hintLevel int) (string, error) {
	if c == nil {
		return "", errors.New("ai client not initialized")
	}

	payload := map[string]interface{}{
		"title":       challengeTitle,
		"description": challengeDescription,
		"code":        currentCode,
		"language":    language,
		"level":       hintLevel,
	}

	var resp struct {
		Content string `json:"content"`
		Level   int    `json:"level"`
	}
	if err := c.post(ctx, "/api/v1/hint", payload, &resp); err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", errors.New("empty hint from ai service")
	}
	return resp.Content, nil
}

// GenerateSolution produces a reference solution for a challenge, used to
// synthesize AI ghost recordings when no human ghost exists.
func (c *Client) GenerateSolution(ctx context.Context, challengeTitle, challengeDescription, language string) (string, error) {
	if c == nil {
		return "", errors.New("ai client not initialized")
	}

	payload := map[string]interface{}{
		"title":       challengeTitle,
		"description": challengeDescription,
		"language":    language,
	}

	var resp struct {
		Code string `json:"code"`
	}
	if err := c.post(ctx, "/api/v1/solution", payload, &resp); err != nil {
		return "", err
	}
	if resp.Code == "" {
		return "", errors.New("empty solution from ai service")
	}
	return resp.Code, nil
}

// post sends one JSON request and decodes the JSON response, retrying
// transient failures.
func (c *Client) post(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(raw))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if attempt < 2 {
				time.Sleep(time.Duration(100+attempt*200) * time.Millisecond)
				continue
			}
			return fmt.Errorf("ai request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 500 && attempt < 2 {
			lastErr = fmt.Errorf("ai call failed with status %d: %s", resp.StatusCode, string(body))
			time.Sleep(time.Duration(100+attempt*200) * time.Millisecond)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ai call failed: %d - %s", resp.StatusCode, string(body))
		}

		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("failed to decode response: %w (body: %s)", err, string(body))
		}
		return nil
	}

	return fmt.Errorf("ai call failed after retries: %w", lastErr)
}
