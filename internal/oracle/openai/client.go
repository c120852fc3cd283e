// Package openai implements the extraction oracle against the OpenAI
// chat/completions vision endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"docketscan/internal/oracle"
)

// Call sends the prompt and image and returns the raw model text. The retry
// loop is iterative: it carries the attempt number and the last classified
// failure, waits per the backoff policy, and stops early on non-retryable
// kinds. Exhausting attempts surfaces the last failure with its kind-specific
// user-facing message.
func (c *Client) Call(ctx context.Context, prompt string, image []byte) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("oracle.call.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"prompt_len", len(prompt),
		"image_bytes", len(image),
		"max_attempts", c.cfg.MaxAttempts,
	)

	var lastErr *oracle.Error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := oracle.BackoffDelay(attempt-1, c.cfg.BaseDelay, c.cfg.MaxDelay)
			if lastErr.Kind == oracle.KindRateLimited {
				if min := oracle.RateLimitDelay(attempt-1, c.cfg.RateLimitStep); min > wait {
					wait = min
				}
			}
			c.log.Warn("oracle.call.retry",
				"req_id", rid, "attempt", attempt+1, "kind", lastErr.Kind, "wait_ms", wait.Milliseconds())
			select {
			case <-ctx.Done():
				lastErr.Attempts = attempt
				return "", lastErr
			case <-time.After(wait):
			}
		}

		text, oerr := c.attempt(ctx, rid, prompt, image)
		if oerr == nil {
			c.log.Info("oracle.call.ok",
				"req_id", rid, "attempts", attempt+1, "elapsed_ms", time.Since(start).Milliseconds())
			return text, nil
		}
		lastErr = oerr
		if !oerr.Kind.Retryable() {
			lastErr.Attempts = attempt + 1
			c.log.Error("oracle.call.fatal",
				"req_id", rid, "kind", oerr.Kind, "status", oerr.Status, "error", oerr.Err)
			return "", lastErr
		}
	}

	lastErr.Attempts = c.cfg.MaxAttempts
	c.log.Error("oracle.call.exhausted",
		"req_id", rid,
		"kind", lastErr.Kind,
		"attempts", lastErr.Attempts,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return "", lastErr
}

// attempt runs one request under the client's own deadline, strictly shorter
// than any caller deadline so a slow oracle yields a diagnosable timeout.
func (c *Client) attempt(ctx context.Context, rid, prompt string, image []byte) (string, *oracle.Error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"max_tokens":      c.cfg.MaxTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]any{
						"url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
					}},
				},
			},
		},
	}

	bs, err := json.Marshal(body)
	if err != nil {
		return "", &oracle.Error{Kind: oracle.KindClientError, Err: fmt.Errorf("encode request: %w", err)}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bs))
	if err != nil {
		return "", &oracle.Error{Kind: oracle.KindClientError, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		kind := oracle.Classify(0, err)
		if ctx.Err() == context.DeadlineExceeded {
			kind = oracle.KindTimeout
		}
		return "", &oracle.Error{Kind: kind, Err: err}
	}
	defer func(b io.ReadCloser) {
		if cerr := b.Close(); cerr != nil {
			c.log.Warn("oracle.response_body_close_error", "req_id", rid, "error", cerr)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		kind := oracle.Classify(0, err)
		if ctx.Err() == context.DeadlineExceeded {
			kind = oracle.KindTimeout
		}
		return "", &oracle.Error{Kind: kind, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode/100 != 2 {
		return "", &oracle.Error{
			Kind:   oracle.Classify(resp.StatusCode, nil),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200)),
		}
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", &oracle.Error{Kind: oracle.KindUnknown, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(cc.Choices) == 0 {
		return "", &oracle.Error{Kind: oracle.KindUnknown, Err: fmt.Errorf("no choices in response")}
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
