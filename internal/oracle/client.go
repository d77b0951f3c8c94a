// Package oracle is the HTTP client for the LLM oracle: a single POST
// /request endpoint accepting {system_msg, prompt} and returning
// {response}, fenced-code-block stripped before JSON parsing. A
// context-bounded http.Client, a typed retryable-error hierarchy, and
// explicit request validation before dispatch.
package oracle

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

// Request is one call to the oracle.
type Request struct {
	SystemMsg string
	Prompt    string
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("oracle: prompt is required")
	}
	return nil
}

type requestBody struct {
	SystemMsg string `json:"system_msg"`
	Prompt    string `json:"prompt"`
}

type responseBody struct {
	Response string `json:"response"`
}

// Error is the unified error type for oracle failures: status, message,
// retryability, and an optional server-advertised retry delay.
type Error struct {
	StatusCode int
	Message    string
	RetryAfter *time.Duration
	cause      error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("oracle error (status=%d): %s", e.StatusCode, msg)
}
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the caller should retry (5xx, 429, or network
// failure with no interpretable status).
func (e *Error) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

const defaultRequestTimeout = 10 * time.Minute

// Client talks to the LLM oracle at baseURL (e.g. http://127.0.0.1:PORT).
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// New builds a Client. model records the selected backend for logging
// only: the core treats the oracle as opaque and does not branch on it.
func New(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   model,
		http:    &http.Client{Timeout: 0},
	}
}

// Model returns the configured backend name, for telemetry only.
func (c *Client) Model() string { return c.model }

// Complete issues one request to POST {baseURL}/request and returns the
// raw response text with fenced code blocks stripped.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	body, err := json.Marshal(requestBody{SystemMsg: req.SystemMsg, Prompt: req.Prompt})
	if err != nil {
		return "", fmt.Errorf("oracle: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/request", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Message: err.Error(), cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &Error{Message: err.Error(), cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Message: err.Error(), cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var retryAfter *time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if d := parseRetryAfter(ra); d != nil {
				retryAfter = d
			}
		}
		return "", &Error{StatusCode: resp.StatusCode, Message: string(raw), RetryAfter: retryAfter}
	}

	var out responseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("oracle: decode response envelope: %w", err)
	}
	return StripFencedCodeBlock(out.Response), nil
}

func parseRetryAfter(v string) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// StripFencedCodeBlock removes a single leading/trailing Markdown fenced
// code block (``` or ```json ... ```) that LLMs commonly wrap structured
// output in.
func StripFencedCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(s[:nl])
		if firstLine == "" || isLangTag(firstLine) {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isLangTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '+') {
			return false
		}
	}
	return true
}
