package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/calcforge/calcforge/internal/config"
)

const (
	maxResponseBytes = 10 * 1024 * 1024
	snippetRadius    = 200
)

// retryableStatuses are provider statuses worth another attempt
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// schemaRejectionHints are substrings of provider 400 bodies that indicate
// the provider does not support strict json_schema output. The exact trigger
// strings are provider-version-dependent; this is a compatibility shim, not a
// contract.
var schemaRejectionHints = []string{
	"json_schema",
	"response_format",
	"structured output",
}

// Client is the completion gateway: it sends structured-output requests to an
// OpenAI-compatible provider, retries transient failures with exponential
// backoff, and extracts JSON from free-form or malformed model text.
type Client struct {
	cfg        config.ProviderConfig
	logger     *slog.Logger
	httpClient *http.Client
}

// NewClient creates a new completion gateway client
func NewClient(cfg config.ProviderConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{},
	}
}

// Complete performs one structured completion call. It retries transient
// failures up to the attempt budget, downgrades a rejected strict JSON-schema
// format to a generic JSON-object format exactly once, and returns the
// extracted JSON payload alongside the raw provider response.
func (c *Client) Complete(ctx context.Context, req CompletionRequest, opts CallOptions) (*CompletionResult, error) {
	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxAttempts := c.cfg.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	backoffBase := time.Duration(c.cfg.BackoffMs) * time.Millisecond
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}

	format := req.Format
	downgraded := false
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, req, format)
		if err == nil {
			return c.resultFrom(resp)
		}

		var se *statusError
		if errors.As(err, &se) {
			// Compatibility escape hatch: a 400 complaining about the
			// structured-output format while a strict schema was in use gets
			// one downgrade to json_object with one extra attempt. This is
			// not a retry of the same request.
			if se.status == http.StatusBadRequest && isStrictSchema(format) && !downgraded && looksLikeSchemaRejection(se.body) {
				c.logger.Warn("provider rejected json_schema format, downgrading to json_object",
					"status", se.status)
				format = &OutputFormat{Kind: FormatJSONObject}
				downgraded = true
				maxAttempts++
				continue
			}

			if se.status >= 400 && se.status < 500 && !retryableStatuses[se.status] {
				return nil, &BadRequestError{Status: se.status, Message: se.body}
			}

			lastErr = err
		} else {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("provider call aborted; %w", ctx.Err())
			}
			// Network-level failure; retryable
			lastErr = err
		}

		c.logger.Warn("provider attempt failed",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", lastErr)

		if attempt < maxAttempts {
			if err := sleepBackoff(ctx, backoffBase, attempt); err != nil {
				return nil, fmt.Errorf("provider call aborted during backoff; %w", err)
			}
		}
	}

	return nil, fmt.Errorf("provider call failed after %d attempts; %w", maxAttempts, lastErr)
}

// doRequest performs a single HTTP attempt against the provider
func (c *Client) doRequest(ctx context.Context, req CompletionRequest, format *OutputFormat) (*ProviderResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	body := providerRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: 0,
	}
	if req.MaxTokens == 0 {
		body.MaxTokens = c.cfg.MaxOutputTokens
	}

	if format != nil {
		switch format.Kind {
		case FormatJSONObject:
			body.ResponseFormat = &providerResponseFormat{Type: "json_object"}
		case FormatJSONSchema:
			body.ResponseFormat = &providerResponseFormat{Type: "json_schema", JSONSchema: format.Schema}
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider request; %w", err)
	}

	endpoint, err := joinURLPath(c.cfg.BaseURL, "/chat/completions")
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request; %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(os.Getenv(c.cfg.APIKeyEnv)); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute provider request; %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response; %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := strings.TrimSpace(string(respBody))
		if reason == "" {
			reason = "empty response body"
		}
		if len(reason) > 1000 {
			reason = reason[:1000] + "..."
		}
		return nil, &statusError{status: resp.StatusCode, body: reason}
	}

	var parsed ProviderResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode provider response; %w", err)
	}
	if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return nil, fmt.Errorf("provider error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("provider response has no choices")
	}

	return &parsed, nil
}

// resultFrom extracts the JSON payload from a successful provider response.
// A parse failure here is terminal for the call, never retried; the snippet
// logged is bounded so the raw output stays out of the logs.
func (c *Client) resultFrom(resp *ProviderResponse) (*CompletionResult, error) {
	content := resp.Choices[0].Message.Content

	payload, err := contentToJSON(content)
	if err != nil {
		snippet := ""
		if text, ok := content.(string); ok {
			snippet = boundedSnippet(text, snippetRadius)
		}
		c.logger.Warn("failed to extract json from model output",
			"error", err,
			"snippet", snippet)
		return nil, &ParseError{Snippet: snippet, Err: err}
	}

	return &CompletionResult{JSON: payload, Raw: resp}, nil
}

// sleepBackoff waits base x 2^(attempt-1) or until the context is done
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isStrictSchema(format *OutputFormat) bool {
	return format != nil && format.Kind == FormatJSONSchema && format.Schema != nil && format.Schema.Strict
}

func looksLikeSchemaRejection(body string) bool {
	lower := strings.ToLower(body)
	for _, hint := range schemaRejectionHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func joinURLPath(base string, suffix string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("provider base URL cannot be empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse provider base URL %q; %w", base, err)
	}
	suffix = "/" + strings.TrimLeft(strings.TrimSpace(suffix), "/")
	u.Path = strings.TrimRight(u.Path, "/") + suffix
	return u.String(), nil
}
