package llm

import (
	"encoding/json"
	"fmt"
	"time"
)

// Output format kinds accepted by the provider
const (
	FormatText       = "text"
	FormatJSONObject = "json_object"
	FormatJSONSchema = "json_schema"
)

// Message is a single role-tagged chat message
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// JSONSchemaSpec names a JSON schema the model output must conform to
type JSONSchemaSpec struct {
	Name   string `json:"name"`
	Strict bool   `json:"strict"`
	Schema any    `json:"schema"`
}

// OutputFormat describes the requested model output shape
type OutputFormat struct {
	Kind   string
	Schema *JSONSchemaSpec // Set only when Kind is FormatJSONSchema
}

// CompletionRequest is one structured completion call. Immutable per call.
type CompletionRequest struct {
	Messages  []Message
	Format    *OutputFormat
	MaxTokens int
	Model     string
}

// CallOptions override per-call retry and timeout behavior
type CallOptions struct {
	MaxAttempts int           // 0 = use client default
	Timeout     time.Duration // 0 = use client default
}

// CompletionResult carries the extracted JSON payload plus the raw provider
// response for diagnostics. JSON conforms to the requested schema only when
// the strict format was accepted by the provider; after a format downgrade it
// is merely syntactically valid JSON.
type CompletionResult struct {
	JSON json.RawMessage
	Raw  *ProviderResponse
}

// ProviderResponse is the provider's chat-completions payload
type ProviderResponse struct {
	Choices []struct {
		Message struct {
			Content any `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

type providerRequest struct {
	Model          string                  `json:"model"`
	Messages       []Message               `json:"messages"`
	ResponseFormat *providerResponseFormat `json:"response_format,omitempty"`
	MaxTokens      int                     `json:"max_tokens,omitempty"`
	Temperature    float64                 `json:"temperature"`
}

type providerResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// BadRequestError is a non-retryable provider rejection (caller
// misconfiguration, unsupported parameter, rejected request shape)
type BadRequestError struct {
	Status  int
	Message string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("provider rejected request (HTTP %d): %s", e.Status, e.Message)
}

// ParseError means the model's output could not be coerced to valid JSON even
// after lenient extraction. Snippet holds a bounded prefix/suffix of the raw
// text for diagnosis.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse model output; %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// statusError is an internal retryable-vs-not HTTP failure carrier
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.status, e.body)
}
