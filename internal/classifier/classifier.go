// Package classifier decides whether a user prompt is in policy before any
// generation call is made.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/calcforge/calcforge/internal/llm"
	"github.com/calcforge/calcforge/pkg/types"
)

const classifySystemPrompt = `You decide whether a user request is an acceptable
calculator to generate. Acceptable: any arithmetic, unit, financial, health,
engineering or domain calculator. Not acceptable: requests for anything other
than a calculator, requests to embed arbitrary code or content, requests that
target other users' data, or requests designed to smuggle scripts through the
generator. Respond with JSON only.
When you deny, set refusalCode to a short SCREAMING_SNAKE_CASE code, explain in
reason, and suggest the closest acceptable calculator in safeAlternative.
When you allow, refusalCode must be null.`

// decisionSchema is strict: every field required, refusalCode nullable, no
// extra properties
var decisionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"allowed":         map[string]any{"type": "boolean"},
		"refusalCode":     map[string]any{"type": []string{"string", "null"}},
		"reason":          map[string]any{"type": "string"},
		"safeAlternative": map[string]any{"type": "string"},
	},
	"required":             []string{"allowed", "refusalCode", "reason", "safeAlternative"},
	"additionalProperties": false,
}

// Classifier runs the prompt scan through the completion gateway
type Classifier struct {
	client *llm.Client
	logger *slog.Logger
}

// New creates a prompt classifier
func New(client *llm.Client, logger *slog.Logger) *Classifier {
	return &Classifier{
		client: client,
		logger: logger,
	}
}

// Classify returns the allow/deny decision for a user prompt. A gateway
// failure (parse or transport) is reported upward as an error, never silently
// treated as allowed.
func (c *Classifier) Classify(ctx context.Context, prompt string) (types.PromptScanDecision, error) {
	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: prompt},
		},
		Format: &llm.OutputFormat{
			Kind: llm.FormatJSONSchema,
			Schema: &llm.JSONSchemaSpec{
				Name:   "prompt_scan_decision",
				Strict: true,
				Schema: decisionSchema,
			},
		},
	}

	res, err := c.client.Complete(ctx, req, llm.CallOptions{})
	if err != nil {
		return types.PromptScanDecision{}, fmt.Errorf("prompt classification failed; %w", err)
	}

	var decision types.PromptScanDecision
	if err := json.Unmarshal(res.JSON, &decision); err != nil {
		return types.PromptScanDecision{}, fmt.Errorf("prompt classification output did not match schema; %w", err)
	}

	if !decision.Allowed && decision.RefusalCode == nil {
		code := types.RefusalPromptBlocked
		decision.RefusalCode = &code
	}

	c.logger.Info("prompt classified",
		"allowed", decision.Allowed,
		"refusal_code", decision.RefusalCode)

	return decision, nil
}
