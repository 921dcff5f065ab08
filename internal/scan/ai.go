package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/calcforge/calcforge/internal/llm"
	"github.com/calcforge/calcforge/internal/policy"
)

const aiScanSystemPrompt = `You are a security reviewer for self-contained calculator HTML artifacts.
The artifact runs sandboxed in a browser with no network access. Inline scripts,
inline event handlers, 'unsafe-inline' CSP directives and postMessage to the
parent frame are required by the artifact format and are NOT issues.
Report genuine safety issues only: network access, external resource loading,
dynamic code execution (eval, Function constructor, string timers), navigation
or popups, credential capture, data exfiltration.
Respond with JSON: {"isSafe": boolean, "issues": [...]}. Each issue is either a
short string or an object {"category", "message", "evidence", "severity", "code"}.
Category must be one of: networking, external_resource, dynamic_code, navigation,
credential_capture, data_exfiltration, inline_script, inline_event_handler,
unsafe_inline_csp, post_message.`

// aiScanSchema is deliberately loose about issue item shape: models free-form
// this list and triage copes with whatever comes back
var aiScanSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"isSafe": map[string]any{"type": "boolean"},
		"issues": map[string]any{"type": "array"},
	},
	"required":             []string{"isSafe", "issues"},
	"additionalProperties": false,
}

// aiScanOutput is the model's raw verdict; Issues stay untyped for triage
type aiScanOutput struct {
	IsSafe *bool `json:"isSafe"`
	Issues []any `json:"issues"`
}

// Report is the outcome of an AI code scan
type Report struct {
	Triage    TriageResult
	ModelSafe *bool
	Skipped   bool // True when the scan failed and fail-open let the run proceed
}

// AIScanner runs the second, semantic classifier pass over final HTML
type AIScanner struct {
	client   *llm.Client
	pol      *policy.Policy
	failOpen bool
	logger   *slog.Logger
}

// NewAIScanner creates an AI code scanner. failOpen selects the behavior when
// the scan call itself fails (not a content finding): proceed or refuse. This
// is a deliberate risk/availability tradeoff exposed to operators.
func NewAIScanner(client *llm.Client, pol *policy.Policy, failOpen bool, logger *slog.Logger) *AIScanner {
	return &AIScanner{
		client:   client,
		pol:      pol,
		failOpen: failOpen,
		logger:   logger,
	}
}

// Scan asks the model to enumerate safety issues over the final HTML and
// triages them. A transport or parse failure returns an error unless the
// scanner is configured fail-open, in which case the report is marked skipped.
func (s *AIScanner) Scan(ctx context.Context, html string) (*Report, error) {
	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: aiScanSystemPrompt},
			{Role: "user", Content: "Review this artifact:\n\n" + html},
		},
		Format: &llm.OutputFormat{
			Kind: llm.FormatJSONSchema,
			Schema: &llm.JSONSchemaSpec{
				Name:   "artifact_safety_review",
				Strict: true,
				Schema: aiScanSchema,
			},
		},
	}

	res, err := s.client.Complete(ctx, req, llm.CallOptions{})
	if err != nil {
		if s.failOpen {
			s.logger.Warn("ai scan failed, proceeding fail-open", "error", err)
			return &Report{Skipped: true}, nil
		}
		return nil, fmt.Errorf("ai scan call failed; %w", err)
	}

	var out aiScanOutput
	if err := json.Unmarshal(res.JSON, &out); err != nil {
		if s.failOpen {
			s.logger.Warn("ai scan output unusable, proceeding fail-open", "error", err)
			return &Report{Skipped: true}, nil
		}
		return nil, fmt.Errorf("ai scan output did not match expected shape; %w", err)
	}

	triage := Triage(out.Issues, s.pol)

	s.logger.Info("ai scan triaged",
		"disallowed", len(triage.Disallowed),
		"allowed", len(triage.Allowed),
		"ignored", len(triage.Ignored),
		"uncategorized", len(triage.Uncategorized))

	if len(triage.Uncategorized) > 0 && out.IsSafe != nil && !*out.IsSafe {
		// The model thought the artifact unsafe but produced nothing we could
		// categorize; anomaly worth surfacing, never a block on its own
		s.logger.Warn("ai scan flagged unsafe with only uncategorized issues",
			"uncategorized", len(triage.Uncategorized))
	}

	return &Report{Triage: triage, ModelSafe: out.IsSafe}, nil
}
