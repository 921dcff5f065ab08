// Package generate produces persisted-ready calculator artifacts from user
// prompts, gating every model output through validation, normalization and
// the deterministic scanner before anything downstream trusts it.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calcforge/calcforge/internal/llm"
	"github.com/calcforge/calcforge/internal/manifest"
	"github.com/calcforge/calcforge/internal/policy"
	"github.com/calcforge/calcforge/internal/postprocess"
	"github.com/calcforge/calcforge/internal/scan"
	"github.com/calcforge/calcforge/pkg/types"
)

// SafeEvalToken is the safe-evaluator invocation every expression-model
// artifact must contain. Its absence means the model fell back to eval-style
// computation, which is a hard refusal.
const SafeEvalToken = "safeEval("

const repairInstruction = "Your previous response was not valid JSON matching the required shape. " +
	"Return only a valid JSON object with the fields artifactHtml, manifest and notes. No prose, no code fences."

// generationSchema describes the {artifactHtml, manifest, notes} output shape
var generationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"artifactHtml": map[string]any{"type": "string"},
		"manifest":     map[string]any{"type": "object"},
		"notes":        map[string]any{"type": "string"},
		// The refusal sentinel {"error": "REFUSE"} must also validate, so
		// nothing is required
		"error": map[string]any{"type": "string"},
	},
	"additionalProperties": false,
}

// Output is the generator's result: either a persisted-ready artifact or a
// structured refusal, never both
type Output struct {
	Manifest     map[string]any
	ArtifactHTML string
	Notes        string
	Refusal      *types.Refusal
}

// Generator turns prompts into scanned, manifest-embedded artifacts
type Generator struct {
	client   *llm.Client
	pol      *policy.Policy
	maxBytes int
	logger   *slog.Logger
}

// New creates a generator. maxBytes overrides the policy artifact ceiling
// when positive.
func New(client *llm.Client, pol *policy.Policy, maxBytes int, logger *slog.Logger) *Generator {
	if maxBytes <= 0 {
		maxBytes = pol.MaxArtifactBytes
	}
	return &Generator{
		client:   client,
		pol:      pol,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Generate runs the full generation algorithm for one prompt. A deterministic
// scan failure on a retriable rule redoes generation once with a corrective
// instruction naming the offending construct; every other failure path is
// terminal.
func (g *Generator) Generate(ctx context.Context, prompt string) (*Output, error) {
	model := ExecutionModelHint(prompt)
	g.logger.Info("generating artifact", "execution_model", model)

	out, err := g.attempt(ctx, prompt, model, "")
	if err != nil {
		return nil, err
	}

	if out.Refusal != nil && out.Refusal.Code == types.RefusalBannedPattern {
		if retriable, ok := out.Refusal.Details["retriable"].(bool); ok && retriable {
			ruleID, _ := out.Refusal.Details["ruleId"].(string)
			g.logger.Warn("retriable banned construct found, regenerating once", "rule_id", ruleID)
			corrective := fmt.Sprintf("Your previous attempt contained the banned construct matched by rule %q. "+
				"Do not use it in any form. Regenerate the calculator without it.", ruleID)
			return g.attempt(ctx, prompt, model, corrective)
		}
	}

	return out, nil
}

// attempt performs one generation pass: model call (with at most one repair
// call), sentinel and size checks, manifest validation, postprocessing,
// embedding, and the deterministic scan
func (g *Generator) attempt(ctx context.Context, prompt string, model string, corrective string) (*Output, error) {
	gen, err := g.callModel(ctx, prompt, model, corrective)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(strings.TrimSpace(gen.Error), refuseSentinel) {
		return refusal(&types.Refusal{
			Code:            types.RefusalModelRefused,
			Message:         "the model declined to generate this calculator",
			SafeAlternative: "Try rephrasing the request as a plain calculator, for example a loan payment calculator.",
		}), nil
	}

	// Byte-size limits are against UTF-8 encoded length, and embedding grows
	// the payload, so the ceiling is checked both before and after
	if len(gen.ArtifactHTML) > g.maxBytes {
		return refusal(tooLarge(len(gen.ArtifactHTML), g.maxBytes)), nil
	}

	if err := manifest.Validate(gen.Manifest); err != nil {
		return refusal(&types.Refusal{
			Code:            types.RefusalInvalidManifest,
			Message:         err.Error(),
			SafeAlternative: "Retry the same prompt; the model produced a malformed manifest.",
		}), nil
	}

	html := postprocess.EnsureFormSafety(gen.ArtifactHTML)
	html = postprocess.EnsureReadyBootstrap(html)

	final, finalManifest, err := manifest.EmbedWithHash(html, gen.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to embed manifest; %w", err)
	}

	if len(final) > g.maxBytes {
		return refusal(tooLarge(len(final), g.maxBytes)), nil
	}

	if model == manifest.ExecutionModelExpression && !strings.Contains(final, SafeEvalToken) {
		return refusal(&types.Refusal{
			Code:            types.RefusalMissingSafeEval,
			Message:         "expression calculator does not invoke the safe evaluator",
			SafeAlternative: "Retry the same prompt; the model must route computation through the safe evaluator.",
		}), nil
	}

	if result := scan.Deterministic(final, g.pol); !result.OK {
		return refusal(scanRefusal(result)), nil
	}

	return &Output{
		Manifest:     finalManifest,
		ArtifactHTML: final,
		Notes:        gen.Notes,
	}, nil
}

// callModel performs the generation gateway call, with exactly one repair
// call if the output cannot be coerced to the expected shape
func (g *Generator) callModel(ctx context.Context, prompt string, model string, corrective string) (*generationOutput, error) {
	messages := []llm.Message{
		{Role: "system", Content: g.systemPrompt(model)},
		{Role: "user", Content: prompt},
	}
	if corrective != "" {
		messages = append(messages, llm.Message{Role: "system", Content: corrective})
	}

	gen, err := g.callOnce(ctx, messages)
	if err == nil {
		return gen, nil
	}

	var parseErr *llm.ParseError
	if !errors.As(err, &parseErr) && !errors.Is(err, errBadShape) {
		return nil, err
	}

	g.logger.Warn("generation output unusable, issuing repair call", "error", err)
	messages = append(messages, llm.Message{Role: "system", Content: repairInstruction})

	gen, err = g.callOnce(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generation repair call failed; %w", err)
	}
	return gen, nil
}

// errBadShape marks a well-formed JSON payload that still does not decode to
// the generation shape; it triggers the same single repair path as a parse
// error
var errBadShape = errors.New("generation output shape mismatch")

func (g *Generator) callOnce(ctx context.Context, messages []llm.Message) (*generationOutput, error) {
	req := llm.CompletionRequest{
		Messages: messages,
		Format: &llm.OutputFormat{
			Kind: llm.FormatJSONSchema,
			Schema: &llm.JSONSchemaSpec{
				Name:   "calculator_artifact",
				Strict: true,
				Schema: generationSchema,
			},
		},
	}

	res, err := g.client.Complete(ctx, req, llm.CallOptions{})
	if err != nil {
		return nil, err
	}

	gen, err := decodeOutput(res.JSON)
	if err != nil {
		return nil, fmt.Errorf("%w; %v", errBadShape, err)
	}
	return gen, nil
}

// systemPrompt builds the generation instructions from the policy so the
// required markers are stated verbatim
func (g *Generator) systemPrompt(model string) string {
	var b strings.Builder
	b.WriteString("You generate a single self-contained HTML calculator artifact. Respond with JSON only: ")
	b.WriteString(`{"artifactHtml": "...", "manifest": {...}, "notes": "..."}.`)
	b.WriteString("\n\nRequirements for artifactHtml:\n")
	b.WriteString("- A complete HTML document with a <meta http-equiv=\"Content-Security-Policy\"> tag containing exactly these directives: ")
	b.WriteString(strings.Join(g.pol.RequiredCSPDirectives, "; "))
	b.WriteString("\n- Display this banner text verbatim: ")
	b.WriteString(g.pol.RequiredBannerText)
	b.WriteString("\n- All script and style inline; never load external resources, never use the network, never navigate or open windows.\n")
	b.WriteString("- Never use eval, the Function constructor, or string arguments to timers.\n")

	if model == manifest.ExecutionModelExpression {
		b.WriteString("- This is an expression calculator: define a safeEval(expression) function that tokenizes and evaluates arithmetic without dynamic code execution, and route every computation through safeEval(...).\n")
	} else {
		b.WriteString("- This is a form calculator: labeled input fields and a compute button, results rendered into the page.\n")
	}

	b.WriteString("\nRequirements for manifest:\n")
	b.WriteString(fmt.Sprintf(`{"specVersion": %q, "title": <non-empty>, "executionModel": %q, "capabilities": {"network": false}}`, manifest.SpecVersion, model))
	b.WriteString("\n\nIf the request is not a calculator you can safely build, respond with exactly {\"error\": \"REFUSE\"}.")
	return b.String()
}

func refusal(r *types.Refusal) *Output {
	return &Output{Refusal: r}
}

func tooLarge(size int, limit int) *types.Refusal {
	return &types.Refusal{
		Code:            types.RefusalArtifactTooBig,
		Message:         fmt.Sprintf("artifact is %d bytes, limit is %d", size, limit),
		SafeAlternative: "Ask for a simpler calculator with fewer features or less styling.",
		Details:         map[string]any{"size": size, "limit": limit},
	}
}

func scanRefusal(result scan.Result) *types.Refusal {
	r := &types.Refusal{
		Code:            result.Code,
		Message:         result.Message,
		SafeAlternative: "Retry the same prompt; the generated document violated the safety policy.",
		MatchIndex:      result.MatchIndex,
		ContextSnippet:  result.ContextSnippet,
	}
	if result.RuleID != "" {
		r.Details = map[string]any{
			"ruleId":    result.RuleID,
			"retriable": result.Retriable,
		}
	}
	return r
}
