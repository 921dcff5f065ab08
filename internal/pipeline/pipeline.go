// Package pipeline orchestrates one generation request end to end: scan
// policy arbitration, prompt classification, artifact generation, the AI code
// scan, and finally persistence through the external store.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/calcforge/calcforge/internal/arbiter"
	"github.com/calcforge/calcforge/internal/classifier"
	"github.com/calcforge/calcforge/internal/config"
	"github.com/calcforge/calcforge/internal/generate"
	"github.com/calcforge/calcforge/internal/llm"
	"github.com/calcforge/calcforge/internal/policy"
	"github.com/calcforge/calcforge/internal/scan"
	"github.com/calcforge/calcforge/pkg/types"
)

// Response statuses
const (
	StatusOK           = "ok"
	StatusRefused      = "refused"
	StatusNeedsProceed = "needs_proceed"
	StatusError        = "error"
)

// RedTeamFlags are the per-request override flags. They are honored only
// when the environment capability flag is independently enabled.
type RedTeamFlags struct {
	Armed   bool `json:"armed"`
	Proceed bool `json:"proceed"`
}

// Request is one generation request
type Request struct {
	Prompt  string       `json:"prompt"`
	RedTeam RedTeamFlags `json:"redTeam"`
}

// Response is the pipeline's answer. Exactly one of Result, Refusal, or Error
// is populated for ok/refused/error; needs_proceed carries PromptDecision
// when the classifier ran.
type Response struct {
	RequestID      string                    `json:"requestId"`
	Status         string                    `json:"status"`
	ScanOutcome    types.ScanOutcome         `json:"scanOutcome,omitempty"`
	Result         *types.GenerationResult   `json:"result,omitempty"`
	Refusal        *types.Refusal            `json:"refusal,omitempty"`
	PromptDecision *types.PromptScanDecision `json:"promptDecision,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

// Processor wires the pipeline stages together
type Processor struct {
	cfg        *config.Config
	logger     *slog.Logger
	classifier *classifier.Classifier
	generator  *generate.Generator
	aiScanner  *scan.AIScanner
	store      ArtifactStore
	pol        *policy.Policy
}

// NewProcessor builds a processor from configuration. The policy is loaded
// once through the cached accessor; all stages share one gateway client.
func NewProcessor(cfg *config.Config, logger *slog.Logger) (*Processor, error) {
	pol, err := policy.Get(cfg.Policy.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy; %w", err)
	}

	client := llm.NewClient(cfg.Provider, logger)

	return &Processor{
		cfg:        cfg,
		logger:     logger,
		classifier: classifier.New(client, logger),
		generator:  generate.New(client, pol, cfg.Artifact.MaxBytes, logger),
		aiScanner:  scan.NewAIScanner(client, pol, cfg.Scan.AIFailOpen, logger),
		store:      NopStore{},
		pol:        pol,
	}, nil
}

// SetStore replaces the artifact store (external persistence collaborator)
func (p *Processor) SetStore(store ArtifactStore) {
	p.store = store
}

// Run processes a single request sequentially end to end
func (p *Processor) Run(ctx context.Context, req Request) Response {
	requestID := uuid.NewString()
	logger := p.logger.With("request_id", requestID)

	logger.Info("processing generation request",
		"armed", req.RedTeam.Armed,
		"proceed", req.RedTeam.Proceed)

	arbIn := arbiter.Input{
		Mode:              p.cfg.Scan.Mode,
		CapabilityEnabled: p.cfg.Scan.RedTeamEnabled,
		Armed:             req.RedTeam.Armed,
		Proceed:           req.RedTeam.Proceed,
	}

	var decision arbiter.Decision
	var promptDecision *types.PromptScanDecision

	if !arbiter.ClassifierRuns(arbIn) {
		// Scan mode off with a genuine armed override: the classifier never
		// runs, but skipping requires an explicit proceed
		decision = arbiter.Evaluate(arbIn)
		if decision.Action == arbiter.ActionScanSkipped {
			logger.Info("scan skipped, explicit proceed required")
			return Response{
				RequestID:   requestID,
				Status:      StatusNeedsProceed,
				ScanOutcome: decision.ScanOutcome,
			}
		}
	} else {
		scanDecision, err := p.classifier.Classify(ctx, req.Prompt)
		if err != nil {
			logger.Error("prompt classification failed", "error", err)
			return Response{
				RequestID: requestID,
				Status:    StatusError,
				Error:     fmt.Sprintf("prompt classification failed: %v", err),
			}
		}
		promptDecision = &scanDecision

		arbIn.PromptDenied = !scanDecision.Allowed
		decision = arbiter.Evaluate(arbIn)

		switch decision.Action {
		case arbiter.ActionScanBlock:
			logger.Info("prompt blocked", "refusal_code", scanDecision.RefusalCode)
			return Response{
				RequestID:      requestID,
				Status:         StatusRefused,
				ScanOutcome:    decision.ScanOutcome,
				PromptDecision: promptDecision,
				Refusal: &types.Refusal{
					Code:            types.RefusalPromptBlocked,
					Message:         scanDecision.Reason,
					SafeAlternative: scanDecision.SafeAlternative,
				},
			}
		case arbiter.ActionScanWarn:
			logger.Info("prompt denied in warn mode, explicit proceed required")
			return Response{
				RequestID:      requestID,
				Status:         StatusNeedsProceed,
				ScanOutcome:    decision.ScanOutcome,
				PromptDecision: promptDecision,
			}
		}
	}

	out, err := p.generator.Generate(ctx, req.Prompt)
	if err != nil {
		logger.Error("artifact generation failed", "error", err)
		return Response{
			RequestID: requestID,
			Status:    StatusError,
			Error:     fmt.Sprintf("artifact generation failed: %v", err),
		}
	}
	if out.Refusal != nil {
		logger.Info("artifact refused", "code", out.Refusal.Code)
		return Response{
			RequestID:      requestID,
			Status:         StatusRefused,
			ScanOutcome:    decision.ScanOutcome,
			PromptDecision: promptDecision,
			Refusal:        out.Refusal,
		}
	}

	report, err := p.aiScanner.Scan(ctx, out.ArtifactHTML)
	if err != nil {
		// Fail-closed: the scan could not run, so the artifact is refused,
		// distinct from a content finding
		logger.Error("ai scan failed closed", "error", err)
		return Response{
			RequestID:      requestID,
			Status:         StatusRefused,
			ScanOutcome:    decision.ScanOutcome,
			PromptDecision: promptDecision,
			Refusal: &types.Refusal{
				Code:            types.RefusalAIScanFailed,
				Message:         "the safety scan could not be completed",
				SafeAlternative: "Retry the request; this is an availability failure, not a content rejection.",
			},
		}
	}
	if report.Triage.Blocked() {
		logger.Info("ai scan flagged artifact", "disallowed", len(report.Triage.Disallowed))
		return Response{
			RequestID:      requestID,
			Status:         StatusRefused,
			ScanOutcome:    decision.ScanOutcome,
			PromptDecision: promptDecision,
			Refusal: &types.Refusal{
				Code:            types.RefusalAIScanFlagged,
				Message:         "the safety scan found disallowed content in the generated calculator",
				SafeAlternative: "Retry the same prompt; the model produced a construct the policy forbids.",
				Details:         map[string]any{"issues": report.Triage.Disallowed},
			},
		}
	}

	result := types.GenerationResult{
		Manifest:     out.Manifest,
		ArtifactHTML: out.ArtifactHTML,
		Notes:        out.Notes,
		ScanOutcome:  decision.ScanOutcome,
		OverrideUsed: decision.OverrideUsed,
	}

	if err := p.store.Save(ctx, requestID, result); err != nil {
		// Storage failure is a system failure; the caller must be able to
		// tell "could not save" apart from "content rejected"
		logger.Error("artifact store failed", "error", err)
		return Response{
			RequestID: requestID,
			Status:    StatusError,
			Error:     fmt.Sprintf("failed to persist accepted artifact: %v", err),
		}
	}

	logger.Info("generation request completed",
		"scan_outcome", decision.ScanOutcome,
		"override_used", decision.OverrideUsed,
		"artifact_bytes", len(out.ArtifactHTML))

	return Response{
		RequestID:   requestID,
		Status:      StatusOK,
		ScanOutcome: decision.ScanOutcome,
		Result:      &result,
	}
}

// Process is the stdin/stdout entry point: it loads configuration, builds a
// processor, decodes one request, and writes one response
func Process(stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration; %w", err)
	}

	logger := SetupLogger(cfg)

	proc, err := NewProcessor(cfg, logger)
	if err != nil {
		return err
	}

	var req Request
	decoder := json.NewDecoder(stdin)
	if err := decoder.Decode(&req); err != nil {
		return fmt.Errorf("failed to decode request; %w", err)
	}
	if req.Prompt == "" {
		return fmt.Errorf("request prompt must not be empty")
	}

	resp := proc.Run(context.Background(), req)

	return WriteJSON(stdout, resp)
}

// WriteJSON writes v to w followed by a newline
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal response; %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write response; %w", err)
	}
	return nil
}
