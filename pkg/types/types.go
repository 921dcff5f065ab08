package types

// ScanOutcome tags how the prompt scan concluded for a pipeline run
type ScanOutcome string

const (
	ScanOutcomeAllow   ScanOutcome = "allow"
	ScanOutcomeDeny    ScanOutcome = "deny"
	ScanOutcomeSkipped ScanOutcome = "skipped"
)

// Refusal codes returned to callers; stable for machine parsing
const (
	RefusalPromptBlocked   = "PROMPT_BLOCKED"
	RefusalModelRefused    = "MODEL_REFUSED"
	RefusalInvalidManifest = "INVALID_MANIFEST"
	RefusalArtifactTooBig  = "ARTIFACT_TOO_LARGE"
	RefusalBannedPattern   = "BANNED_PATTERN"
	RefusalBannedTag       = "BANNED_TAG"
	RefusalMissingCSP      = "MISSING_CSP"
	RefusalMissingBanner   = "MISSING_BANNER"
	RefusalMissingSafeEval = "MISSING_SAFE_EVAL"
	RefusalAIScanFlagged   = "AI_SCAN_FLAGGED"
	RefusalAIScanFailed    = "AI_SCAN_FAILED"
)

// PromptScanDecision is the prompt classifier's verdict on a user prompt.
// RefusalCode is nil only when Allowed is true.
type PromptScanDecision struct {
	Allowed         bool    `json:"allowed"`
	RefusalCode     *string `json:"refusalCode"`
	Reason          string  `json:"reason"`
	SafeAlternative string  `json:"safeAlternative"`
}

// Refusal is a well-formed terminal outcome of the pipeline. It is a value,
// never an error: callers must be able to distinguish "your content was
// rejected" from "the system failed".
type Refusal struct {
	Code            string         `json:"code"`
	Message         string         `json:"message"`
	SafeAlternative string         `json:"safeAlternative"`
	MatchIndex      *int           `json:"matchIndex,omitempty"`
	ContextSnippet  string         `json:"contextSnippet,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// GenerationResult is the persisted-ready output of a successful run
type GenerationResult struct {
	Manifest     map[string]any `json:"manifest"`
	ArtifactHTML string         `json:"artifactHtml"`
	Notes        string         `json:"notes,omitempty"`
	ScanOutcome  ScanOutcome    `json:"scanOutcome"`
	OverrideUsed bool           `json:"overrideUsed"`
}

// MaxIssueFieldLen bounds every ScanIssueSummary field so that logs stay
// bounded no matter what the model returns
const MaxIssueFieldLen = 500

// ScanIssueSummary is one AI-scan issue normalized from heterogeneous model
// output (free-text strings or structured objects)
type ScanIssueSummary struct {
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Evidence string `json:"evidence,omitempty"`
	Allowed  *bool  `json:"allowed,omitempty"`
}

// Text concatenates the human-readable fields for category inference
func (s ScanIssueSummary) Text() string {
	out := s.Message
	if s.Summary != "" {
		if out != "" {
			out += " "
		}
		out += s.Summary
	}
	if s.Evidence != "" {
		if out != "" {
			out += " "
		}
		out += s.Evidence
	}
	return out
}

// Truncate clamps s to at most max bytes, appending an ellipsis marker when
// anything was cut
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
