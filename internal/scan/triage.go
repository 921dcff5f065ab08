package scan

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/calcforge/calcforge/internal/policy"
	"github.com/calcforge/calcforge/pkg/types"
)

// Issue categories the AI scanner triages against. Disallowed categories
// block; allow-listed categories cover patterns the generation instructions
// deliberately require (inline scripts, inline handlers, unsafe-inline CSP,
// postMessage) that a naive classifier conflates with genuine risk.
const (
	CategoryNetworking         = "networking"
	CategoryExternalResource   = "external_resource"
	CategoryDynamicCode        = "dynamic_code"
	CategoryNavigation         = "navigation"
	CategoryCredentialCapture  = "credential_capture"
	CategoryDataExfiltration   = "data_exfiltration"
	CategoryInlineScript       = "inline_script"
	CategoryInlineEventHandler = "inline_event_handler"
	CategoryUnsafeInlineCSP    = "unsafe_inline_csp"
	CategoryPostMessage        = "post_message"
)

var allowedCategories = map[string]bool{
	CategoryInlineScript:       true,
	CategoryInlineEventHandler: true,
	CategoryUnsafeInlineCSP:    true,
	CategoryPostMessage:        true,
}

// inferenceRes map category names to regexes over the issue's concatenated
// text, used when the model supplied no category. Allow-listed categories are
// tried first so benign mentions of required patterns never fall through to a
// blocking category.
var inferenceOrder = []string{
	CategoryInlineScript,
	CategoryInlineEventHandler,
	CategoryUnsafeInlineCSP,
	CategoryPostMessage,
	CategoryNetworking,
	CategoryExternalResource,
	CategoryDynamicCode,
	CategoryNavigation,
	CategoryCredentialCapture,
	CategoryDataExfiltration,
}

var inferenceRes = map[string]*regexp.Regexp{
	CategoryInlineScript:       regexp.MustCompile(`(?i)inline script|<script\b`),
	CategoryInlineEventHandler: regexp.MustCompile(`(?i)inline event|event handler attribute|\bon(click|change|input|submit|load|keyup|keydown)\b`),
	CategoryUnsafeInlineCSP:    regexp.MustCompile(`(?i)unsafe-inline`),
	CategoryPostMessage:        regexp.MustCompile(`(?i)postmessage`),
	CategoryNetworking:         regexp.MustCompile(`(?i)\bfetch\b|xmlhttprequest|websocket|sendbeacon|eventsource|network request|http request|ajax`),
	CategoryExternalResource:   regexp.MustCompile(`(?i)external (script|resource|stylesheet|image|font)|loads? .{0,30}(remote|external)|\bcdn\b|(src|href)\s*=\s*["']?https?://`),
	CategoryDynamicCode:        regexp.MustCompile(`(?i)\beval\b|new function|function constructor|dynamic(ally)?[ -]?(generated |injected )?(code|script)|document\.write|set(timeout|interval) with a? ?string`),
	CategoryNavigation:         regexp.MustCompile(`(?i)window\.open|popup|navigat|redirect|location\.(href|assign|replace)`),
	CategoryCredentialCapture:  regexp.MustCompile(`(?i)password|passphrase|credential|login|sign[- ]?in|credit card|social security`),
	CategoryDataExfiltration:   regexp.MustCompile(`(?i)exfiltrat|sends? (data|information|input)|transmit|leak|beacon`),
}

// validationRes re-validate a claimed disallowed category against the
// evidence text, independent of what the model declared. A claimed issue is
// only kept when its evidence actually exhibits the risk, which keeps an
// overzealous or confused classifier from blocking legitimate artifacts.
var validationRes = map[string]*regexp.Regexp{
	CategoryNetworking:        regexp.MustCompile(`(?i)fetch\s*\(|xmlhttprequest|new\s+websocket|websocket\s*\(|sendbeacon|eventsource\s*\(`),
	CategoryExternalResource:  regexp.MustCompile(`(?i)(src|href)\s*=\s*["']?(https?:)?//|@import|url\(\s*["']?https?:`),
	CategoryDynamicCode:       regexp.MustCompile(`(?i)\beval\s*\(|new\s+function|\bfunction\s*\(\s*["']|set(timeout|interval)\s*\(\s*["']|document\.write\s*\(|createelement\s*\(\s*["']script`),
	CategoryNavigation:        regexp.MustCompile(`(?i)window\.open\s*\(|location\.(href|assign|replace)|target\s*=\s*["']?_blank|http-equiv\s*=\s*["']?refresh`),
	CategoryCredentialCapture: regexp.MustCompile(`(?i)type\s*=\s*["']?password|\bpassword\b|\bpasswd\b|\blogin\b|autocomplete\s*=\s*["']?current-password`),
	CategoryDataExfiltration:  regexp.MustCompile(`(?i)fetch\s*\(|xmlhttprequest|websocket|sendbeacon|\.src\s*=\s*[^;]*\+`),
}

// domWiringRe matches event-wiring APIs a confused classifier mislabels as
// dynamic code execution
var domWiringRe = regexp.MustCompile(`(?i)addeventlistener|getelementbyid|queryselector`)

// TriageResult buckets every normalized issue. Only Disallowed blocks.
type TriageResult struct {
	Disallowed    []types.ScanIssueSummary
	Allowed       []types.ScanIssueSummary
	Ignored       []types.ScanIssueSummary
	Uncategorized []types.ScanIssueSummary
}

// Blocked reports whether the triage produced any terminal finding
func (t TriageResult) Blocked() bool {
	return len(t.Disallowed) > 0
}

// Triage classifies raw AI-scan issues into the four buckets. Pure function:
// the model's own isSafe flag is never trusted in isolation, the decision is
// derived entirely from the categorized issues.
func Triage(rawIssues []any, pol *policy.Policy) TriageResult {
	var out TriageResult

	for _, raw := range rawIssues {
		issue := NormalizeIssue(raw)
		category := resolveCategory(issue)

		if neverFail(issue, category, pol) {
			out.Ignored = append(out.Ignored, issue)
			continue
		}

		if allowedCategories[category] {
			issue.Category = category
			out.Allowed = append(out.Allowed, issue)
			continue
		}

		if _, disallowed := validationRes[category]; disallowed {
			issue.Category = category
			// Re-validation runs over the evidence itself; a claim restated in
			// the message must not count as proof of the claim
			evidence := issue.Evidence
			if evidence == "" {
				evidence = issue.Text()
			}
			if DisallowedEvidence(category, evidence) {
				out.Disallowed = append(out.Disallowed, issue)
			} else {
				// Claimed risk not borne out by the evidence
				out.Ignored = append(out.Ignored, issue)
			}
			continue
		}

		out.Uncategorized = append(out.Uncategorized, issue)
	}

	return out
}

// DisallowedEvidence is the (category, evidence) predicate deciding whether a
// claimed disallowed issue is actually kept
func DisallowedEvidence(category string, evidence string) bool {
	re, ok := validationRes[category]
	if !ok {
		return false
	}
	return re.MatchString(evidence)
}

// NormalizeIssue coerces one heterogeneous AI-scan issue (free-text string or
// structured object) into a bounded ScanIssueSummary
func NormalizeIssue(raw any) types.ScanIssueSummary {
	switch v := raw.(type) {
	case string:
		return types.ScanIssueSummary{Message: types.Truncate(v, types.MaxIssueFieldLen)}
	case map[string]any:
		issue := types.ScanIssueSummary{
			Category: firstString(v, "category", "type", "kind"),
			Code:     firstString(v, "code", "id", "ruleId", "rule_id"),
			Severity: firstString(v, "severity", "level", "risk"),
			Message:  firstString(v, "message", "description", "detail", "details", "issue"),
			Summary:  firstString(v, "summary", "title"),
			Evidence: firstString(v, "evidence", "snippet", "code_snippet", "excerpt", "match"),
		}
		if b, ok := firstBool(v, "allowed", "isAllowed", "safe"); ok {
			issue.Allowed = &b
		}
		if issue.Message == "" && issue.Summary == "" && issue.Evidence == "" {
			// Unrecognized shape: keep a best-effort dump so the anomaly is
			// visible in logs
			if data, err := json.Marshal(v); err == nil {
				issue.Summary = types.Truncate(string(data), types.MaxIssueFieldLen)
			}
		}
		return issue
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return types.ScanIssueSummary{}
		}
		return types.ScanIssueSummary{Summary: types.Truncate(string(data), types.MaxIssueFieldLen)}
	}
}

// resolveCategory uses the model-declared category when present (normalized),
// otherwise infers one from the issue text
func resolveCategory(issue types.ScanIssueSummary) string {
	if c := NormalizeCategory(issue.Category); c != "" {
		return c
	}
	text := issue.Text()
	for _, name := range inferenceOrder {
		if inferenceRes[name].MatchString(text) {
			return name
		}
	}
	return ""
}

// NormalizeCategory lowercases and canonicalizes a model-supplied category
// name (whitespace and hyphens become underscores)
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	c = strings.NewReplacer(" ", "_", "-", "_", "\t", "_").Replace(c)
	for strings.Contains(c, "__") {
		c = strings.ReplaceAll(c, "__", "_")
	}
	return c
}

// neverFail applies the hard-allow exceptions that exist because the
// generation instructions deliberately require patterns a naive classifier
// flags: the safety banner echoed back as evidence, and DOM event wiring
// mislabeled as dynamic execution
func neverFail(issue types.ScanIssueSummary, category string, pol *policy.Policy) bool {
	if pol != nil && pol.RequiredBannerText != "" &&
		strings.Contains(strings.ToLower(issue.Evidence), strings.ToLower(pol.RequiredBannerText)) {
		return true
	}

	if category == CategoryDynamicCode &&
		domWiringRe.MatchString(issue.Evidence) &&
		!DisallowedEvidence(CategoryDynamicCode, issue.Evidence) {
		return true
	}

	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return types.Truncate(s, types.MaxIssueFieldLen)
		}
	}
	return ""
}

func firstBool(m map[string]any, keys ...string) (bool, bool) {
	for _, key := range keys {
		if b, ok := m[key].(bool); ok {
			return b, true
		}
	}
	return false, false
}
