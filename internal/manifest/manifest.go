package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SpecVersion is the only manifest version this build accepts
const SpecVersion = "1.0"

// ScriptID identifies the inline script tag carrying the embedded manifest
const ScriptID = "calc-manifest"

// Execution models a manifest may declare
const (
	ExecutionModelForm       = "form"
	ExecutionModelExpression = "expression"
)

// hashPlaceholder stands in for the content hash during the first embedding
// pass so the hash is a function of every other visible byte of the document
// while the hash field cannot self-reference
const hashPlaceholder = "0000000000000000000000000000000000000000000000000000000000000000"

var scriptBlockRe = regexp.MustCompile(`(?is)<script[^>]*\bid="` + ScriptID + `"[^>]*>.*?</script>`)

// Validate checks the manifest shape invariant. A manifest failing any check
// is never persisted: specVersion must match exactly, title must be a
// non-empty string, executionModel must be form or expression, and
// capabilities.network must be the literal boolean false.
func Validate(m map[string]any) error {
	if m == nil {
		return fmt.Errorf("manifest is missing")
	}

	version, ok := m["specVersion"].(string)
	if !ok || version != SpecVersion {
		return fmt.Errorf("manifest specVersion must be %q, got %v", SpecVersion, m["specVersion"])
	}

	title, ok := m["title"].(string)
	if !ok || strings.TrimSpace(title) == "" {
		return fmt.Errorf("manifest title must be a non-empty string")
	}

	model, ok := m["executionModel"].(string)
	if !ok || (model != ExecutionModelForm && model != ExecutionModelExpression) {
		return fmt.Errorf("manifest executionModel must be %q or %q, got %v", ExecutionModelForm, ExecutionModelExpression, m["executionModel"])
	}

	caps, ok := m["capabilities"].(map[string]any)
	if !ok {
		return fmt.Errorf("manifest capabilities must be an object")
	}
	network, ok := caps["network"].(bool)
	if !ok || network {
		// Anything other than the literal boolean false is a validation
		// failure, not a warning
		return fmt.Errorf("manifest capabilities.network must be the literal false, got %v", caps["network"])
	}

	return nil
}

// IsValid reports whether m satisfies the manifest shape invariant
func IsValid(m map[string]any) bool {
	return Validate(m) == nil
}

// Embed writes the manifest into the HTML as an inline JSON script tag.
// Any prior manifest block is replaced; otherwise the block is inserted
// before </body>, or appended when no </body> exists.
func Embed(html string, m map[string]any) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest; %w", err)
	}

	block := fmt.Sprintf(`<script type="application/json" id=%q>%s</script>`, ScriptID, data)

	if scriptBlockRe.MatchString(html) {
		return scriptBlockRe.ReplaceAllString(html, block), nil
	}

	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + block + "\n" + html[idx:], nil
	}

	return html + block, nil
}

// Extract parses the embedded manifest block back out of the HTML
func Extract(html string) (map[string]any, error) {
	match := scriptBlockRe.FindString(html)
	if match == "" {
		return nil, fmt.Errorf("no manifest script block found")
	}

	open := strings.IndexByte(match, '>')
	close := strings.LastIndex(match, "</script>")
	if open < 0 || close < 0 || close <= open {
		return nil, fmt.Errorf("malformed manifest script block")
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(match[open+1:close])), &m); err != nil {
		return nil, fmt.Errorf("failed to parse embedded manifest; %w", err)
	}

	return m, nil
}

// EmbedWithHash embeds the manifest in two passes: first with a placeholder
// hash, then with the SHA-256 of the placeholder document re-embedded as the
// final contentHash. The hash therefore covers the full visible document,
// including every non-hash manifest field.
func EmbedWithHash(html string, m map[string]any) (string, map[string]any, error) {
	withPlaceholder := cloneManifest(m)
	withPlaceholder["contentHash"] = hashPlaceholder

	firstPass, err := Embed(html, withPlaceholder)
	if err != nil {
		return "", nil, err
	}

	sum := sha256.Sum256([]byte(firstPass))

	final := cloneManifest(m)
	final["contentHash"] = hex.EncodeToString(sum[:])

	secondPass, err := Embed(firstPass, final)
	if err != nil {
		return "", nil, err
	}

	return secondPass, final, nil
}

func cloneManifest(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
