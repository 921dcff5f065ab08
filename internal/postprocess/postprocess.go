// Package postprocess applies idempotent HTML rewrites to generated
// artifacts before final scanning.
package postprocess

import (
	"regexp"
	"strings"
)

// Element ids used to make both rewrites idempotent
const (
	SubmitGuardID = "calc-submit-guard"
	BootstrapID   = "calc-ready-bootstrap"
)

const submitGuardScript = `<script id="` + SubmitGuardID + `">
document.addEventListener("submit", function (e) { e.preventDefault(); }, true);
</script>`

const bootstrapScript = `<script id="` + BootstrapID + `">
window.addEventListener("message", function (e) {
  if (e.data && e.data.type === "ping") {
    parent.postMessage({ type: "pong" }, "*");
  }
});
parent.postMessage({ type: "ready" }, "*");
</script>`

var (
	buttonTagRe = regexp.MustCompile(`(?i)<button\b[^>]*>`)
	typeAttrRe  = regexp.MustCompile(`(?i)\btype\s*=`)
	cspMetaRe   = regexp.MustCompile(`(?i)<meta[^>]*http-equiv\s*=\s*["']content-security-policy["'][^>]*>`)
	headOpenRe  = regexp.MustCompile(`(?i)<head[^>]*>`)
	bodyOpenRe  = regexp.MustCompile(`(?i)<body[^>]*>`)
)

// EnsureFormSafety defends against accidental full-page navigation from an
// unintended default form submission. When the document contains a <form>,
// every bare <button> is forced to type="button" and a capture-phase submit
// preventer is injected. Applying it twice yields the same document.
func EnsureFormSafety(html string) string {
	if !strings.Contains(strings.ToLower(html), "<form") {
		return html
	}

	out := buttonTagRe.ReplaceAllStringFunc(html, func(tag string) string {
		if typeAttrRe.MatchString(tag) {
			return tag
		}
		return "<button type=\"button\"" + tag[len("<button"):]
	})

	if strings.Contains(out, `id="`+SubmitGuardID+`"`) {
		return out
	}

	if idx := strings.LastIndex(strings.ToLower(out), "</body>"); idx >= 0 {
		return out[:idx] + submitGuardScript + "\n" + out[idx:]
	}
	return out + submitGuardScript
}

// EnsureReadyBootstrap injects the frame handshake script: it posts
// {type:"ready"} to the parent frame and answers {type:"ping"} with
// {type:"pong"}. Insertion point preference: directly after the CSP meta tag,
// else inside <head>, else inside <body>, else prepended. Idempotent via the
// script element id.
func EnsureReadyBootstrap(html string) string {
	if strings.Contains(html, `id="`+BootstrapID+`"`) {
		return html
	}

	if loc := cspMetaRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + "\n" + bootstrapScript + html[loc[1]:]
	}
	if loc := headOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + "\n" + bootstrapScript + html[loc[1]:]
	}
	if loc := bodyOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + "\n" + bootstrapScript + html[loc[1]:]
	}
	return bootstrapScript + "\n" + html
}
