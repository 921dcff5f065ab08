package scan

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/calcforge/calcforge/internal/policy"
	"github.com/calcforge/calcforge/pkg/types"
)

// snippetRadius bounds the context returned around a match so a scan failure
// aids debugging without dumping the whole artifact
const snippetRadius = 40

// Result is the outcome of a deterministic scan
type Result struct {
	OK             bool
	Code           string
	RuleID         string
	Message        string
	MatchIndex     *int
	ContextSnippet string
	Retriable      bool
}

// Deterministic scans the final HTML against the policy. Pure function, no
// network or IO. Required markers are checked before any banned-pattern
// check; after that, first match wins.
func Deterministic(html string, pol *policy.Policy) Result {
	for _, directive := range pol.RequiredCSPDirectives {
		if indexFold(html, directive, 0) < 0 {
			return Result{
				Code:    types.RefusalMissingCSP,
				Message: fmt.Sprintf("required CSP directive %q is missing", directive),
			}
		}
	}

	if indexFold(html, pol.RequiredBannerText, 0) < 0 {
		return Result{
			Code:    types.RefusalMissingBanner,
			Message: "required safety banner text is missing",
		}
	}

	for _, rule := range pol.BannedPatternRules {
		for _, pattern := range rule.Patterns {
			if idx := findPattern(html, pattern, rule.CaseSensitive); idx >= 0 {
				return Result{
					Code:           types.RefusalBannedPattern,
					RuleID:         rule.ID,
					Message:        fmt.Sprintf("banned pattern %q matched (rule %s)", pattern, rule.ID),
					MatchIndex:     &idx,
					ContextSnippet: contextSnippet(html, idx, len(pattern)),
					Retriable:      rule.Retriable,
				}
			}
		}
	}

	for _, rule := range pol.BannedTagRules {
		for _, tag := range rule.Tags {
			if idx := findTag(html, tag); idx >= 0 {
				return Result{
					Code:           types.RefusalBannedTag,
					RuleID:         rule.ID,
					Message:        fmt.Sprintf("banned tag <%s> found (rule %s)", tag, rule.ID),
					MatchIndex:     &idx,
					ContextSnippet: contextSnippet(html, idx, len(tag)+1),
				}
			}
		}
	}

	return Result{OK: true}
}

// asciiFold lowercases a single ASCII byte
func asciiFold(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// indexFold finds needle in haystack starting at from, ignoring ASCII case.
// Policy patterns, tags and markers are ASCII; folding byte-by-byte keeps
// every offset a byte offset into haystack itself, so non-ASCII content can
// never skew a reported match position the way indexing into a separately
// lowercased copy would (Unicode case mapping changes byte lengths).
func indexFold(haystack string, needle string, from int) int {
	if needle == "" || from < 0 {
		return -1
	}
	n := len(needle)
	for i := from; i+n <= len(haystack); i++ {
		j := 0
		for j < n && asciiFold(haystack[i+j]) == asciiFold(needle[j]) {
			j++
		}
		if j == n {
			return i
		}
	}
	return -1
}

// findPattern locates a pattern occurrence, requiring an identifier boundary
// before patterns that start with a letter so that banning "eval(" does not
// match the required "safeEval(" invocation, nor "Function(" a call like
// "computeFunction("
func findPattern(html string, needle string, caseSensitive bool) int {
	if needle == "" {
		return -1
	}
	needsBoundary := isIdentChar(needle[0])
	from := 0
	for {
		var idx int
		if caseSensitive {
			idx = strings.Index(html[from:], needle)
			if idx >= 0 {
				idx += from
			}
		} else {
			idx = indexFold(html, needle, from)
		}
		if idx < 0 {
			return -1
		}
		if !needsBoundary || idx == 0 || !isIdentChar(html[idx-1]) {
			return idx
		}
		from = idx + 1
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// findTag locates an opening tag occurrence, requiring a tag-name boundary so
// that banning "frame" does not match "frameset" handled by its own entry,
// nor "<framework-x>"
func findTag(html string, tag string) int {
	needle := "<" + tag
	from := 0
	for {
		idx := indexFold(html, needle, from)
		if idx < 0 {
			return -1
		}
		next := idx + len(needle)
		if next >= len(html) {
			return idx
		}
		switch html[next] {
		case ' ', '\t', '\n', '\r', '>', '/':
			return idx
		}
		from = idx + 1
	}
}

// contextSnippet returns a bounded window of html around a match. The window
// is clamped to the document and widened to rune boundaries so the snippet is
// always valid UTF-8.
func contextSnippet(html string, idx int, matchLen int) string {
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + snippetRadius
	if end > len(html) {
		end = len(html)
	}
	if start > end {
		start = end
	}
	for start > 0 && !utf8.RuneStart(html[start]) {
		start--
	}
	for end < len(html) && !utf8.RuneStart(html[end]) {
		end++
	}
	return html[start:end]
}
