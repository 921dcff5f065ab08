package policy

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// PatternRule bans a set of substring patterns. Matching is case-insensitive
// unless CaseSensitive is set (used for tokens like a constructor name that
// would otherwise collide with legitimate lowercase usages). Retriable marks
// rules whose first match triggers one corrective regeneration instead of an
// immediate refusal.
type PatternRule struct {
	ID            string   `yaml:"id"`
	Description   string   `yaml:"description"`
	Patterns      []string `yaml:"patterns"`
	CaseSensitive bool     `yaml:"case_sensitive"`
	Retriable     bool     `yaml:"retriable"`
}

// TagRule bans a set of HTML tags outright
type TagRule struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

// Policy is the safety policy consumed read-only by the scanners and the
// artifact generator
type Policy struct {
	RequiredBannerText    string        `yaml:"required_banner_text"`
	RequiredCSPDirectives []string      `yaml:"required_csp_directives"`
	BannedPatternRules    []PatternRule `yaml:"banned_pattern_rules"`
	BannedTagRules        []TagRule     `yaml:"banned_tag_rules"`
	MaxArtifactBytes      int           `yaml:"max_artifact_bytes"`
}

var (
	once      sync.Once
	cached    *Policy
	cachedErr error
)

// Get returns the process-wide policy, loading it on first use and caching it
// for all later calls. An empty path selects the compiled-in default policy.
// The returned policy is read-only and safe for concurrent access.
func Get(path string) (*Policy, error) {
	once.Do(func() {
		cached, cachedErr = Load(path)
	})
	return cached, cachedErr
}

// Load reads a policy file without touching the cache. Used directly by tests
// and by callers that manage their own policy lifecycle.
func Load(path string) (*Policy, error) {
	if path == "" {
		p := DefaultPolicy()
		return &p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file; %w", err)
	}

	// Start from the default so a partial file only overrides what it names
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file; %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file %s; %w", path, err)
	}

	return &p, nil
}

// Validate rejects policies that would make the scanner vacuous
func (p *Policy) Validate() error {
	if p.RequiredBannerText == "" {
		return fmt.Errorf("required_banner_text must not be empty")
	}
	if len(p.RequiredCSPDirectives) == 0 {
		return fmt.Errorf("required_csp_directives must not be empty")
	}
	if p.MaxArtifactBytes < 1 {
		return fmt.Errorf("max_artifact_bytes must be positive, got %d", p.MaxArtifactBytes)
	}
	for _, rule := range p.BannedPatternRules {
		if rule.ID == "" {
			return fmt.Errorf("banned pattern rule missing id")
		}
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("banned pattern rule %q has no patterns", rule.ID)
		}
	}
	for _, rule := range p.BannedTagRules {
		if rule.ID == "" {
			return fmt.Errorf("banned tag rule missing id")
		}
		if len(rule.Tags) == 0 {
			return fmt.Errorf("banned tag rule %q has no tags", rule.ID)
		}
	}
	return nil
}
