package policy

// RequiredBanner is the literal safety banner every generated artifact must
// display verbatim
const RequiredBanner = "This calculator runs entirely in your browser. Do not enter passwords or other sensitive data."

// DefaultPolicy returns the compiled-in safety policy used when no policy
// file is configured
func DefaultPolicy() Policy {
	return Policy{
		RequiredBannerText: RequiredBanner,
		RequiredCSPDirectives: []string{
			"default-src 'none'",
			"script-src 'unsafe-inline'",
			"style-src 'unsafe-inline'",
		},
		BannedPatternRules: []PatternRule{
			{
				ID:          "no-eval",
				Description: "direct eval of model-controlled strings",
				Patterns:    []string{"eval("},
			},
			{
				ID:            "no-function-constructor",
				Description:   "dynamic code via the Function constructor",
				Patterns:      []string{"new Function", "Function("},
				CaseSensitive: true,
				Retriable:     true,
			},
			{
				ID:          "no-string-timers",
				Description: "string arguments to timers execute as code",
				Patterns:    []string{"settimeout(\"", "settimeout('", "setinterval(\"", "setinterval('"},
			},
			{
				ID:          "no-network",
				Description: "generated calculators must not reach the network",
				Patterns:    []string{"fetch(", "xmlhttprequest", "websocket(", "new websocket", "navigator.sendbeacon", "eventsource("},
			},
			{
				ID:          "no-dynamic-import",
				Description: "dynamic module loading",
				Patterns:    []string{"import("},
			},
			{
				ID:          "no-storage-access",
				Description: "persistent browser storage and cookies",
				Patterns:    []string{"document.cookie", "localstorage", "sessionstorage", "indexeddb"},
			},
			{
				ID:          "no-navigation",
				Description: "navigation and popups escape the sandbox frame",
				Patterns:    []string{"window.open(", "location.href =", "location.assign(", "location.replace(", "document.location ="},
			},
			{
				ID:          "no-external-script",
				Description: "externally sourced scripts",
				Patterns:    []string{"<script src"},
			},
		},
		BannedTagRules: []TagRule{
			{
				ID:          "no-embedding-tags",
				Description: "tags that load or frame external content",
				Tags:        []string{"iframe", "object", "embed", "applet", "frame", "frameset"},
			},
			{
				ID:          "no-base-tag",
				Description: "base rewrites every relative URL in the document",
				Tags:        []string{"base"},
			},
			{
				ID:          "no-link-tag",
				Description: "link tags pull external resources",
				Tags:        []string{"link"},
			},
		},
		MaxArtifactBytes: 256 * 1024,
	}
}
