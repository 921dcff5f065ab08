package config

// Scan policy modes; "off" and "warn" are only reachable when the red-team
// capability flag is independently enabled
const (
	ScanModeEnforce = "enforce"
	ScanModeWarn    = "warn"
	ScanModeOff     = "off"
)

// Config represents the application configuration
type Config struct {
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Policy   PolicyConfig   `mapstructure:"policy" yaml:"policy"`
	Artifact ArtifactConfig `mapstructure:"artifact" yaml:"artifact"`
	Scan     ScanConfig     `mapstructure:"scan" yaml:"scan"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ProviderConfig contains connection settings for the LLM provider
type ProviderConfig struct {
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	Model           string `mapstructure:"model" yaml:"model"`
	APIKeyEnv       string `mapstructure:"api_key_env" yaml:"api_key_env"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAttempts     int    `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffMs       int    `mapstructure:"backoff_ms" yaml:"backoff_ms"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
}

// PolicyConfig points at the safety policy file; empty means the compiled-in
// default policy
type PolicyConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// ArtifactConfig contains artifact size limits
type ArtifactConfig struct {
	MaxBytes int `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// ScanConfig contains scan-policy and AI-scan behavior settings.
// RedTeamEnabled is the environment capability flag: when false, per-request
// override flags are never trusted and the effective mode is always enforce.
type ScanConfig struct {
	Mode           string `mapstructure:"mode" yaml:"mode"`
	RedTeamEnabled bool   `mapstructure:"red_team_enabled" yaml:"red_team_enabled"`
	AIFailOpen     bool   `mapstructure:"ai_fail_open" yaml:"ai_fail_open"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Format  string `mapstructure:"format" yaml:"format"`
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}
