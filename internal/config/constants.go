package config

import (
	"os"
	"path/filepath"
)

// DefaultConfig provides default configuration values
var DefaultConfig = Config{
	Provider: ProviderConfig{
		BaseURL:         "https://api.openai.com/v1",
		Model:           "gpt-4o-mini",
		APIKeyEnv:       "CALCFORGE_API_KEY",
		TimeoutSeconds:  90,
		MaxAttempts:     3,
		BackoffMs:       500,
		MaxOutputTokens: 8192,
	},
	Policy: PolicyConfig{
		File: "", // Empty = compiled-in default policy
	},
	Artifact: ArtifactConfig{
		MaxBytes: 256 * 1024,
	},
	Scan: ScanConfig{
		Mode:           ScanModeEnforce,
		RedTeamEnabled: false,
		AIFailOpen:     false,
	},
	Logging: LoggingConfig{
		Level:   "info",
		Format:  "json",
		LogFile: "", // Empty = stderr only, set path to enable file logging
	},
}

// GetDefaultConfigDir returns the default configuration directory
func GetDefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".calcforge"
	}
	return filepath.Join(home, ".calcforge")
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() string {
	return filepath.Join(GetDefaultConfigDir(), "config.yaml")
}
