package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InitConfig initializes the configuration using Viper
func InitConfig(configPath string) error {
	// Load .env file if it exists (fail silently if not found)
	loadEnvFiles()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(GetDefaultConfigDir())
		viper.AddConfigPath(".")
	}

	// Set defaults
	viper.SetDefault("provider.base_url", DefaultConfig.Provider.BaseURL)
	viper.SetDefault("provider.model", DefaultConfig.Provider.Model)
	viper.SetDefault("provider.api_key_env", DefaultConfig.Provider.APIKeyEnv)
	viper.SetDefault("provider.timeout_seconds", DefaultConfig.Provider.TimeoutSeconds)
	viper.SetDefault("provider.max_attempts", DefaultConfig.Provider.MaxAttempts)
	viper.SetDefault("provider.backoff_ms", DefaultConfig.Provider.BackoffMs)
	viper.SetDefault("provider.max_output_tokens", DefaultConfig.Provider.MaxOutputTokens)
	viper.SetDefault("policy.file", DefaultConfig.Policy.File)
	viper.SetDefault("artifact.max_bytes", DefaultConfig.Artifact.MaxBytes)
	viper.SetDefault("scan.mode", DefaultConfig.Scan.Mode)
	viper.SetDefault("scan.red_team_enabled", DefaultConfig.Scan.RedTeamEnabled)
	viper.SetDefault("scan.ai_fail_open", DefaultConfig.Scan.AIFailOpen)
	viper.SetDefault("logging.level", DefaultConfig.Logging.Level)
	viper.SetDefault("logging.format", DefaultConfig.Logging.Format)
	viper.SetDefault("logging.log_file", DefaultConfig.Logging.LogFile)

	// Enable environment variable overrides
	viper.SetEnvPrefix("CALCFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (it's okay if it doesn't exist)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config; %w", err)
		}
	}

	return nil
}

// GetConfig returns the current configuration
func GetConfig() (*Config, error) {
	var cfg Config

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config; %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values that cannot be defaulted away
func (c *Config) Validate() error {
	switch c.Scan.Mode {
	case ScanModeEnforce, ScanModeWarn, ScanModeOff:
	default:
		return fmt.Errorf("invalid scan mode %q (want enforce, warn, or off)", c.Scan.Mode)
	}

	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("provider.max_attempts must be at least 1, got %d", c.Provider.MaxAttempts)
	}

	if c.Artifact.MaxBytes < 1 {
		return fmt.Errorf("artifact.max_bytes must be positive, got %d", c.Artifact.MaxBytes)
	}

	return nil
}

// loadEnvFiles loads environment variables from .env files
// It tries multiple locations and fails silently if files don't exist
func loadEnvFiles() {
	locations := []string{
		".env", // Current directory
		filepath.Join(GetDefaultConfigDir(), ".env"), // Config directory (~/.calcforge/.env)
	}

	// Also try .env.local for local overrides
	localLocations := []string{
		".env.local",
		filepath.Join(GetDefaultConfigDir(), ".env.local"),
	}

	// Load .env files first
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			_ = godotenv.Load(location) // Fail silently
		}
	}

	// Load .env.local files (override .env)
	for _, location := range localLocations {
		if _, err := os.Stat(location); err == nil {
			_ = godotenv.Load(location) // Fail silently
		}
	}
}
