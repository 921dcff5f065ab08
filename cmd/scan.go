package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/calcforge/calcforge/internal/config"
	"github.com/calcforge/calcforge/internal/pipeline"
	"github.com/calcforge/calcforge/internal/policy"
	"github.com/calcforge/calcforge/internal/scan"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run only the deterministic scanner",
	Long: "Scan HTML from stdin against the safety policy without calling any " +
		"model. The scan result is written to stdout as JSON; the exit code is " +
		"non-zero when the document fails the policy.",
	RunE: runScan,
}

// scanOutput mirrors the scanner result with JSON field names for callers
type scanOutput struct {
	OK             bool   `json:"ok"`
	Code           string `json:"code,omitempty"`
	RuleID         string `json:"ruleId,omitempty"`
	Message        string `json:"message,omitempty"`
	MatchIndex     *int   `json:"matchIndex,omitempty"`
	ContextSnippet string `json:"contextSnippet,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration; %w", err)
	}

	pol, err := policy.Get(cfg.Policy.File)
	if err != nil {
		return fmt.Errorf("failed to load policy; %w", err)
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin; %w", err)
	}

	result := scan.Deterministic(string(data), pol)

	out := scanOutput{
		OK:             result.OK,
		Code:           result.Code,
		RuleID:         result.RuleID,
		Message:        result.Message,
		MatchIndex:     result.MatchIndex,
		ContextSnippet: result.ContextSnippet,
	}

	if err := pipeline.WriteJSON(os.Stdout, out); err != nil {
		return err
	}

	if !result.OK {
		os.Exit(1)
	}
	return nil
}
