package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/calcforge/calcforge/internal/classifier"
	"github.com/calcforge/calcforge/internal/config"
	"github.com/calcforge/calcforge/internal/llm"
	"github.com/calcforge/calcforge/internal/pipeline"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [prompt]",
	Short: "Run only the prompt classifier",
	Long: "Classify a calculator prompt without generating anything. " +
		"The prompt is taken from the argument, or from stdin when omitted. " +
		"The decision is written to stdout as JSON.",
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration; %w", err)
	}

	prompt := ""
	if len(args) == 1 {
		prompt = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin; %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return fmt.Errorf("prompt must not be empty")
	}

	logger := pipeline.SetupLogger(cfg)
	client := llm.NewClient(cfg.Provider, logger)

	decision, err := classifier.New(client, logger).Classify(context.Background(), prompt)
	if err != nil {
		return err
	}

	return pipeline.WriteJSON(os.Stdout, decision)
}
