package cmd

import (
	"fmt"
	"os"

	"github.com/calcforge/calcforge/internal/config"
	"github.com/calcforge/calcforge/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "calcforge",
	Short: "Generate sandboxed calculator artifacts from natural language",
	Long: "\ncalcforge turns a natural-language calculator description into a " +
		"self-contained, sandboxed HTML artifact.\n\n" +
		"Model output is treated as adversarial: every response is classified, " +
		"validated, scanned against a deterministic safety policy, and scanned " +
		"again by an AI reviewer before it is returned. The tool reads one JSON " +
		"request from stdin and writes one JSON response to stdout; logging goes " +
		"to stderr so stdout stays machine-parseable.",
	PersistentPreRunE: runInit,
	RunE:              runGenerate,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (default: ~/.calcforge/config.yaml)")
	rootCmd.Flags().String("log-level", config.DefaultConfig.Logging.Level, "Logging level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", config.DefaultConfig.Logging.Format, "Logging format (json, text)")
	rootCmd.Flags().String("scan-mode", config.DefaultConfig.Scan.Mode, "Scan policy mode (enforce, warn, off)")

	// Bind flags to viper
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.Flags().Lookup("log-format"))
	viper.BindPFlag("scan.mode", rootCmd.Flags().Lookup("scan-mode"))

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)

	// Enable --version flag on root command
	rootCmd.Version = version
	rootCmd.SetVersionTemplate("calcforge version {{.Version}}\n")
}

func runInit(cmd *cobra.Command, args []string) error {
	// Get custom config path if provided
	configPath, _ := cmd.Flags().GetString("config")

	err := config.InitConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration; %w", err)
	}

	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	return pipeline.Process(os.Stdin, os.Stdout)
}

func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.Execute()

	if err != nil {
		cmd, _, _ := rootCmd.Find(os.Args[1:])
		if cmd == nil {
			cmd = rootCmd
		}

		fmt.Printf("Error: %v\n", err)
		if !cmd.SilenceUsage {
			fmt.Printf("\n")
			cmd.SetOut(os.Stdout)
			cmd.Usage()
		}

		return err
	}

	return nil
}
