// Command steward annotates steward replies from the command line.
package main

import (
	"fmt"
	"os"

	"penaltydesk-backend/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Explain Formula 1 penalty decisions",
	Long: `steward turns free-text steward replies into structured verdicts.

Examples:
  echo "Car 44 is given a drive-through penalty." | steward annotate
  steward ask "Verstappen forced Norris off track at turn 4"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	annotateCmd.Flags().StringVarP(&annotateFile, "file", "f", "", "read the reply from a file instead of stdin")
	annotateCmd.Flags().StringVarP(&annotatePrompt, "prompt", "p", "", "the incident the reply answers")

	askCmd.Flags().StringVar(&askLLMChoice, "llm-choice", "", "upstream model (gemini-default or gemini-finetuned)")

	rootCmd.AddCommand(annotateCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
