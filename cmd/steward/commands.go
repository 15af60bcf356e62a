package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"penaltydesk-backend/annotator"
	"penaltydesk-backend/config"
	"penaltydesk-backend/models"
	"penaltydesk-backend/service"
	"penaltydesk-backend/upstream"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	annotateFile   string
	annotatePrompt string
	askLLMChoice   string
)

// annotateCmd annotates a reply that has already been produced
var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Annotate a steward reply read from stdin or a file",
	Long: `Annotates a steward reply read from stdin or --file and prints the verdict JSON.

An empty reply is accepted and produces the fallback verdict (No Action,
fairness 50, the default article).`,
	Args:  cobra.NoArgs,
	RunE:  runAnnotate,
}

// askCmd queries the steward model and annotates its reply
var askCmd = &cobra.Command{
	Use:   "ask [incident]",
	Short: "Ask the steward model about an incident and annotate the reply",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAsk,
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	var (
		raw []byte
		err error
	)
	if annotateFile != "" {
		raw, err = os.ReadFile(annotateFile)
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}

	// an empty reply is valid and yields the fallback verdict
	reply := strings.TrimRight(string(raw), "\n")

	prompt := annotatePrompt
	if prompt == "" {
		prompt = service.DefaultPrompt
	}
	return printVerdict(cmd.OutOrStdout(), annotator.Annotate(prompt, reply))
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	prompt := cfg.Analysis.DefaultPrompt
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		prompt = args[0]
	}
	llmChoice := askLLMChoice
	if llmChoice == "" {
		llmChoice = cfg.Upstream.LLMChoice
	}

	client := upstream.NewClient(cfg.Upstream.URL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithMaxRetries(cfg.Upstream.MaxRetries),
		upstream.WithLogger(currentLogger()),
	)

	reply, err := client.Query(cmd.Context(), prompt, llmChoice)
	if err != nil {
		return fmt.Errorf("steward query failed: %w", err)
	}
	return printVerdict(cmd.OutOrStdout(), annotator.Annotate(prompt, reply))
}

func printVerdict(w io.Writer, verdict models.Verdict) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(verdict)
}

func currentLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
