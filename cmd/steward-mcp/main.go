// Command steward-mcp serves the steward tools over MCP on stdio.
package main

import (
	"flag"
	"fmt"
	"os"

	"penaltydesk-backend/config"
	"penaltydesk-backend/logging"
	"penaltydesk-backend/mcptools"
	"penaltydesk-backend/upstream"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "steward-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// stdout carries the protocol, so logs go to stderr only
	logger, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client := upstream.NewClient(cfg.Upstream.URL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithMaxRetries(cfg.Upstream.MaxRetries),
		upstream.WithLogger(logger),
	)

	s := server.NewMCPServer(
		"penaltydesk-steward",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Explain Formula 1 penalty decisions. Use ask_steward for a new incident "+
			"and annotate_reply when you already have the steward's text."),
	)

	annotateTool := mcptools.NewAnnotateTool(cfg.Analysis.DefaultPrompt)
	s.AddTool(annotateTool.Definition(), annotateTool.Handle)

	askTool := mcptools.NewAskTool(client, cfg.Analysis.DefaultPrompt, cfg.Upstream.LLMChoice)
	s.AddTool(askTool.Definition(), askTool.Handle)

	logger.Info("steward MCP server starting", zap.String("upstream", cfg.Upstream.URL))
	return server.ServeStdio(s)
}
