package mcptools

import (
	"context"
	"fmt"
	"strings"

	"penaltydesk-backend/annotator"
	"penaltydesk-backend/models"
	"penaltydesk-backend/upstream"

	"github.com/mark3labs/mcp-go/mcp"
)

// Querier answers an incident prompt with free text.
type Querier interface {
	Query(ctx context.Context, prompt, llmChoice string) (string, error)
}

// AskTool handles the ask_steward MCP tool.
type AskTool struct {
	querier          Querier
	defaultPrompt    string
	defaultLLMChoice string
}

// NewAskTool creates an AskTool backed by the steward query service.
func NewAskTool(querier Querier, defaultPrompt, defaultLLMChoice string) *AskTool {
	return &AskTool{
		querier:          querier,
		defaultPrompt:    defaultPrompt,
		defaultLLMChoice: defaultLLMChoice,
	}
}

// Definition returns the MCP tool definition for ask_steward.
func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool("ask_steward",
		mcp.WithDescription(
			"Ask the steward model about a Formula 1 incident and return its reply as a structured verdict.",
		),
		mcp.WithString("incident",
			mcp.Description("Description of the incident; a generic prompt is used when empty"),
		),
		mcp.WithString("llm_choice",
			mcp.Description("Upstream model to ask"),
			mcp.Enum(models.LLMChoiceDefault, models.LLMChoiceFinetuned),
		),
	)
}

// Handle processes the ask_steward tool call.
func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := req.GetString("incident", "")
	if strings.TrimSpace(prompt) == "" {
		prompt = t.defaultPrompt
	}

	llmChoice := req.GetString("llm_choice", t.defaultLLMChoice)
	if !upstream.ValidLLMChoice(llmChoice) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown llm_choice %q", llmChoice)), nil
	}

	reply, err := t.querier.Query(ctx, prompt, llmChoice)
	if err != nil {
		if msg, ok := upstream.ErrorMessage(err); ok {
			return mcp.NewToolResultError("steward model error: " + msg), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("steward query failed: %v", err)), nil
	}

	return verdictResult(annotator.Annotate(prompt, reply))
}
