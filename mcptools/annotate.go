// Package mcptools exposes the response annotator as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"penaltydesk-backend/annotator"
	"penaltydesk-backend/models"

	"github.com/mark3labs/mcp-go/mcp"
)

// AnnotateTool handles the annotate_reply MCP tool.
type AnnotateTool struct {
	defaultPrompt string
}

// NewAnnotateTool creates an AnnotateTool. defaultPrompt is used as the title
// source when a call omits the prompt.
func NewAnnotateTool(defaultPrompt string) *AnnotateTool {
	return &AnnotateTool{defaultPrompt: defaultPrompt}
}

// Definition returns the MCP tool definition for annotate_reply.
func (t *AnnotateTool) Definition() mcp.Tool {
	return mcp.NewTool("annotate_reply",
		mcp.WithDescription(
			"Turn a free-text Formula 1 steward reply into a structured verdict: "+
				"penalty severity, fairness rating, cited articles and precedents.",
		),
		mcp.WithString("reply",
			mcp.Required(),
			mcp.Description("The steward model's reply text; an empty reply yields the fallback verdict"),
		),
		mcp.WithString("prompt",
			mcp.Description("The incident description the reply answers"),
		),
	)
}

// Handle processes the annotate_reply tool call.
func (t *AnnotateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// an empty reply is annotated with the fallback verdict
	reply := req.GetString("reply", "")

	prompt := req.GetString("prompt", "")
	if strings.TrimSpace(prompt) == "" {
		prompt = t.defaultPrompt
	}

	return verdictResult(annotator.Annotate(prompt, reply))
}

func verdictResult(v models.Verdict) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
