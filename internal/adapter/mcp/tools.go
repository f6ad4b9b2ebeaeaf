package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.getContextIndexTool(),
		s.getFindingsTool(),
	)
}

func tierNames() []string {
	names := make([]string, 0, len(finding.Tiers))
	for _, t := range finding.Tiers {
		names = append(names, string(t))
	}
	return names
}

func (s *Server) getContextIndexTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_context_index",
		mcplib.WithDescription("Summary of current findings per disclosure tier"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetContextIndex}
}

func (s *Server) getFindingsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_findings",
		mcplib.WithDescription("List findings, optionally narrowed to one tier and one file"),
		mcplib.WithString("tier",
			mcplib.Description("Disclosure tier; omit for all tiers"),
			mcplib.Enum(tierNames()...),
		),
		mcplib.WithString("file",
			mcplib.Description("Project-relative file path; omit for all files"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetFindings}
}

func (s *Server) handleGetContextIndex(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	data, err := s.src.IndexJSON(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return mcplib.NewToolResultError("context index has not been written yet; is the overwatch daemon running?"), nil
	}
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read context index", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetFindings(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	var tier finding.Tier
	if raw := req.GetString("tier", ""); raw != "" {
		t, err := finding.ParseTier(raw)
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		tier = t
	}
	findings, err := s.src.Findings(ctx, tier, req.GetString("file", ""))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read findings", err), nil
	}
	data, err := json.Marshal(findings)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal findings", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: text}},
	}
}
