package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

const (
	resourceScheme   = "overwatch://context/"
	indexResourceURI = resourceScheme + "index"
)

// registerResources exposes index.json and one resource per tier file.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			indexResourceURI,
			"Context Index",
			mcplib.WithResourceDescription("Counts, files, and previews per disclosure tier"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleIndexResource,
	)

	for _, t := range finding.Tiers {
		s.mcpServer.AddResource(
			mcplib.NewResource(
				resourceScheme+string(t),
				"Findings: "+string(t),
				mcplib.WithResourceDescription("All findings in the "+string(t)+" tier"),
				mcplib.WithMIMEType("application/json"),
			),
			s.tierResourceHandler(t),
		)
	}
}

func (s *Server) handleIndexResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := s.src.IndexJSON(ctx)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, data), nil
}

func (s *Server) tierResourceHandler(t finding.Tier) func(context.Context, mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return func(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
		data, err := s.src.TierJSON(ctx, t)
		if err != nil {
			return nil, err
		}
		return jsonContents(req.Params.URI, data), nil
	}
}

func jsonContents(uri string, data []byte) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}
}
