package main

import (
	"context"
	"fmt"

	"github.com/Strob0t/Overwatch/internal/adapter/mcp"
	ownats "github.com/Strob0t/Overwatch/internal/adapter/nats"
	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/service"
)

// runMCP serves the context directory over MCP on stdin/stdout until the
// client disconnects. With NATS enabled, reads share the daemon's cache.
func runMCP(ctx context.Context, cfg *config.Config) error {
	var queue *ownats.Queue
	if cfg.NATS.Enabled {
		q, err := ownats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q
	}

	c, release, err := newReadCache(ctx, cfg.Cache, queue)
	if err != nil {
		return err
	}
	defer release()

	reader := service.NewContextReader(cfg.ContextPath(), c, cfg.Cache.TTL)
	srv := mcp.NewServer(mcp.ServerConfig{Name: "overwatch", Version: version}, reader)
	return srv.ServeStdio()
}
