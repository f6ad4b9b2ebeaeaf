package main

import (
	"context"
	"fmt"
	"log/slog"

	ownats "github.com/Strob0t/Overwatch/internal/adapter/nats"
	"github.com/Strob0t/Overwatch/internal/adapter/natskv"
	"github.com/Strob0t/Overwatch/internal/adapter/ristretto"
	"github.com/Strob0t/Overwatch/internal/adapter/tiered"
	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/port/cache"
)

// newReadCache builds the context read cache: ristretto in process, layered
// over a shared KV bucket when queue is non-nil. A bucket that cannot be
// opened leaves the in-process level alone. The returned func releases it.
func newReadCache(ctx context.Context, cfg config.Cache, queue *ownats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.NewMB(int(cfg.L1MaxSizeMB))
	if err != nil {
		return nil, nil, fmt.Errorf("cache: %w", err)
	}
	if queue == nil || cfg.L2Bucket == "" {
		return l1, l1.Close, nil
	}

	l2, err := natskv.Open(ctx, queue.JetStream(), cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		slog.Warn("shared read cache unavailable", "bucket", cfg.L2Bucket, "error", err)
		return l1, l1.Close, nil
	}
	slog.Info("shared read cache enabled", "bucket", cfg.L2Bucket)
	return tiered.New(l1, l2, cfg.TTL), l1.Close, nil
}
