package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/finding"
	"github.com/Strob0t/Overwatch/internal/port/cache"
)

// ContextReader serves the persisted index and tier files read-only to
// external tooling, caching file contents keyed by modification time.
type ContextReader struct {
	dir   string
	cache cache.Cache
	ttl   time.Duration
}

// NewContextReader reads from dir. c may be nil to disable caching.
func NewContextReader(dir string, c cache.Cache, ttl time.Duration) *ContextReader {
	return &ContextReader{dir: dir, cache: c, ttl: ttl}
}

// IndexJSON returns the raw index.json document.
func (r *ContextReader) IndexJSON(ctx context.Context) ([]byte, error) {
	return r.read(ctx, IndexFile)
}

// TierJSON returns the raw file for one tier.
func (r *ContextReader) TierJSON(ctx context.Context, t finding.Tier) ([]byte, error) {
	return r.read(ctx, TierFile(t))
}

// Index decodes index.json.
func (r *ContextReader) Index(ctx context.Context) (finding.Index, error) {
	var ix finding.Index
	data, err := r.IndexJSON(ctx)
	if err != nil {
		return ix, err
	}
	if err := json.Unmarshal(data, &ix); err != nil {
		return ix, fmt.Errorf("decode %s: %w", IndexFile, err)
	}
	return ix, nil
}

// Findings decodes tier files (all tiers when t is empty) and keeps findings
// for file (any file when empty). Missing tier files count as empty.
func (r *ContextReader) Findings(ctx context.Context, t finding.Tier, file string) ([]finding.Finding, error) {
	out := []finding.Finding{}
	for _, tier := range selectTiers(t) {
		data, err := r.TierJSON(ctx, tier)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var f finding.File
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TierFile(tier), err)
		}
		for _, x := range f.Findings {
			if file == "" || x.File == file {
				out = append(out, x)
			}
		}
	}
	return out, nil
}

func (r *ContextReader) read(ctx context.Context, name string) ([]byte, error) {
	path := filepath.Join(r.dir, name)
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	key := name + "|" + strconv.FormatInt(st.ModTime().UnixNano(), 10) + "|" + strconv.FormatInt(st.Size(), 10)
	if r.cache != nil {
		if data, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			return data, nil
		}
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: name is a fixed tier or index file
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
			slog.Debug("context cache set failed", "file", name, "error", err)
		}
	}
	return data, nil
}
