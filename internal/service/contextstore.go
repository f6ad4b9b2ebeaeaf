package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/finding"
	"github.com/Strob0t/Overwatch/internal/port/broadcast"
)

// IndexFile is the summary index written next to the tier files.
const IndexFile = "index.json"

// EventContextUpdated is broadcast with the new index after every mutation.
const EventContextUpdated = "context.updated"

// TierFile returns the file name holding a tier's findings.
func TierFile(t finding.Tier) string {
	return string(t) + ".json"
}

// ContextStore scores and tiers findings and keeps one JSON file per tier
// plus index.json in dir. A single lock spans score, tier assignment,
// persistence, and index regeneration, so index.json always agrees with the
// tier files.
type ContextStore struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	tiers map[finding.Tier][]finding.Finding
	index finding.Index
	hub   broadcast.Broadcaster
}

// OpenContextStore creates dir if needed, loads any existing tier files, and
// writes a fresh index.
func OpenContextStore(dir string) (*ContextStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}
	s := &ContextStore{
		dir:   dir,
		now:   func() time.Time { return time.Now().UTC() },
		tiers: make(map[finding.Tier][]finding.Finding, len(finding.Tiers)),
	}
	var missing []finding.Tier
	for _, t := range finding.Tiers {
		findings, found, err := s.load(t)
		if err != nil {
			slog.Warn("ignoring unreadable tier file", "tier", t, "error", err)
			continue
		}
		if !found {
			missing = append(missing, t)
		}
		s.tiers[t] = findings
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range missing {
		if err := s.writeTier(t); err != nil {
			return nil, fmt.Errorf("persist %s findings: %w", t, err)
		}
	}
	if err := s.writeIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ContextStore) load(t finding.Tier) ([]finding.Finding, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, TierFile(t)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	var f finding.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", TierFile(t), err)
	}
	return f.Findings, true, nil
}

// SetBroadcaster sends index updates to live clients.
func (s *ContextStore) SetBroadcaster(b broadcast.Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hub = b
}

// Dir returns the directory holding the tier files.
func (s *ContextStore) Dir() string { return s.dir }

// AddFinding scores f, assigns its tier, persists the tier, and regenerates
// the index. With a user context the score is recomputed from it; without
// one the agent-supplied score is kept, and a missing score falls back to
// the finding's own severity and freshness. A finding whose ID is already
// stored replaces the old entry. Persistence errors are returned. A failed
// tier write leaves memory and the tier files unchanged; a failed index write
// keeps the finding in memory and in its tier file, and index.json stays
// stale until the next successful mutation rewrites it.
func (s *ContextStore) AddFinding(ctx context.Context, f finding.Finding, uc *finding.UserContext) (finding.Tier, error) {
	f.Normalize(s.now())
	if err := f.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case uc != nil:
		f.RelevanceScore = finding.Score(&f, uc)
	case f.RelevanceScore <= 0:
		f.RelevanceScore = finding.Score(&f, nil)
	}
	tier := finding.Classify(&f)

	prev := s.snapshot()
	dirty := []finding.Tier{tier}
	for _, t := range finding.Tiers {
		i := slices.IndexFunc(s.tiers[t], func(x finding.Finding) bool { return x.ID == f.ID })
		if i < 0 {
			continue
		}
		s.tiers[t] = slices.Delete(slices.Clone(s.tiers[t]), i, i+1)
		if t != tier {
			dirty = append(dirty, t)
		}
	}
	s.tiers[tier] = append(slices.Clone(s.tiers[tier]), f)

	if err := s.persist(prev, dirty); err != nil {
		return "", err
	}
	s.publishIndex(ctx)
	return tier, nil
}

// GetFindings returns findings in tier (all tiers when empty) whose file
// equals file (any file when empty), in tier order.
func (s *ContextStore) GetFindings(tier finding.Tier, file string) []finding.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []finding.Finding{}
	for _, t := range selectTiers(tier) {
		for _, f := range s.tiers[t] {
			if file == "" || f.File == file {
				out = append(out, f)
			}
		}
	}
	return out
}

// ClearFindings removes findings matching the same filters as GetFindings
// and returns how many were removed.
func (s *ContextStore) ClearFindings(ctx context.Context, tier finding.Tier, file string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshot()
	removed := 0
	var dirty []finding.Tier
	for _, t := range selectTiers(tier) {
		kept := make([]finding.Finding, 0, len(s.tiers[t]))
		for _, f := range s.tiers[t] {
			if file == "" || f.File == file {
				continue
			}
			kept = append(kept, f)
		}
		if n := len(s.tiers[t]) - len(kept); n > 0 {
			removed += n
			s.tiers[t] = kept
			dirty = append(dirty, t)
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.persist(prev, dirty); err != nil {
		return 0, err
	}
	s.publishIndex(ctx)
	return removed, nil
}

// Index returns the current summary index.
func (s *ContextStore) Index() finding.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func selectTiers(t finding.Tier) []finding.Tier {
	if t == "" {
		return finding.Tiers
	}
	return []finding.Tier{t}
}

func (s *ContextStore) snapshot() map[finding.Tier][]finding.Finding {
	out := make(map[finding.Tier][]finding.Finding, len(s.tiers))
	for t, fs := range s.tiers {
		out[t] = fs
	}
	return out
}

// persist writes the dirty tiers and the index. On failure it restores prev
// in memory and tries to put the already-written tier files back.
// Must be called with s.mu held.
func (s *ContextStore) persist(prev map[finding.Tier][]finding.Finding, dirty []finding.Tier) error {
	var written []finding.Tier
	for _, t := range dirty {
		if err := s.writeTier(t); err != nil {
			s.tiers = prev
			for _, w := range written {
				if rerr := s.writeTier(w); rerr != nil {
					slog.Error("restore tier file failed", "tier", w, "error", rerr)
				}
			}
			return fmt.Errorf("persist %s findings: %w", t, err)
		}
		written = append(written, t)
	}
	return s.writeIndex()
}

func (s *ContextStore) writeTier(t finding.Tier) error {
	return writeJSONAtomic(filepath.Join(s.dir, TierFile(t)), finding.NewFile(t, s.tiers[t]))
}

// writeIndex regenerates and persists the index. Must be called with s.mu held.
func (s *ContextStore) writeIndex() error {
	s.index = finding.BuildIndex(s.tiers, s.now())
	if err := writeJSONAtomic(filepath.Join(s.dir, IndexFile), s.index); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

func (s *ContextStore) publishIndex(ctx context.Context) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, EventContextUpdated, s.index)
	}
}
