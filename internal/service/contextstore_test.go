package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

func openTestStore(t *testing.T) *ContextStore {
	t.Helper()
	s, err := OpenContextStore(filepath.Join(t.TempDir(), "context"))
	if err != nil {
		t.Fatalf("open context store: %v", err)
	}
	return s
}

func newFinding(id, file string, sev finding.Severity) finding.Finding {
	return finding.Finding{ID: id, Agent: "linter", File: file, Severity: sev, Category: "lint", Message: "problem"}
}

func readIndex(t *testing.T, dir string) finding.Index {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var ix finding.Index
	if err := json.Unmarshal(data, &ix); err != nil {
		t.Fatalf("parse index: %v", err)
	}
	return ix
}

func readTier(t *testing.T, dir string, tier finding.Tier) finding.File {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, TierFile(tier)))
	if err != nil {
		t.Fatalf("read %s: %v", tier, err)
	}
	var f finding.File
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("parse %s: %v", tier, err)
	}
	return f
}

// --- Open ---

func TestOpenContextStoreWritesEmptyFiles(t *testing.T) {
	s := openTestStore(t)
	for _, tier := range finding.Tiers {
		f := readTier(t, s.Dir(), tier)
		if f.Tier != tier || f.Count != 0 || f.Findings == nil {
			t.Errorf("%s: unexpected empty file %+v", tier, f)
		}
	}
	ix := readIndex(t, s.Dir())
	if ix.CheckNow.Count != 0 || ix.Deferred.Count != 0 {
		t.Errorf("expected empty index, got %+v", ix)
	}
}

func TestOpenContextStoreRestoresFindings(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "context")
	s, err := OpenContextStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	blocking := newFinding("f1", "a.py", finding.SeverityError)
	blocking.Blocking = true
	if _, err := s.AddFinding(ctx, blocking, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddFinding(ctx, newFinding("f2", "b.py", finding.SeverityWarning), nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	reopened, err := OpenContextStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.GetFindings("", ""); len(got) != 2 {
		t.Errorf("expected 2 restored findings, got %d", len(got))
	}
	ix := reopened.Index()
	if ix.CheckNow.Count != 1 || ix.Deferred.Count != 1 {
		t.Errorf("unexpected restored index %+v", ix)
	}
}

func TestOpenContextStoreSkipsCorruptTier(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "context")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(dir, TierFile(finding.TierRelevant))
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := OpenContextStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := s.GetFindings(finding.TierRelevant, ""); len(got) != 0 {
		t.Errorf("expected no relevant findings, got %d", len(got))
	}
	data, _ := os.ReadFile(corrupt)
	if string(data) != "{not json" {
		t.Error("corrupt tier file should be left untouched")
	}
}

// --- AddFinding ---

func TestAddFindingErrorWithoutContextIsDeferred(t *testing.T) {
	s := openTestStore(t)
	tier, err := s.AddFinding(context.Background(), newFinding("f1", "a.py", finding.SeverityError), nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if tier != finding.TierBackground {
		t.Errorf("expected background, got %s", tier)
	}
	got := s.GetFindings(finding.TierBackground, "")
	if len(got) != 1 || got[0].RelevanceScore != 0.3 {
		t.Errorf("expected one finding scored 0.3, got %+v", got)
	}
	if ix := readIndex(t, s.Dir()); ix.Deferred.Count != 1 {
		t.Errorf("expected deferred.count 1, got %d", ix.Deferred.Count)
	}
}

func TestAddFindingTiers(t *testing.T) {
	tests := []struct {
		name  string
		build func() finding.Finding
		uc    *finding.UserContext
		want  finding.Tier
	}{
		{
			name: "blocking",
			build: func() finding.Finding {
				f := newFinding("b", "a.py", finding.SeverityWarning)
				f.Blocking = true
				return f
			},
			want: finding.TierImmediate,
		},
		{
			name: "error in current file",
			build: func() finding.Finding {
				return newFinding("c", "a.py", finding.SeverityError)
			},
			uc:   &finding.UserContext{CurrentFile: "a.py"},
			want: finding.TierImmediate,
		},
		{
			name: "warning in recent file",
			build: func() finding.Finding {
				return newFinding("r", "b.py", finding.SeverityWarning)
			},
			uc:   &finding.UserContext{CurrentFile: "a.py", RecentFiles: []string{"b.py"}},
			want: finding.TierRelevant,
		},
		{
			name: "agent score kept without context",
			build: func() finding.Finding {
				f := newFinding("s", "a.py", finding.SeverityInfo)
				f.RelevanceScore = 0.9
				return f
			},
			want: finding.TierImmediate,
		},
		{
			name: "context overrides agent score",
			build: func() finding.Finding {
				f := newFinding("o", "z.py", finding.SeverityInfo)
				f.RelevanceScore = 0.9
				return f
			},
			uc:   &finding.UserContext{CurrentFile: "a.py"},
			want: finding.TierBackground,
		},
		{
			name: "auto fixable style",
			build: func() finding.Finding {
				f := newFinding("a", "a.py", finding.SeverityStyle)
				f.AutoFixable = true
				return f
			},
			want: finding.TierAutoFixed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			tier, err := s.AddFinding(context.Background(), tt.build(), tt.uc)
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if tier != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tier)
			}
			if n := len(readTier(t, s.Dir(), tt.want).Findings); n != 1 {
				t.Errorf("expected 1 finding in %s file, got %d", tt.want, n)
			}
		})
	}
}

func TestAddFindingRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddFinding(context.Background(), finding.Finding{ID: "x", Agent: "linter"}, nil)
	if !errors.Is(err, domain.ErrInvalidFinding) {
		t.Errorf("expected ErrInvalidFinding, got %v", err)
	}
	if got := s.GetFindings("", ""); len(got) != 0 {
		t.Errorf("expected nothing stored, got %d", len(got))
	}
}

func TestAddFindingReplacesSameID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddFinding(ctx, newFinding("f1", "a.py", finding.SeverityError), nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	again := newFinding("f1", "a.py", finding.SeverityError)
	again.Blocking = true
	tier, err := s.AddFinding(ctx, again, nil)
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if tier != finding.TierImmediate {
		t.Errorf("expected immediate, got %s", tier)
	}
	if n := len(s.GetFindings("", "")); n != 1 {
		t.Errorf("expected the old entry replaced, got %d findings", n)
	}
	if n := readTier(t, s.Dir(), finding.TierBackground).Count; n != 0 {
		t.Errorf("expected background file emptied, got %d", n)
	}
	ix := readIndex(t, s.Dir())
	if ix.CheckNow.Count != 1 || ix.Deferred.Count != 0 {
		t.Errorf("unexpected index %+v", ix)
	}
}

func TestIndexCountsMatchTierFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	uc := &finding.UserContext{CurrentFile: "a.py", RecentFiles: []string{"b.py"}}
	inputs := []finding.Finding{
		newFinding("1", "a.py", finding.SeverityError),
		newFinding("2", "b.py", finding.SeverityWarning),
		newFinding("3", "c.py", finding.SeverityInfo),
		newFinding("4", "c.py", finding.SeverityStyle),
		newFinding("5", "a.py", finding.SeverityWarning),
	}
	inputs[3].AutoFixable = true
	for _, f := range inputs {
		if _, err := s.AddFinding(ctx, f, uc); err != nil {
			t.Fatalf("add %s: %v", f.ID, err)
		}
	}

	ix := readIndex(t, s.Dir())
	total := 0
	for _, tier := range finding.Tiers {
		n := readTier(t, s.Dir(), tier).Count
		if ix.Count(tier) != n {
			t.Errorf("%s: index count %d, file count %d", tier, ix.Count(tier), n)
		}
		total += n
	}
	if total != len(inputs) {
		t.Errorf("expected %d findings across tiers, got %d", len(inputs), total)
	}
}

func TestAddFindingBroadcastsIndex(t *testing.T) {
	s := openTestStore(t)
	hub := &mockBroadcaster{}
	s.SetBroadcaster(hub)

	if _, err := s.AddFinding(context.Background(), newFinding("f1", "a.py", finding.SeverityError), nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	msgs := hub.snapshot()
	if len(msgs) != 1 || msgs[0].eventType != EventContextUpdated {
		t.Fatalf("unexpected broadcasts %+v", msgs)
	}
	ix, ok := msgs[0].payload.(finding.Index)
	if !ok || ix.Deferred.Count != 1 {
		t.Errorf("expected index payload, got %#v", msgs[0].payload)
	}
}

// --- Persistence failures ---

// blockTierFile replaces a tier file with a non-empty directory so the
// atomic rename onto it fails.
func blockTierFile(t *testing.T, dir string, tier finding.Tier) {
	t.Helper()
	path := filepath.Join(dir, TierFile(tier))
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(path, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestAddFindingPersistFailureRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddFinding(ctx, newFinding("f1", "a.py", finding.SeverityError), nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	blockTierFile(t, s.Dir(), finding.TierImmediate)
	before := s.Index()

	moved := newFinding("f1", "a.py", finding.SeverityError)
	moved.Blocking = true
	if _, err := s.AddFinding(ctx, moved, nil); err == nil {
		t.Fatal("expected persistence error")
	}

	if got := s.GetFindings(finding.TierBackground, ""); len(got) != 1 || got[0].Blocking {
		t.Errorf("expected original background finding kept, got %+v", got)
	}
	if got := s.GetFindings(finding.TierImmediate, ""); len(got) != 0 {
		t.Errorf("expected no immediate findings, got %d", len(got))
	}
	if s.Index().LastUpdated != before.LastUpdated {
		t.Error("index should not change on failure")
	}
	if n := readTier(t, s.Dir(), finding.TierBackground).Count; n != 1 {
		t.Errorf("expected background file intact, got %d", n)
	}
}

func TestAddFindingIndexFailureKeepsFinding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	indexPath := filepath.Join(s.Dir(), IndexFile)
	if err := os.Remove(indexPath); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(indexPath, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AddFinding(ctx, newFinding("f1", "a.py", finding.SeverityError), nil); err == nil {
		t.Fatal("expected index persistence error")
	}
	if got := s.GetFindings(finding.TierBackground, ""); len(got) != 1 {
		t.Errorf("expected finding kept in memory, got %d", len(got))
	}
	if n := readTier(t, s.Dir(), finding.TierBackground).Count; n != 1 {
		t.Errorf("expected finding in tier file, got %d", n)
	}

	// The next mutation rewrites the stale index.
	if err := os.RemoveAll(indexPath); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddFinding(ctx, newFinding("f2", "b.py", finding.SeverityError), nil); err != nil {
		t.Fatalf("add after repair: %v", err)
	}
	if ix := readIndex(t, s.Dir()); ix.Deferred.Count != 2 {
		t.Errorf("expected repaired index with deferred.count 2, got %d", ix.Deferred.Count)
	}
}

// --- Atomic writes ---

func TestTierFilesNeverPartial(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var readErrs []error

	for _, name := range []string{IndexFile, TierFile(finding.TierBackground)} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				data, err := os.ReadFile(filepath.Join(s.Dir(), name))
				if err == nil && !json.Valid(data) {
					err = errors.New(name + " was partially written")
				}
				if err != nil {
					mu.Lock()
					readErrs = append(readErrs, err)
					mu.Unlock()
					return
				}
			}
		}()
	}

	for i := range 50 {
		f := newFinding(finding.NewID(), "a.py", finding.SeverityError)
		f.Message = strings.Repeat("x", i*50)
		if _, err := s.AddFinding(ctx, f, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	for _, err := range readErrs {
		t.Error(err)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestWriteJSONAtomicFailureLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doc.json")
	if err := os.MkdirAll(filepath.Join(target, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeJSONAtomic(target, map[string]int{"n": 1}); err == nil {
		t.Fatal("expected rename onto a directory to fail")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the blocking directory, got %d entries", len(entries))
	}
	if err := writeJSONAtomic(filepath.Join(dir, "bad.json"), make(chan int)); err == nil {
		t.Error("expected encode error")
	}
}

// --- Get / Clear ---

func TestGetAndClearFindings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, f := range []finding.Finding{
		newFinding("1", "a.py", finding.SeverityError),
		newFinding("2", "b.py", finding.SeverityError),
		newFinding("3", "a.py", finding.SeverityInfo),
	} {
		if _, err := s.AddFinding(ctx, f, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if got := s.GetFindings("", "a.py"); len(got) != 2 {
		t.Errorf("expected 2 findings for a.py, got %d", len(got))
	}
	if got := s.GetFindings(finding.TierImmediate, ""); len(got) != 0 {
		t.Errorf("expected no immediate findings, got %d", len(got))
	}
	if got := s.GetFindings("", "a"); len(got) != 0 {
		t.Errorf("file filter must match exactly, got %d", len(got))
	}

	n, err := s.ClearFindings(ctx, "", "a.py")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if ix := readIndex(t, s.Dir()); ix.Deferred.Count != 1 {
		t.Errorf("expected 1 deferred after clear, got %d", ix.Deferred.Count)
	}

	n, err = s.ClearFindings(ctx, finding.TierImmediate, "")
	if err != nil || n != 0 {
		t.Errorf("expected nothing to clear, got %d, %v", n, err)
	}
	n, _ = s.ClearFindings(ctx, "", "")
	if n != 1 || len(s.GetFindings("", "")) != 0 {
		t.Errorf("expected everything cleared, removed %d", n)
	}
}
