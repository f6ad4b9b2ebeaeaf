package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

func TestContextReaderReadsStoreFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	blocking := newFinding("f1", "a.py", finding.SeverityError)
	blocking.Blocking = true
	for _, f := range []finding.Finding{blocking, newFinding("f2", "b.py", finding.SeverityWarning)} {
		if _, err := s.AddFinding(ctx, f, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	r := NewContextReader(s.Dir(), newMockCache(), time.Minute)
	ix, err := r.Index(ctx)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if ix.CheckNow.Count != 1 || ix.Deferred.Count != 1 {
		t.Errorf("unexpected index %+v", ix)
	}

	all, err := r.Findings(ctx, "", "")
	if err != nil {
		t.Fatalf("findings: %v", err)
	}
	if len(all) != 2 || all[0].ID != "f1" {
		t.Errorf("expected immediate finding first, got %+v", all)
	}
	only, err := r.Findings(ctx, finding.TierBackground, "b.py")
	if err != nil || len(only) != 1 {
		t.Errorf("expected one background finding for b.py, got %d, %v", len(only), err)
	}
}

func TestContextReaderCachesUntilFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, IndexFile)
	if err := os.WriteFile(path, []byte(`{"deferred":{"count":1}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newMockCache()
	r := NewContextReader(dir, c, time.Minute)
	ctx := context.Background()

	for range 3 {
		if _, err := r.IndexJSON(ctx); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if c.hits != 2 {
		t.Errorf("expected 2 cache hits, got %d", c.hits)
	}

	if err := os.WriteFile(path, []byte(`{"deferred":{"count":22}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	ix, err := r.Index(ctx)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if ix.Deferred.Count != 22 {
		t.Errorf("expected fresh content after change, got %d", ix.Deferred.Count)
	}
}

func TestContextReaderMissingFiles(t *testing.T) {
	r := NewContextReader(t.TempDir(), nil, 0)
	ctx := context.Background()
	if _, err := r.IndexJSON(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	got, err := r.Findings(ctx, "", "")
	if err != nil || len(got) != 0 {
		t.Errorf("expected no findings without tier files, got %d, %v", len(got), err)
	}
}

func TestContextReaderCorruptTier(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, TierFile(finding.TierRelevant)), []byte("oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewContextReader(dir, nil, 0)
	if _, err := r.Findings(context.Background(), finding.TierRelevant, ""); err == nil {
		t.Error("expected decode error")
	}
}
