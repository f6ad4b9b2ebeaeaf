package finding_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

func intPtr(n int) *int { return &n }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		f       finding.Finding
		wantErr bool
	}{
		{"valid", finding.Finding{ID: "f1", Agent: "ruff", File: "a.py"}, false},
		{"missing id", finding.Finding{Agent: "ruff", File: "a.py"}, true},
		{"missing agent", finding.Finding{ID: "f1", File: "a.py"}, true},
		{"missing file", finding.Finding{ID: "f1", Agent: "ruff"}, true},
		{"negative line", finding.Finding{ID: "f1", Agent: "ruff", File: "a.py", Line: intPtr(-1)}, true},
		{"negative column", finding.Finding{ID: "f1", Agent: "ruff", File: "a.py", Column: intPtr(-3)}, true},
		{"zero line ok", finding.Finding{ID: "f1", Agent: "ruff", File: "a.py", Line: intPtr(0)}, false},
		{"bad severity", finding.Finding{ID: "f1", Agent: "ruff", File: "a.py", Severity: "fatal"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidFinding) {
				t.Errorf("expected ErrInvalidFinding, got %v", err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := finding.Finding{ID: "f1", Agent: "a", File: "x.go", RelevanceScore: 3}
	f.Normalize(now)

	if f.Severity != finding.SeverityInfo {
		t.Errorf("expected default severity info, got %s", f.Severity)
	}
	if f.ScopeType != finding.ScopeCurrentFile {
		t.Errorf("expected default scope current_file, got %s", f.ScopeType)
	}
	if f.DisclosureLevel != finding.DisclosureStandard {
		t.Errorf("expected standard disclosure, got %s", f.DisclosureLevel)
	}
	if !f.Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, f.Timestamp)
	}
	if f.RelevanceScore != 1 {
		t.Errorf("expected clamped score 1, got %v", f.RelevanceScore)
	}
}

func TestLocation(t *testing.T) {
	f := finding.Finding{File: "a.py"}
	if got := f.Location(); got != "a.py" {
		t.Errorf("expected a.py, got %q", got)
	}
	f.Line = intPtr(12)
	if got := f.Location(); got != "a.py:12" {
		t.Errorf("expected a.py:12, got %q", got)
	}
}
