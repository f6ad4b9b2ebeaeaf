package finding_test

import (
	"testing"

	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		f    finding.Finding
		want finding.Tier
	}{
		{"blocking with zero score", finding.Finding{Blocking: true, RelevanceScore: 0}, finding.TierImmediate},
		{"blocking auto-fixable style", finding.Finding{Blocking: true, AutoFixable: true, Severity: finding.SeverityStyle}, finding.TierImmediate},
		{"score 0.81", finding.Finding{RelevanceScore: 0.81}, finding.TierImmediate},
		{"score exactly 0.8", finding.Finding{RelevanceScore: 0.8}, finding.TierImmediate},
		{"score 0.41", finding.Finding{RelevanceScore: 0.41}, finding.TierRelevant},
		{"score exactly 0.4", finding.Finding{RelevanceScore: 0.4}, finding.TierRelevant},
		{"score 0.39", finding.Finding{RelevanceScore: 0.39}, finding.TierBackground},
		{"auto-fixable style low score", finding.Finding{AutoFixable: true, Severity: finding.SeverityStyle, RelevanceScore: 0.3}, finding.TierAutoFixed},
		{"auto-fixable style high score", finding.Finding{AutoFixable: true, Severity: finding.SeverityStyle, RelevanceScore: 0.6}, finding.TierRelevant},
		{"auto-fixable error not auto tier", finding.Finding{AutoFixable: true, Severity: finding.SeverityError, RelevanceScore: 0.3}, finding.TierBackground},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := finding.Classify(&tt.f); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range finding.Tiers {
		got, err := finding.ParseTier(string(tier))
		if err != nil || got != tier {
			t.Errorf("ParseTier(%q) = %q, %v", tier, got, err)
		}
	}
	if _, err := finding.ParseTier("urgent"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestNewFileNeverNil(t *testing.T) {
	f := finding.NewFile(finding.TierRelevant, nil)
	if f.Findings == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if f.Count != 0 || f.Tier != finding.TierRelevant {
		t.Errorf("unexpected file %+v", f)
	}
}
