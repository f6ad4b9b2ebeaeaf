package finding

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Index is the at-a-glance summary external tools read instead of the tier
// files. It is rebuilt after every mutation.
type Index struct {
	LastUpdated       time.Time       `json:"last_updated"`
	CheckNow          CheckNowSummary `json:"check_now"`
	MentionIfRelevant MentionSummary  `json:"mention_if_relevant"`
	Deferred          CountSummary    `json:"deferred"`
	AutoFixed         CountSummary    `json:"auto_fixed"`
}

// CheckNowSummary summarizes the immediate tier.
type CheckNowSummary struct {
	Count             int            `json:"count"`
	SeverityBreakdown map[string]int `json:"severity_breakdown"`
	Files             []string       `json:"files"`
	Preview           string         `json:"preview"`
}

// MentionSummary summarizes the relevant tier.
type MentionSummary struct {
	Count      int            `json:"count"`
	Categories map[string]int `json:"categories"`
	Summary    string         `json:"summary"`
}

// CountSummary summarizes the background and auto-fixed tiers.
type CountSummary struct {
	Count   int    `json:"count"`
	Summary string `json:"summary"`
}

// BuildIndex derives the index from the current tier contents.
func BuildIndex(tiers map[Tier][]Finding, now time.Time) Index {
	immediate := tiers[TierImmediate]
	relevant := tiers[TierRelevant]

	return Index{
		LastUpdated: now,
		CheckNow: CheckNowSummary{
			Count:             len(immediate),
			SeverityBreakdown: severityBreakdown(immediate),
			Files:             distinctFiles(immediate),
			Preview:           Preview(immediate),
		},
		MentionIfRelevant: MentionSummary{
			Count:      len(relevant),
			Categories: categoryBreakdown(relevant),
			Summary:    Preview(relevant),
		},
		Deferred: CountSummary{
			Count:   len(tiers[TierBackground]),
			Summary: Preview(tiers[TierBackground]),
		},
		AutoFixed: CountSummary{
			Count:   len(tiers[TierAutoFixed]),
			Summary: Preview(tiers[TierAutoFixed]),
		},
	}
}

// Count returns the number of findings the index reports for tier t.
func (ix *Index) Count(t Tier) int {
	switch t {
	case TierImmediate:
		return ix.CheckNow.Count
	case TierRelevant:
		return ix.MentionIfRelevant.Count
	case TierBackground:
		return ix.Deferred.Count
	case TierAutoFixed:
		return ix.AutoFixed.Count
	}
	return 0
}

// Preview renders a one-line description: "<Severity> in <file>:<line>" for a
// single finding, comma-joined severity counts for several, "" for none.
func Preview(findings []Finding) string {
	switch len(findings) {
	case 0:
		return ""
	case 1:
		f := &findings[0]
		return fmt.Sprintf("%s in %s", titleCase(string(f.Severity)), f.Location())
	}

	counts := severityBreakdown(findings)
	parts := make([]string, 0, len(counts))
	for _, sev := range Severities {
		if n := counts[string(sev)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, severityLabel(sev, n)))
		}
	}
	return strings.Join(parts, ", ")
}

func severityBreakdown(findings []Finding) map[string]int {
	out := make(map[string]int)
	for i := range findings {
		out[string(findings[i].Severity)]++
	}
	return out
}

func categoryBreakdown(findings []Finding) map[string]int {
	out := make(map[string]int)
	for i := range findings {
		c := findings[i].Category
		if c == "" {
			c = "uncategorized"
		}
		out[c]++
	}
	return out
}

func distinctFiles(findings []Finding) []string {
	files := make([]string, 0, len(findings))
	for i := range findings {
		if !slices.Contains(files, findings[i].File) {
			files = append(files, findings[i].File)
		}
	}
	return files
}

func severityLabel(s Severity, n int) string {
	switch s {
	case SeverityError, SeverityWarning:
		if n == 1 {
			return string(s)
		}
		return string(s) + "s"
	case SeverityStyle:
		if n == 1 {
			return "style issue"
		}
		return "style issues"
	}
	return string(s)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
