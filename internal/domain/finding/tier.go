package finding

import "fmt"

// Tier is a disclosure bucket controlling how urgently a finding surfaces.
type Tier string

const (
	TierImmediate  Tier = "immediate"
	TierRelevant   Tier = "relevant"
	TierBackground Tier = "background"
	TierAutoFixed  Tier = "auto_fixed"
)

// Tiers lists every tier in disclosure order.
var Tiers = []Tier{TierImmediate, TierRelevant, TierBackground, TierAutoFixed}

// Tier thresholds.
const (
	ImmediateThreshold = 0.8
	RelevantThreshold  = 0.4
	autoFixCeiling     = 0.5
)

// ParseTier accepts a tier name.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Classify assigns a tier from the finding's blocking flag, fixability, and
// relevance score. Rules are applied in priority order.
func Classify(f *Finding) Tier {
	switch {
	case f.Blocking:
		return TierImmediate
	case f.AutoFixable && f.Severity == SeverityStyle && f.RelevanceScore < autoFixCeiling:
		return TierAutoFixed
	case f.RelevanceScore >= ImmediateThreshold:
		return TierImmediate
	case f.RelevanceScore >= RelevantThreshold:
		return TierRelevant
	}
	return TierBackground
}

// File is the persisted form of one tier.
type File struct {
	Tier     Tier      `json:"tier"`
	Count    int       `json:"count"`
	Findings []Finding `json:"findings"`
}

// NewFile wraps findings for persistence; findings is never encoded as null.
func NewFile(t Tier, findings []Finding) File {
	if findings == nil {
		findings = []Finding{}
	}
	return File{Tier: t, Count: len(findings), Findings: findings}
}
