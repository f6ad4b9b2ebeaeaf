package finding

import (
	"math"
	"path/filepath"
	"slices"
	"strings"
)

// WorkflowPhase is what the developer is currently doing.
type WorkflowPhase string

const (
	PhaseUnknown   WorkflowPhase = ""
	PhaseCoding    WorkflowPhase = "coding"
	PhasePreCommit WorkflowPhase = "pre_commit"
	PhaseReviewing WorkflowPhase = "reviewing"
)

// UserContext is the developer state used to rank findings.
type UserContext struct {
	CurrentFile  string        `json:"current_file,omitempty"`
	RecentFiles  []string      `json:"recent_files,omitempty"`
	RelatedFiles []string      `json:"related_files,omitempty"`
	Request      string        `json:"request,omitempty"`
	Phase        WorkflowPhase `json:"phase,omitempty"`
}

// Score bonuses.
const (
	bonusCurrentFile   = 0.5
	bonusRecentFile    = 0.3
	bonusRelatedFile   = 0.2
	bonusBlocking      = 0.4
	bonusError         = 0.3
	bonusWarning       = 0.15
	bonusInfo          = 0.05
	bonusNewAndRecent  = 0.3
	bonusNew           = 0.15
	bonusUserIntent    = 0.5
	adjustPreCommit    = 0.2
	adjustActiveCoding = -0.2
)

// Score computes a finding's relevance in [0,1]. A nil context scores only
// the finding's own properties (severity and freshness).
func Score(f *Finding, uc *UserContext) float64 {
	var s float64

	if uc != nil {
		s += fileBonus(f.File, uc)
	}

	switch {
	case f.Blocking:
		s += bonusBlocking
	case f.Severity == SeverityError:
		s += bonusError
	case f.Severity == SeverityWarning:
		s += bonusWarning
	case f.Severity == SeverityInfo:
		s += bonusInfo
	}

	switch {
	case f.IsNew && f.CausedByRecentChange:
		s += bonusNewAndRecent
	case f.IsNew:
		s += bonusNew
	}

	if uc != nil {
		if uc.Request != "" && f.Category != "" &&
			strings.Contains(strings.ToLower(uc.Request), strings.ToLower(f.Category)) {
			s += bonusUserIntent
		}
		switch uc.Phase {
		case PhasePreCommit:
			s += adjustPreCommit
		case PhaseCoding:
			s += adjustActiveCoding
		}
	}

	return Clamp(s)
}

func fileBonus(file string, uc *UserContext) float64 {
	file = filepath.Clean(file)
	switch {
	case uc.CurrentFile != "" && filepath.Clean(uc.CurrentFile) == file:
		return bonusCurrentFile
	case containsPath(uc.RecentFiles, file):
		return bonusRecentFile
	case containsPath(uc.RelatedFiles, file):
		return bonusRelatedFile
	}
	return 0
}

func containsPath(paths []string, file string) bool {
	return slices.ContainsFunc(paths, func(p string) bool {
		return filepath.Clean(p) == file
	})
}

// Clamp bounds a score to [0,1] and rounds it to four decimals so tier
// thresholds compare exactly.
func Clamp(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return math.Round(s*1e4) / 1e4
}
