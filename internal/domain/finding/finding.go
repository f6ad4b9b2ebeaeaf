// Package finding defines agent findings and the deterministic rules that
// score them and sort them into disclosure tiers.
package finding

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/Overwatch/internal/domain"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityStyle   Severity = "style"
)

// Severities lists all severities from most to least severe.
var Severities = []Severity{SeverityError, SeverityWarning, SeverityInfo, SeverityStyle}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo, SeverityStyle:
		return true
	}
	return false
}

// ScopeType describes how far a finding reaches beyond its file.
type ScopeType string

const (
	ScopeCurrentFile  ScopeType = "current_file"
	ScopeRelatedFiles ScopeType = "related_files"
	ScopeProjectWide  ScopeType = "project_wide"
)

// DisclosureLevel is the agent's hint for how much detail to surface.
type DisclosureLevel string

const (
	DisclosureMinimal  DisclosureLevel = "minimal"
	DisclosureStandard DisclosureLevel = "standard"
	DisclosureFull     DisclosureLevel = "full"
)

// Finding is a single issue an agent reported about a file location.
type Finding struct {
	ID                   string          `json:"id"`
	Agent                string          `json:"agent"`
	Timestamp            time.Time       `json:"timestamp"`
	File                 string          `json:"file"`
	Line                 *int            `json:"line,omitempty"`
	Column               *int            `json:"column,omitempty"`
	Severity             Severity        `json:"severity"`
	Blocking             bool            `json:"blocking"`
	Category             string          `json:"category"`
	Message              string          `json:"message"`
	Detail               string          `json:"detail,omitempty"`
	Suggestion           string          `json:"suggestion,omitempty"`
	AutoFixable          bool            `json:"auto_fixable"`
	ScopeType            ScopeType       `json:"scope_type"`
	CausedByRecentChange bool            `json:"caused_by_recent_change"`
	IsNew                bool            `json:"is_new"`
	RelevanceScore       float64         `json:"relevance_score"`
	DisclosureLevel      DisclosureLevel `json:"disclosure_level"`
}

// NewID returns a fresh finding identifier.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the fields an agent must supply.
func (f *Finding) Validate() error {
	var errs []error
	if f.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if f.Agent == "" {
		errs = append(errs, errors.New("agent is required"))
	}
	if f.File == "" {
		errs = append(errs, errors.New("file is required"))
	}
	if f.Line != nil && *f.Line < 0 {
		errs = append(errs, fmt.Errorf("line must be non-negative, got %d", *f.Line))
	}
	if f.Column != nil && *f.Column < 0 {
		errs = append(errs, fmt.Errorf("column must be non-negative, got %d", *f.Column))
	}
	if f.Severity != "" && !f.Severity.Valid() {
		errs = append(errs, fmt.Errorf("unknown severity %q", f.Severity))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidFinding, errors.Join(errs...))
	}
	return nil
}

// Normalize fills optional fields with their defaults and clamps the score.
func (f *Finding) Normalize(now time.Time) {
	if f.Severity == "" {
		f.Severity = SeverityInfo
	}
	if f.ScopeType == "" {
		f.ScopeType = ScopeCurrentFile
	}
	if f.DisclosureLevel == "" {
		f.DisclosureLevel = DisclosureStandard
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = now
	}
	f.RelevanceScore = Clamp(f.RelevanceScore)
}

// Location renders "file:line" or just the file when no line is known.
func (f *Finding) Location() string {
	if f.Line == nil {
		return f.File
	}
	return fmt.Sprintf("%s:%d", f.File, *f.Line)
}
