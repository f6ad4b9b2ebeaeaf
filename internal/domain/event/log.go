package event

import (
	"fmt"
	"time"
)

// ReplayState is an agent's resume cursor in the event log.
type ReplayState struct {
	AgentName              string    `json:"agent_name"`
	LastProcessedSequence  int64     `json:"last_processed_sequence"`
	LastProcessedTimestamp time.Time `json:"last_processed_timestamp"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Gap is a run of sequence numbers missing from the log. From and To are
// inclusive bounds of the missing range.
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
	Size int64 `json:"size"`
}

// Key renders the gap range as "from-to".
func (g Gap) Key() string {
	return fmt.Sprintf("%d-%d", g.From, g.To)
}

// QueryFilter narrows a log query. Empty fields do not filter. Topic may be a
// pattern (see Matches).
type QueryFilter struct {
	Topic  string     `json:"topic,omitempty"`
	Source string     `json:"source,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// DefaultQueryLimit applies when a filter does not set Limit.
const DefaultQueryLimit = 100

// Normalize fills defaults and clamps negative values.
func (f QueryFilter) Normalize() QueryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// FindGaps reports every discontinuity in an ascending list of sequences,
// including missing numbers before the first stored sequence.
func FindGaps(seqs []int64) []Gap {
	var gaps []Gap
	var prev int64
	for _, s := range seqs {
		if s > prev+1 {
			gaps = append(gaps, Gap{From: prev + 1, To: s - 1, Size: s - prev - 1})
		}
		if s > prev {
			prev = s
		}
	}
	return gaps
}

// GapSizes renders gaps as a "from-to" -> size mapping.
func GapSizes(gaps []Gap) map[string]int64 {
	out := make(map[string]int64, len(gaps))
	for _, g := range gaps {
		out[g.Key()] = g.Size
	}
	return out
}
