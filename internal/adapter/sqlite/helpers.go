package sqlite

import (
	"database/sql"
	"time"
)

// scannable abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// toUnixNano stores times as integer nanoseconds so range scans compare
// numerically.
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// nullIfEmpty returns a NULL for empty payloads.
func nullIfEmpty(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
