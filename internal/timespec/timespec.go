// Package timespec parses the loose time specifications accepted by CLI
// flags like --since and --until when filtering ledger history.
package timespec

import (
	"fmt"
	"time"
)

// Parse converts a time specification into unix milliseconds. Two forms are
// accepted: a Go duration ("1h", "30m", "1h30m") interpreted as that long
// before now, or an absolute RFC3339 timestamp.
func Parse(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m' or RFC3339 like '2026-08-30T13:00:00Z')", spec)
}

// ParseRange parses optional since/until specifications into a millisecond
// range. Zero means unbounded on that side. A range with since at or after
// until is rejected.
func ParseRange(since, until string) (int64, int64, error) {
	var sinceMs, untilMs int64
	var err error

	if since != "" {
		if sinceMs, err = Parse(since); err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if untilMs, err = Parse(until); err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if sinceMs > 0 && untilMs > 0 && sinceMs >= untilMs {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}
	return sinceMs, untilMs, nil
}
