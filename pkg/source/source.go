package source

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Record is one raw check-in, decoded with json.Number for numeric values.
type Record = map[string]any

// FetchOptions narrows what a source yields.
type FetchOptions struct {
	// After restricts the result to check-ins created after this instant.
	After time.Time
	// OnTotal is called once with the number of check-ins the source
	// expects to yield, before the first record.
	OnTotal func(total int)
}

// Source is the interface every check-in provider implements.
type Source interface {
	Name() string
	// Fetch calls fn for each check-in, newest first where the provider
	// supports ordering. An error from fn stops the fetch and is returned.
	Fetch(ctx context.Context, opts FetchOptions, fn func(Record) error) error
}

var sinceRe = regexp.MustCompile(`^(\d+)(w|h|d)$`)

// ParseSince parses a relative window such as "3d", "2h" or "1w".
func ParseSince(s string) (time.Duration, error) {
	m := sinceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("since %q: need format 3d/2h/1w", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("since %q: %w", s, err)
	}
	unit := map[string]time.Duration{
		"h": time.Hour,
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}
