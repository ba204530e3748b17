package timeframe

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"convolens/internal/types"
)

// ErrAmbiguous is returned when a query names two or more conflicting
// explicit ranges. Callers recover with a default window.
var ErrAmbiguous = errors.New("ambiguous timeframe")

var (
	relativeRe = regexp.MustCompile(`(?:last|past)\s+(\d+)\s+(hour|day|week|month)s?\b`)
	singleRe   = regexp.MustCompile(`(?:last|past)\s+(hour|day|week|month)\b`)
)

// Explicit reports whether the query names a concrete timeframe (as opposed
// to a vague term or no timeframe at all). Used to decide whether a follow-up
// query should re-fetch instead of reusing the previous corpus.
func Explicit(query string) bool {
	q := strings.ToLower(query)
	if relativeRe.MatchString(q) || singleRe.MatchString(q) {
		return true
	}
	_, ok := namedPeriod(q, time.Unix(0, 0).UTC())
	return ok
}

// Resolver turns free-text queries into concrete intervals. Resolution is
// purely lexical: the same (query, now) pair always yields the same interval.
type Resolver struct {
	defaultWindow time.Duration
}

// NewResolver creates a resolver whose fallback window is used for vague or
// absent timeframes.
func NewResolver(defaultWindow time.Duration) *Resolver {
	if defaultWindow <= 0 {
		defaultWindow = 7 * 24 * time.Hour
	}
	return &Resolver{defaultWindow: defaultWindow}
}

// Resolve maps query text to a [start, end) interval anchored at now.
func (r *Resolver) Resolve(query string, now time.Time) (types.Interval, error) {
	q := strings.ToLower(query)

	var candidates []types.Interval

	for _, m := range relativeRe.FindAllStringSubmatch(q, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		candidates = append(candidates, relativeWindow(now, n, m[2]))
	}

	// "last week" without a number: strip numbered matches first so the
	// trailing "week" of "last 2 weeks" is not counted twice.
	stripped := relativeRe.ReplaceAllString(q, "")
	for _, m := range singleRe.FindAllStringSubmatch(stripped, -1) {
		candidates = append(candidates, relativeWindow(now, 1, m[1]))
	}

	if iv, ok := namedPeriod(q, now); ok {
		candidates = append(candidates, iv)
	}

	switch len(candidates) {
	case 0:
		// Vague terms ("recent", "lately") and absent timeframes both get
		// the default window, so the pipeline never blocks here.
		return r.DefaultWindow(now), nil
	case 1:
		return candidates[0], nil
	}

	first := candidates[0]
	for _, c := range candidates[1:] {
		if !c.Start.Equal(first.Start) || !c.End.Equal(first.End) {
			return types.Interval{}, ErrAmbiguous
		}
	}
	return first, nil
}

// DefaultWindow returns the interval used when a query has no usable
// timeframe, anchored at now.
func (r *Resolver) DefaultWindow(now time.Time) types.Interval {
	return types.Interval{Start: now.Add(-r.defaultWindow), End: now}
}

func relativeWindow(now time.Time, n int, unit string) types.Interval {
	var start time.Time
	switch unit {
	case "hour":
		start = now.Add(-time.Duration(n) * time.Hour)
	case "day":
		start = now.AddDate(0, 0, -n)
	case "week":
		start = now.AddDate(0, 0, -7*n)
	case "month":
		start = now.AddDate(0, -n, 0)
	}
	return types.Interval{Start: start, End: now}
}

func namedPeriod(q string, now time.Time) (types.Interval, bool) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case strings.Contains(q, "today"):
		return types.Interval{Start: dayStart, End: now}, true
	case strings.Contains(q, "yesterday"):
		return types.Interval{Start: dayStart.AddDate(0, 0, -1), End: dayStart}, true
	case strings.Contains(q, "this week"):
		// Weeks start on Monday.
		offset := (int(now.Weekday()) + 6) % 7
		return types.Interval{Start: dayStart.AddDate(0, 0, -offset), End: now}, true
	case strings.Contains(q, "this month"):
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return types.Interval{Start: monthStart, End: now}, true
	}
	return types.Interval{}, false
}
