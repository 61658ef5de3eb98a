// Package period resolves named reporting windows into concrete time ranges.
package period

import (
	"errors"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

type Kind string

const (
	CurrentMonth Kind = "current_month"
	LastMonth    Kind = "last_month"
	Last3Months  Kind = "last_3_months"
	Last6Months  Kind = "last_6_months"
	CurrentYear  Kind = "current_year"
	LastYear     Kind = "last_year"
	Custom       Kind = "custom"
	AllTime      Kind = "all_time"
)

const dateLayout = "2006-01-02"

var (
	ErrUnknownPeriod = errors.New("unknown_period")
	ErrInvalidRange  = errors.New("invalid_period_range")
)

var (
	allTimeStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	allTimeEnd   = time.Date(2100, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// Range is inclusive on both ends.
type Range struct {
	Kind  Kind      `json:"kind"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Request names a period. CustomStart and CustomEnd are YYYY-MM-DD dates and
// only matter for Custom.
type Request struct {
	Kind        string
	CustomStart string
	CustomEnd   string
}

// Resolve turns req into a range relative to at. An empty kind means all
// time; a custom period missing either date falls back to the current month.
func Resolve(req Request, at time.Time) (Range, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = AllTime
	}

	at = at.UTC()
	month := now.With(at).BeginningOfMonth()

	switch kind {
	case CurrentMonth:
		return monthsEndingAt(kind, month, 1), nil
	case LastMonth:
		return monthsEndingAt(kind, month.AddDate(0, -1, 0), 1), nil
	case Last3Months:
		return monthsEndingAt(kind, month, 3), nil
	case Last6Months:
		return monthsEndingAt(kind, month, 6), nil
	case CurrentYear:
		year := now.With(at)
		return Range{Kind: kind, Start: year.BeginningOfYear(), End: year.EndOfYear()}, nil
	case LastYear:
		year := now.With(at.AddDate(-1, 0, 0))
		return Range{Kind: kind, Start: year.BeginningOfYear(), End: year.EndOfYear()}, nil
	case Custom:
		return resolveCustom(req, month)
	case AllTime:
		return Range{Kind: kind, Start: allTimeStart, End: allTimeEnd}, nil
	default:
		return Range{}, ErrUnknownPeriod
	}
}

// monthsEndingAt covers count whole months, the last of which starts at last.
func monthsEndingAt(kind Kind, last time.Time, count int) Range {
	return Range{
		Kind:  kind,
		Start: last.AddDate(0, -(count - 1), 0),
		End:   now.With(last).EndOfMonth(),
	}
}

func resolveCustom(req Request, month time.Time) (Range, error) {
	startRaw := strings.TrimSpace(req.CustomStart)
	endRaw := strings.TrimSpace(req.CustomEnd)
	if startRaw == "" || endRaw == "" {
		return monthsEndingAt(CurrentMonth, month, 1), nil
	}

	start, err := time.ParseInLocation(dateLayout, startRaw, time.UTC)
	if err != nil {
		return Range{}, ErrInvalidRange
	}
	end, err := time.ParseInLocation(dateLayout, endRaw, time.UTC)
	if err != nil {
		return Range{}, ErrInvalidRange
	}
	if end.Before(start) {
		return Range{}, ErrInvalidRange
	}
	return Range{Kind: Custom, Start: start, End: now.With(end).EndOfDay()}, nil
}
