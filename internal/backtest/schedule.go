package backtest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quantrun/quantrun/internal/domain"
)

type frequency struct {
	kind  string // "daily", "weekly", "monthly", "interval"
	every int    // interval length for "interval"
}

func parseFrequency(s string) (frequency, error) {
	switch norm := strings.ToLower(strings.TrimSpace(s)); norm {
	case "daily":
		return frequency{kind: "daily"}, nil
	case "weekly":
		return frequency{kind: "weekly"}, nil
	case "monthly":
		return frequency{kind: "monthly"}, nil
	default:
		if n, ok := strings.CutSuffix(norm, "d"); ok {
			every, err := strconv.Atoi(n)
			if err == nil && every >= 1 {
				return frequency{kind: "interval", every: every}, nil
			}
		}
		return frequency{}, fmt.Errorf("unparsable rebalance frequency %q: %w", s, domain.ErrInvalidInput)
	}
}

// buildSchedule maps the frequency onto the panel's date index. Anchors that
// do not coincide with an index date use the nearest prior index date;
// duplicates are removed preserving order.
func buildSchedule(dates []time.Time, freq frequency) []time.Time {
	if len(dates) == 0 {
		return nil
	}
	switch freq.kind {
	case "daily":
		out := make([]time.Time, len(dates))
		copy(out, dates)
		return out
	case "interval":
		var out []time.Time
		for i := 0; i < len(dates); i += freq.every {
			out = append(out, dates[i])
		}
		return out
	case "weekly":
		return mapAnchors(dates, weeklyAnchors(dates[0], dates[len(dates)-1]))
	case "monthly":
		return mapAnchors(dates, monthlyAnchors(dates[0], dates[len(dates)-1]))
	}
	return nil
}

// weeklyAnchors lists every Friday in [first, last].
func weeklyAnchors(first, last time.Time) []time.Time {
	anchor := first
	for anchor.Weekday() != time.Friday {
		anchor = anchor.AddDate(0, 0, 1)
	}
	var out []time.Time
	for !anchor.After(last) {
		out = append(out, anchor)
		anchor = anchor.AddDate(0, 0, 7)
	}
	return out
}

// monthlyAnchors lists the last calendar day of every month touched by
// [first, last], clipped to the range.
func monthlyAnchors(first, last time.Time) []time.Time {
	var out []time.Time
	cursor := time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(last) {
		monthEnd := cursor.AddDate(0, 1, -1)
		if !monthEnd.Before(first) && !monthEnd.After(last) {
			out = append(out, monthEnd)
		}
		cursor = cursor.AddDate(0, 1, 0)
	}
	return out
}

// mapAnchors resolves each anchor to the latest index date on or before it.
// Anchors preceding the first index date are dropped.
func mapAnchors(dates []time.Time, anchors []time.Time) []time.Time {
	var out []time.Time
	seen := make(map[time.Time]struct{}, len(anchors))
	for _, anchor := range anchors {
		// first index date strictly after the anchor; the one before it
		// is the on-or-before match
		i := sort.Search(len(dates), func(i int) bool { return dates[i].After(anchor) })
		if i == 0 {
			continue
		}
		d := dates[i-1]
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
