package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/quantrun/internal/domain"
)

func businessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := start
	for len(out) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func TestParseFrequency(t *testing.T) {
	cases := []struct {
		in   string
		kind string
		n    int
		ok   bool
	}{
		{"daily", "daily", 0, true},
		{"WEEKLY", "weekly", 0, true},
		{" monthly ", "monthly", 0, true},
		{"5d", "interval", 5, true},
		{"1d", "interval", 1, true},
		{"0d", "", 0, false},
		{"-2d", "", 0, false},
		{"fortnightly", "", 0, false},
		{"d", "", 0, false},
	}
	for _, tc := range cases {
		freq, err := parseFrequency(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, domain.ErrInvalidInput, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, freq.kind, tc.in)
		if tc.kind == "interval" {
			assert.Equal(t, tc.n, freq.every, tc.in)
		}
	}
}

func TestScheduleDaily(t *testing.T) {
	dates := businessDays(domain.Date(2023, time.January, 2), 10)
	got := buildSchedule(dates, frequency{kind: "daily"})
	assert.Equal(t, dates, got)
}

func TestScheduleInterval(t *testing.T) {
	dates := businessDays(domain.Date(2023, time.January, 2), 10)
	got := buildSchedule(dates, frequency{kind: "interval", every: 3})
	assert.Equal(t, []time.Time{dates[0], dates[3], dates[6], dates[9]}, got)
}

func TestScheduleWeeklyMapsToFridays(t *testing.T) {
	// 2023-01-02 (Mon) .. 2023-01-20 (Fri): fridays are 01-06, 01-13, 01-20
	dates := businessDays(domain.Date(2023, time.January, 2), 15)
	got := buildSchedule(dates, frequency{kind: "weekly"})
	assert.Equal(t, []time.Time{
		domain.Date(2023, time.January, 6),
		domain.Date(2023, time.January, 13),
		domain.Date(2023, time.January, 20),
	}, got)
}

func TestScheduleWeeklyAnchorFallsBack(t *testing.T) {
	// index is missing friday 01-06: the anchor maps to thursday 01-05
	var dates []time.Time
	for _, d := range businessDays(domain.Date(2023, time.January, 2), 10) {
		if d.Equal(domain.Date(2023, time.January, 6)) {
			continue
		}
		dates = append(dates, d)
	}
	got := buildSchedule(dates, frequency{kind: "weekly"})
	require.NotEmpty(t, got)
	assert.Equal(t, domain.Date(2023, time.January, 5), got[0])
}

func TestScheduleMonthlyMonthEnds(t *testing.T) {
	// Jan..Mar 2023; 01-31 Tue, 02-28 Tue, 03-31 Fri all business days
	dates := businessDays(domain.Date(2023, time.January, 2), 65)
	got := buildSchedule(dates, frequency{kind: "monthly"})
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, domain.Date(2023, time.January, 31), got[0])
	assert.Equal(t, domain.Date(2023, time.February, 28), got[1])
	assert.Equal(t, domain.Date(2023, time.March, 31), got[2])
}

func TestScheduleMonthlyWeekendAnchorFallsBack(t *testing.T) {
	// 2023-09-30 is a Saturday: anchor resolves to friday 09-29
	dates := businessDays(domain.Date(2023, time.September, 1), 21)
	got := buildSchedule(dates, frequency{kind: "monthly"})
	require.NotEmpty(t, got)
	assert.Equal(t, domain.Date(2023, time.September, 29), got[len(got)-1])
}

func TestScheduleDeduplicatesAnchors(t *testing.T) {
	// a sparse index where two consecutive anchors resolve to one date
	dates := []time.Time{
		domain.Date(2023, time.January, 2),
		domain.Date(2023, time.February, 15),
	}
	got := buildSchedule(dates, frequency{kind: "weekly"})
	seen := map[time.Time]int{}
	for _, d := range got {
		seen[d]++
	}
	for d, n := range seen {
		assert.Equal(t, 1, n, d.Format("2006-01-02"))
	}
}

func TestScheduleEmptyIndex(t *testing.T) {
	assert.Empty(t, buildSchedule(nil, frequency{kind: "daily"}))
}
