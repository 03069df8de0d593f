package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used on the wire and in CSV files.
const DateLayout = "2006-01-02"

// SeasonKey identifies a Nov 1 – Mar 31 season by the two calendar years it spans.
type SeasonKey struct {
	StartYear int
	EndYear   int
}

func (k SeasonKey) String() string {
	return fmt.Sprintf("%d-%d", k.StartYear, k.EndYear)
}

// Valid reports whether the key spans two consecutive years.
func (k SeasonKey) Valid() bool {
	return k.EndYear == k.StartYear+1
}

// ParseSeasonKey parses "2024-2025" into a SeasonKey.
func ParseSeasonKey(s string) (SeasonKey, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return SeasonKey{}, fmt.Errorf("%w: season %q: want START-END", ErrMalformedInput, s)
	}
	sy, errS := strconv.Atoi(start)
	ey, errE := strconv.Atoi(end)
	if errS != nil || errE != nil {
		return SeasonKey{}, fmt.Errorf("%w: season %q: non-numeric year", ErrMalformedInput, s)
	}
	k := SeasonKey{StartYear: sy, EndYear: ey}
	if !k.Valid() {
		return SeasonKey{}, fmt.Errorf("%w: season %q: years must be consecutive", ErrMalformedInput, s)
	}
	return k, nil
}

// InSeason reports whether m falls inside the November–March season.
func InSeason(m time.Month) bool {
	return m >= time.November || m <= time.March
}

// ResolveSeason returns the season a date belongs to. The boolean is false for
// April through October, which belong to no season.
func ResolveSeason(date time.Time) (SeasonKey, bool) {
	year, month, _ := date.Date()
	switch {
	case month >= time.November:
		return SeasonKey{StartYear: year, EndYear: year + 1}, true
	case month <= time.March:
		return SeasonKey{StartYear: year - 1, EndYear: year}, true
	default:
		return SeasonKey{}, false
	}
}

// SeasonDay buckets a date onto the season axis by (month, day-of-month), so
// Feb 29 is its own bucket rather than shifting every later day-of-year.
type SeasonDay struct {
	Month time.Month
	Day   int
}

// SeasonDayOf returns the season-relative bucket of date.
func SeasonDayOf(date time.Time) SeasonDay {
	_, m, d := date.Date()
	return SeasonDay{Month: m, Day: d}
}

func (d SeasonDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(d.Month), d.Day)
}

// Position orders season days from Nov 1 to Mar 31. Out-of-season days sort last.
func (d SeasonDay) Position() int {
	var idx int
	switch {
	case d.Month >= time.November:
		idx = int(d.Month) - int(time.November)
	case d.Month <= time.March:
		idx = int(d.Month) + 1
	default:
		idx = 5 + int(d.Month)
	}
	return idx*32 + d.Day
}

// DateIn projects d onto the calendar of season k. The boolean is false when the
// day does not exist that season (Feb 29 in a non-leap year) or d is out of season.
func (d SeasonDay) DateIn(k SeasonKey) (time.Time, bool) {
	if !InSeason(d.Month) {
		return time.Time{}, false
	}
	year := k.EndYear
	if d.Month >= time.November {
		year = k.StartYear
	}
	t := time.Date(year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	if t.Month() != d.Month || t.Day() != d.Day {
		return time.Time{}, false
	}
	return t, true
}

// CivilDate truncates t to midnight UTC of its calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a calendar day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
