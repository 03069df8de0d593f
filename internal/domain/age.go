package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AgeUnit is the unit a death certificate states the age in.
type AgeUnit int

const (
	AgeUnitYears  AgeUnit = 1
	AgeUnitMonths AgeUnit = 2
	AgeUnitDays   AgeUnit = 3
	AgeUnitHours  AgeUnit = 4
)

// maxAgeYears bounds plausible ages; larger values are data-entry faults.
const maxAgeYears = 130

// NormalizeAge converts an age in any unit to whole years. Ages stated in
// months, days or hours are under one year and map to 0.
func NormalizeAge(unit AgeUnit, value int) (int, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: negative age %d", ErrMalformedInput, value)
	}
	switch unit {
	case AgeUnitYears:
		if value > maxAgeYears {
			return 0, fmt.Errorf("%w: age %d years out of range", ErrMalformedInput, value)
		}
		return value, nil
	case AgeUnitMonths, AgeUnitDays, AgeUnitHours:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown age unit %d", ErrMalformedInput, int(unit))
	}
}

// AgeBand groups ages for corridor surveillance.
type AgeBand string

const (
	BandUnderOne   AgeBand = "under_1"
	BandOneTo79    AgeBand = "1_79"
	BandEightyPlus AgeBand = "80_plus"
)

const eightyPlusFloor = 80

// ParseAgeBand accepts the canonical band names and the "80+" shorthand.
func ParseAgeBand(s string) (AgeBand, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(BandUnderOne), "<1":
		return BandUnderOne, nil
	case string(BandOneTo79), "1-79":
		return BandOneTo79, nil
	case string(BandEightyPlus), "80+":
		return BandEightyPlus, nil
	default:
		return "", fmt.Errorf("unknown age band %q", s)
	}
}

// AgeBandOf returns the band of an age in whole years.
func AgeBandOf(years int) AgeBand {
	switch {
	case years <= 0:
		return BandUnderOne
	case years < eightyPlusFloor:
		return BandOneTo79
	default:
		return BandEightyPlus
	}
}

// DeathRecord is one death certificate row.
type DeathRecord struct {
	Date      time.Time
	AgeUnit   AgeUnit
	AgeValue  int
	Region    int
	Diagnosis string // ICD-10 code of the underlying cause
}

// AgeYears normalizes the record's age.
func (r DeathRecord) AgeYears() (int, error) {
	return NormalizeAge(r.AgeUnit, r.AgeValue)
}

// Band returns the age band of the record.
func (r DeathRecord) Band() (AgeBand, error) {
	years, err := r.AgeYears()
	if err != nil {
		return "", err
	}
	return AgeBandOf(years), nil
}

// Cardiovascular reports whether the cause falls in ICD-10 chapter I
// (diseases of the circulatory system).
func (r DeathRecord) Cardiovascular() bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(r.Diagnosis)), "I")
}

// AggregateFilter narrows the records counted by AggregateDailyCounts.
type AggregateFilter struct {
	Band AgeBand
	// Region keeps only records of this region of residence; 0 keeps all.
	Region int
	// CardiovascularOnly keeps only ICD-10 chapter I causes.
	CardiovascularOnly bool
}

// AggregateDailyCounts counts deaths per day for one age band. Every date that
// holds at least one valid record passing the region filter gets an entry, with
// count zero when none of that day's deaths fell in the band. Records with an
// unusable age are returned as faults. The result is sorted by date.
func AggregateDailyCounts(records []DeathRecord, filter AggregateFilter) ([]HistoricalCountRecord, []RecordError) {
	counts := make(map[time.Time]int)
	var faults []RecordError

	for _, r := range records {
		if filter.Region != 0 && r.Region != filter.Region {
			continue
		}
		date := CivilDate(r.Date)
		band, err := r.Band()
		if err != nil {
			faults = append(faults, RecordError{Date: date, Err: err})
			continue
		}
		if _, seen := counts[date]; !seen {
			counts[date] = 0
		}
		if band != filter.Band {
			continue
		}
		if filter.CardiovascularOnly && !r.Cardiovascular() {
			continue
		}
		counts[date]++
	}

	out := make([]HistoricalCountRecord, 0, len(counts))
	for date, n := range counts {
		out = append(out, HistoricalCountRecord{Date: date, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, faults
}
