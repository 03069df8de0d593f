package domain

import (
	"fmt"
	"math"
	"time"
)

// Zone is a surveillance zone of the endemic corridor, ordered from quietest.
type Zone int

const (
	ZoneSuccess Zone = iota
	ZoneSafety
	ZoneAlert
	ZoneAboveAlert
)

func (z Zone) String() string {
	switch z {
	case ZoneSuccess:
		return "success"
	case ZoneSafety:
		return "safety"
	case ZoneAlert:
		return "alert"
	case ZoneAboveAlert:
		return "above_alert"
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

func (z *Zone) UnmarshalText(b []byte) error {
	for c := ZoneSuccess; c <= ZoneAboveAlert; c++ {
		if c.String() == string(b) {
			*z = c
			return nil
		}
	}
	return fmt.Errorf("unknown zone %q", b)
}

// CorridorConfig configures zone classification.
type CorridorConfig struct {
	// AlertMultiplier is k: the number of standard deviations above the mean
	// that closes the alert zone. The safety zone always closes at one standard
	// deviation, so k must be at least 1. There is no default.
	AlertMultiplier float64
}

// Validate checks that k is finite and at least 1.
func (c CorridorConfig) Validate() error {
	k := c.AlertMultiplier
	if math.IsNaN(k) || math.IsInf(k, 0) || k < 1 {
		return fmt.Errorf("%w: %v (must be a finite value >= 1)", ErrInvalidMultiplier, k)
	}
	return nil
}

// DayZone is the corridor classification of one current-season day.
type DayZone struct {
	Date    time.Time
	Season  SeasonKey
	Count   int
	LogRate float64
	Band    BaselineBand
	Zone    Zone
}

// CorridorResult holds the classified days and the days that could not be classified.
type CorridorResult struct {
	Days   []DayZone
	Faults []RecordError
}

// ClassifyZone places logRate within band. The boolean is false when k is not a
// valid alert multiplier, or when the rate lies above the mean and the band
// width is not computable.
func ClassifyZone(logRate float64, band BaselineBand, k float64) (Zone, bool) {
	if (CorridorConfig{AlertMultiplier: k}).Validate() != nil {
		return 0, false
	}
	if logRate <= band.LogMean {
		return ZoneSuccess, true
	}
	if !band.WidthComputable() {
		return 0, false
	}
	switch {
	case logRate <= band.LogMean+band.LogStdDev:
		return ZoneSafety, true
	case logRate <= band.LogMean+k*band.LogStdDev:
		return ZoneAlert, true
	default:
		return ZoneAboveAlert, true
	}
}

// ClassifyCorridor computes each day's log rate with the same normalization as
// BuildBaseline and classifies it against the baseline. Days that cannot be
// classified are reported as faults and left out of Days; they are never given
// a default zone.
func ClassifyCorridor(current []HistoricalCountRecord, populations PopulationMapping, baseline Baseline, cfg CorridorConfig) (CorridorResult, error) {
	if err := cfg.Validate(); err != nil {
		return CorridorResult{}, err
	}

	var res CorridorResult
	for _, rec := range current {
		dz, err := classifyDay(rec, populations, baseline, cfg.AlertMultiplier)
		if err != nil {
			res.Faults = append(res.Faults, RecordError{Date: CivilDate(rec.Date), Err: err})
			continue
		}
		res.Days = append(res.Days, dz)
	}
	return res, nil
}

func classifyDay(rec HistoricalCountRecord, populations PopulationMapping, baseline Baseline, k float64) (DayZone, error) {
	date := CivilDate(rec.Date)
	season, ok := ResolveSeason(date)
	if !ok {
		return DayZone{}, ErrOutOfSeason
	}
	if rec.Count < 0 {
		return DayZone{}, fmt.Errorf("%w: negative count %d", ErrMalformedInput, rec.Count)
	}
	pop, ok := populations.Lookup(season)
	if !ok {
		return DayZone{}, fmt.Errorf("%w: %s", ErrUnmappedSeason, season)
	}
	day := SeasonDayOf(date)
	band, ok := baseline.Band(day)
	if !ok {
		return DayZone{}, fmt.Errorf("%w: no historical data for %s", ErrMissingBaseline, day)
	}

	logRate := LogRate(rec.Count, pop)
	zone, ok := ClassifyZone(logRate, band, k)
	if !ok {
		return DayZone{}, fmt.Errorf("%w: corridor width for %s not computable from %d season(s)",
			ErrMissingBaseline, day, band.Samples)
	}
	return DayZone{
		Date:    date,
		Season:  season,
		Count:   rec.Count,
		LogRate: logRate,
		Band:    band,
		Zone:    zone,
	}, nil
}
