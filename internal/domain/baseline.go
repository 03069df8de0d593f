package domain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	ratePerPopulation = 100000.0
	// rateOffset keeps every rate strictly positive before the log transform.
	rateOffset = 1.0
)

// HistoricalCountRecord is one day's count for a fixed age band.
type HistoricalCountRecord struct {
	Date  time.Time
	Count int
}

// PopulationMapping is the rate denominator for each season.
type PopulationMapping map[SeasonKey]int

// Lookup returns the population of season k. Non-positive entries count as absent.
func (p PopulationMapping) Lookup(k SeasonKey) (int, bool) {
	n, ok := p[k]
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

// Validate rejects malformed keys and non-positive populations.
func (p PopulationMapping) Validate() error {
	for k, n := range p {
		if !k.Valid() {
			return fmt.Errorf("population for season %s: years must be consecutive", k)
		}
		if n <= 0 {
			return fmt.Errorf("population for season %s must be positive, got %d", k, n)
		}
	}
	return nil
}

// LogRate is ln(count / population * 100000 + 1).
func LogRate(count, population int) float64 {
	return math.Log(float64(count)/float64(population)*ratePerPopulation + rateOffset)
}

// BaselineBand holds the log-scale corridor parameters of one season day.
type BaselineBand struct {
	Day       SeasonDay
	LogMean   float64
	LogStdDev float64 // NaN when Samples < 2
	Samples   int
}

// WidthComputable reports whether the band has a defined standard deviation.
func (b BaselineBand) WidthComputable() bool {
	return b.Samples >= 2 && !math.IsNaN(b.LogStdDev)
}

// CorridorEnvelope is a band projected back to rate space: the upper edges of
// the success, safety and alert zones.
type CorridorEnvelope struct {
	SuccessUpper float64
	SafetyUpper  float64
	AlertUpper   float64
}

// Envelope converts the band to rate space for multiplier k. Safety and alert
// edges are NaN when the width is not computable.
func (b BaselineBand) Envelope(k float64) CorridorEnvelope {
	return CorridorEnvelope{
		SuccessUpper: math.Exp(b.LogMean),
		SafetyUpper:  math.Exp(b.LogMean + b.LogStdDev),
		AlertUpper:   math.Exp(b.LogMean + k*b.LogStdDev),
	}
}

// Baseline is the set of bands built from historical seasons.
type Baseline struct {
	bands map[SeasonDay]BaselineBand
}

// NewBaseline assembles a Baseline from precomputed bands.
func NewBaseline(bands []BaselineBand) Baseline {
	m := make(map[SeasonDay]BaselineBand, len(bands))
	for _, b := range bands {
		m[b.Day] = b
	}
	return Baseline{bands: m}
}

// Band returns the band for day d. The boolean is false when no historical
// season contributed an observation for that day.
func (b Baseline) Band(d SeasonDay) (BaselineBand, bool) {
	band, ok := b.bands[d]
	return band, ok
}

// Bands returns all bands in season order, Nov 1 first.
func (b Baseline) Bands() []BaselineBand {
	out := make([]BaselineBand, 0, len(b.bands))
	for _, band := range b.bands {
		out = append(out, band)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Day.Position() < out[j].Day.Position()
	})
	return out
}

// Len is the number of season days with a band.
func (b Baseline) Len() int { return len(b.bands) }

// WidthComputable counts bands with a defined standard deviation.
func (b Baseline) WidthComputable() int {
	n := 0
	for _, band := range b.bands {
		if band.WidthComputable() {
			n++
		}
	}
	return n
}

// BuildBaseline pools the log rates of every usable historical record by season
// day and computes mean and sample standard deviation per day. Out-of-season
// records and excluded seasons are dropped silently; negative counts and seasons
// without a population are returned as faults.
func BuildBaseline(records []HistoricalCountRecord, populations PopulationMapping, excluded []SeasonKey) (Baseline, []RecordError) {
	skip := make(map[SeasonKey]bool, len(excluded))
	for _, k := range excluded {
		skip[k] = true
	}

	pooled := make(map[SeasonDay][]float64)
	var faults []RecordError

	for _, rec := range records {
		date := CivilDate(rec.Date)
		season, ok := ResolveSeason(date)
		if !ok || skip[season] {
			continue
		}
		if rec.Count < 0 {
			faults = append(faults, RecordError{
				Date: date,
				Err:  fmt.Errorf("%w: negative count %d", ErrMalformedInput, rec.Count),
			})
			continue
		}
		pop, ok := populations.Lookup(season)
		if !ok {
			faults = append(faults, RecordError{
				Date: date,
				Err:  fmt.Errorf("%w: %s", ErrUnmappedSeason, season),
			})
			continue
		}
		day := SeasonDayOf(date)
		pooled[day] = append(pooled[day], LogRate(rec.Count, pop))
	}

	bands := make(map[SeasonDay]BaselineBand, len(pooled))
	for day, values := range pooled {
		bands[day] = summarize(day, values)
	}
	return Baseline{bands: bands}, faults
}

func summarize(day SeasonDay, values []float64) BaselineBand {
	if len(values) == 1 {
		return BaselineBand{Day: day, LogMean: values[0], LogStdDev: math.NaN(), Samples: 1}
	}
	mean, std := stat.MeanStdDev(values, nil)
	return BaselineBand{Day: day, LogMean: mean, LogStdDev: std, Samples: len(values)}
}
