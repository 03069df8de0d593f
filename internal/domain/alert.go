package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Temperature thresholds in degrees Celsius.
const (
	HotDayThreshold      = 34.0
	ExtremeHeatThreshold = 40.0
	Over35Threshold      = 35.0

	// seremiPreventiveThreshold opens the SEREMI preventive tier.
	seremiPreventiveThreshold = 30.0
)

// AlertTier is a heat-alert level. Tiers are totally ordered; the zero value is TierNone.
type AlertTier int

const (
	TierNone AlertTier = iota
	TierEarlyPreventive
	TierYellow
	TierRed
)

func (t AlertTier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierEarlyPreventive:
		return "early_preventive"
	case TierYellow:
		return "yellow"
	case TierRed:
		return "red"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t AlertTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *AlertTier) UnmarshalText(b []byte) error {
	for c := TierNone; c <= TierRed; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown alert tier %q", b)
}

// AlertScheme selects the rule ordering used to assign tiers.
type AlertScheme string

const (
	// SchemeSenapred applies the seasonal, single-day, 2-day and 3-day rules in
	// that order, the last matching rule winning.
	SchemeSenapred AlertScheme = "senapred"
	// SchemeSeremi replaces the seasonal rule with a t_max >= 30 preventive rule
	// and applies the single-day rule after the 2-day rule.
	SchemeSeremi AlertScheme = "seremi"
)

// ParseAlertScheme validates a scheme name.
func ParseAlertScheme(s string) (AlertScheme, error) {
	switch AlertScheme(s) {
	case SchemeSenapred, SchemeSeremi:
		return AlertScheme(s), nil
	default:
		return "", fmt.Errorf("unknown alert scheme %q", s)
	}
}

// DailyObservation is one calendar day's maximum temperature. Missing marks a
// day inserted by Densify (or rejected upstream) that carries no reading.
type DailyObservation struct {
	Date    time.Time
	TMax    float64
	Missing bool
}

// WindowCount is the number of hot days in a trailing window. Complete is false
// when fewer rows than the window length precede the day, in which case the
// window never triggers.
type WindowCount struct {
	Hot      int
	Complete bool
}

// Triggers reports whether the window is complete and holds at least n hot days.
func (w WindowCount) Triggers(n int) bool {
	return w.Complete && w.Hot >= n
}

// Err returns ErrInsufficientWindow for an incomplete window.
func (w WindowCount) Err() error {
	if !w.Complete {
		return ErrInsufficientWindow
	}
	return nil
}

// DayAlert is the classification of one day together with the derived flags
// that produced it.
type DayAlert struct {
	Date    time.Time
	TMax    float64
	Missing bool
	Hot     bool
	Over35  bool
	Window2 WindowCount
	Window3 WindowCount
	Tier    AlertTier
}

// HeatAlertResult holds one DayAlert per input day plus rows rejected as faults.
// A rejected row is classified as a missing day so positions stay aligned.
type HeatAlertResult struct {
	Days   []DayAlert
	Faults []RecordError
}

// ClassifyHeatAlerts assigns SENAPRED tiers to a contiguous daily series.
//
// Rules run as sequential overwrites, not as a max over tiers: a day at or above
// 40°C is set to Red, then downgraded to Yellow if it closes a 2-day hot window,
// and raised back to Red only if it also closes a 3-day hot window.
func ClassifyHeatAlerts(obs []DailyObservation) (HeatAlertResult, error) {
	return ClassifyAlerts(obs, SchemeSenapred)
}

// ClassifySeremiAlerts assigns SEREMI tiers to a contiguous daily series.
func ClassifySeremiAlerts(obs []DailyObservation) (HeatAlertResult, error) {
	return ClassifyAlerts(obs, SchemeSeremi)
}

// ClassifyAlerts resolves hot flags and windows in a single read pass, then
// assigns each day's tier independently under the given scheme. The input must be
// sorted ascending with exactly one row per calendar day; use Densify first when
// the source may have gaps.
func ClassifyAlerts(obs []DailyObservation, scheme AlertScheme) (HeatAlertResult, error) {
	if err := checkContiguous(obs); err != nil {
		return HeatAlertResult{}, err
	}

	var tierOf func(DayAlert) AlertTier
	switch scheme {
	case SchemeSenapred, "":
		tierOf = senapredTier
	case SchemeSeremi:
		tierOf = seremiTier
	default:
		return HeatAlertResult{}, fmt.Errorf("unknown alert scheme %q", scheme)
	}

	days, faults := resolveDays(obs)
	for i := range days {
		days[i].Tier = tierOf(days[i])
	}
	return HeatAlertResult{Days: days, Faults: faults}, nil
}

func senapredTier(d DayAlert) AlertTier {
	tier := TierNone
	if InSeason(d.Date.Month()) {
		tier = TierEarlyPreventive
	}
	if !d.Missing && d.TMax >= ExtremeHeatThreshold {
		tier = TierRed
	}
	if d.Window2.Triggers(2) {
		tier = TierYellow
	}
	if d.Window3.Triggers(3) {
		tier = TierRed
	}
	return tier
}

func seremiTier(d DayAlert) AlertTier {
	tier := TierNone
	if !d.Missing && d.TMax >= seremiPreventiveThreshold {
		tier = TierEarlyPreventive
	}
	if d.Window2.Triggers(2) {
		tier = TierYellow
	}
	if !d.Missing && d.TMax >= ExtremeHeatThreshold {
		tier = TierRed
	}
	if d.Window3.Triggers(3) {
		tier = TierRed
	}
	return tier
}

// resolveDays builds the per-day flags and trailing window counts. Windows run
// over row positions, which match calendar days once the series is contiguous.
func resolveDays(obs []DailyObservation) ([]DayAlert, []RecordError) {
	days := make([]DayAlert, len(obs))
	var faults []RecordError

	for i, o := range obs {
		d := DayAlert{Date: CivilDate(o.Date), TMax: o.TMax, Missing: o.Missing}
		if !d.Missing && (math.IsNaN(o.TMax) || math.IsInf(o.TMax, 0)) {
			faults = append(faults, RecordError{
				Date: d.Date,
				Err:  fmt.Errorf("%w: non-finite t_max", ErrMalformedInput),
			})
			d.Missing = true
		}
		if !d.Missing {
			d.Hot = d.TMax >= HotDayThreshold
			d.Over35 = d.TMax >= Over35Threshold
		}
		days[i] = d
	}

	for i := range days {
		days[i].Window2 = trailingHot(days, i, 2)
		days[i].Window3 = trailingHot(days, i, 3)
	}
	return days, faults
}

func trailingHot(days []DayAlert, i, size int) WindowCount {
	if i+1 < size {
		return WindowCount{}
	}
	w := WindowCount{Complete: true}
	for j := i - size + 1; j <= i; j++ {
		if days[j].Hot {
			w.Hot++
		}
	}
	return w
}

func checkContiguous(obs []DailyObservation) error {
	for i := 1; i < len(obs); i++ {
		prev := CivilDate(obs[i-1].Date)
		cur := CivilDate(obs[i].Date)
		if !cur.After(prev) {
			return fmt.Errorf("%w: %s follows %s", ErrUnordered, FormatDate(cur), FormatDate(prev))
		}
		if !cur.Equal(prev.AddDate(0, 0, 1)) {
			return fmt.Errorf("%w: %s to %s", ErrCalendarGap, FormatDate(prev), FormatDate(cur))
		}
	}
	return nil
}

// Densify sorts a copy of obs by date and inserts a Missing day for every
// calendar day absent between the first and last observation. Two rows for the
// same day are rejected with ErrUnordered.
func Densify(obs []DailyObservation) ([]DailyObservation, error) {
	if len(obs) == 0 {
		return nil, nil
	}
	sorted := make([]DailyObservation, len(obs))
	for i, o := range obs {
		o.Date = CivilDate(o.Date)
		sorted[i] = o
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := make([]DailyObservation, 0, len(sorted))
	for i, o := range sorted {
		if i > 0 {
			prev := sorted[i-1].Date
			if o.Date.Equal(prev) {
				return nil, fmt.Errorf("%w: duplicate day %s", ErrUnordered, FormatDate(o.Date))
			}
			for d := prev.AddDate(0, 0, 1); d.Before(o.Date); d = d.AddDate(0, 0, 1) {
				out = append(out, DailyObservation{Date: d, Missing: true})
			}
		}
		out = append(out, o)
	}
	return out, nil
}
