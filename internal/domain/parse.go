package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseRawEvent decodes a source message into a Reading. Any unparseable field
// rejects the whole message with ErrMalformedInput; nothing is zero-filled.
func ParseRawEvent(raw RawEvent) (Reading, error) {
	var rec RawReading
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return Reading{}, fmt.Errorf("parse raw event: %w: %v", ErrMalformedInput, err)
	}
	r, err := ParseRawReading(rec)
	if err != nil {
		return Reading{}, err
	}
	r.Ref = raw.Position()
	return r, nil
}

// ParseRawReading validates and converts the string fields of a RawReading.
func ParseRawReading(rec RawReading) (Reading, error) {
	date, err := ParseDate(rec.Date)
	if err != nil {
		return Reading{}, err
	}

	switch ReadingKind(strings.ToLower(strings.TrimSpace(rec.Kind))) {
	case KindTemperature:
		tmax, err := ParseTemperature(rec.TMax)
		if err != nil {
			return Reading{}, err
		}
		return Reading{
			Kind:        KindTemperature,
			Temperature: DailyObservation{Date: date, TMax: tmax},
		}, nil

	case KindDeath:
		unit, err := parseInt("age_type", rec.AgeType)
		if err != nil {
			return Reading{}, err
		}
		age, err := parseInt("age_value", rec.AgeValue)
		if err != nil {
			return Reading{}, err
		}
		var region int
		if strings.TrimSpace(rec.Region) != "" {
			if region, err = parseInt("region", rec.Region); err != nil {
				return Reading{}, err
			}
		}
		death := DeathRecord{
			Date:      date,
			AgeUnit:   AgeUnit(unit),
			AgeValue:  age,
			Region:    region,
			Diagnosis: strings.TrimSpace(rec.Diagnosis),
		}
		if _, err := death.AgeYears(); err != nil {
			return Reading{}, err
		}
		return Reading{Kind: KindDeath, Death: death}, nil

	default:
		return Reading{}, fmt.Errorf("%w: unknown reading kind %q", ErrMalformedInput, rec.Kind)
	}
}

// ParseDate parses a YYYY-MM-DD calendar day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformedInput, s)
	}
	return t, nil
}

// ParseTemperature parses a finite temperature in °C.
func ParseTemperature(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: t_max %q", ErrMalformedInput, s)
	}
	return v, nil
}

// ParseCount parses a non-negative daily count.
func ParseCount(s string) (int, error) {
	n, err := parseInt("count", s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrMalformedInput, n)
	}
	return n, nil
}

func parseInt(field, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedInput, field, s)
	}
	return n, nil
}
