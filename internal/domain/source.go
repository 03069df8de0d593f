package domain

import (
	"context"
	"time"
)

// TemperatureSource supplies daily maximum temperatures for a location.
type TemperatureSource interface {
	// DailyMaxTemperatures returns one observation per day in [from, to] that the
	// provider reported, plus a fault for every day it reported without a value.
	DailyMaxTemperatures(ctx context.Context, lat, lon float64, from, to time.Time) ([]DailyObservation, []RecordError, error)
}
