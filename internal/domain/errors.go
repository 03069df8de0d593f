package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for per-record faults and series contract violations.
var (
	ErrMalformedInput     = errors.New("malformed input")
	ErrInsufficientWindow = errors.New("insufficient window")
	ErrMissingBaseline    = errors.New("missing baseline")
	ErrUnmappedSeason     = errors.New("unmapped season")
	ErrOutOfSeason        = errors.New("date outside season")
	ErrCalendarGap        = errors.New("calendar gap in series")
	ErrUnordered          = errors.New("series not in ascending date order")
	ErrInvalidMultiplier  = errors.New("invalid alert multiplier")
)

// RecordError reports a fault local to one input record. Ref locates the record
// in its source (a CSV line, a Kafka offset) and may be empty.
type RecordError struct {
	Date time.Time
	Ref  string
	Err  error
}

func (e RecordError) Error() string {
	var prefix string
	switch {
	case !e.Date.IsZero() && e.Ref != "":
		prefix = fmt.Sprintf("%s (%s)", FormatDate(e.Date), e.Ref)
	case !e.Date.IsZero():
		prefix = FormatDate(e.Date)
	case e.Ref != "":
		prefix = e.Ref
	default:
		return e.Err.Error()
	}
	return prefix + ": " + e.Err.Error()
}

func (e RecordError) Unwrap() error { return e.Err }

// FaultKind maps an error to a short label for metrics.
func FaultKind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedInput):
		return "malformed"
	case errors.Is(err, ErrMissingBaseline):
		return "missing_baseline"
	case errors.Is(err, ErrUnmappedSeason):
		return "unmapped_season"
	case errors.Is(err, ErrOutOfSeason):
		return "out_of_season"
	default:
		return "other"
	}
}
