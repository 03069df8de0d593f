package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Output kinds, also used as the "kind" header on the sink topic.
const (
	OutputHeatAlert    = "heat_alert"
	OutputCorridorZone = "corridor_zone"
)

// HeatAlertEvent is the sink representation of a DayAlert.
type HeatAlertEvent struct {
	Kind        string      `json:"kind"`
	Date        string      `json:"date"`
	Scheme      AlertScheme `json:"scheme"`
	TMax        *float64    `json:"t_max,omitempty"`
	Hot         bool        `json:"hot"`
	Over35      bool        `json:"over_35"`
	Tier        AlertTier   `json:"tier"`
	ProcessedAt time.Time   `json:"processed_at"`
}

// CorridorZoneEvent is the sink representation of a DayZone. Fields that are
// undefined for the band (standard deviation from a single season) are omitted.
type CorridorZoneEvent struct {
	Kind        string    `json:"kind"`
	Date        string    `json:"date"`
	Season      string    `json:"season"`
	Count       int       `json:"count"`
	LogRate     float64   `json:"log_rate"`
	LogMean     float64   `json:"log_mean"`
	LogStdDev   *float64  `json:"log_stddev,omitempty"`
	Samples     int       `json:"samples"`
	Zone        Zone      `json:"zone"`
	ProcessedAt time.Time `json:"processed_at"`
}

// SerializeDayAlert renders a DayAlert as an OutputEvent keyed by date, so a
// reclassified day replaces its earlier output in a compacted topic.
func SerializeDayAlert(d DayAlert, scheme AlertScheme) (OutputEvent, error) {
	ev := HeatAlertEvent{
		Kind:        OutputHeatAlert,
		Date:        FormatDate(d.Date),
		Scheme:      scheme,
		Hot:         d.Hot,
		Over35:      d.Over35,
		Tier:        d.Tier,
		ProcessedAt: clock.Now().UTC(),
	}
	if !d.Missing {
		tmax := d.TMax
		ev.TMax = &tmax
	}
	return marshalOutput(OutputHeatAlert+"-"+ev.Date, ev.Kind, ev.ProcessedAt, ev)
}

// SerializeDayZone renders a DayZone as an OutputEvent keyed by date.
func SerializeDayZone(d DayZone) (OutputEvent, error) {
	ev := CorridorZoneEvent{
		Kind:        OutputCorridorZone,
		Date:        FormatDate(d.Date),
		Season:      d.Season.String(),
		Count:       d.Count,
		LogRate:     d.LogRate,
		LogMean:     d.Band.LogMean,
		Samples:     d.Band.Samples,
		Zone:        d.Zone,
		ProcessedAt: clock.Now().UTC(),
	}
	if !math.IsNaN(d.Band.LogStdDev) {
		sd := d.Band.LogStdDev
		ev.LogStdDev = &sd
	}
	return marshalOutput(OutputCorridorZone+"-"+ev.Date, ev.Kind, ev.ProcessedAt, ev)
}

func marshalOutput(key, kind string, processedAt time.Time, v any) (OutputEvent, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize %s: %w", kind, err)
	}
	return OutputEvent{
		Key:   []byte(key),
		Value: data,
		Headers: map[string]string{
			"kind":         kind,
			"processed_at": processedAt.Format(time.RFC3339),
		},
	}, nil
}
