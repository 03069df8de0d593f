package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, time.January, 20, 12, 30, 0, 0, time.UTC)

func freezeClock(t *testing.T) {
	t.Helper()
	SetClock(clockwork.NewFakeClockAt(fixedNow))
	t.Cleanup(func() { SetClock(nil) })
}

func TestSerializeDayAlert(t *testing.T) {
	freezeClock(t)

	ev, err := SerializeDayAlert(DayAlert{
		Date:   date(2025, time.January, 15),
		TMax:   36.5,
		Hot:    true,
		Over35: true,
		Tier:   TierYellow,
	}, SchemeSenapred)
	require.NoError(t, err)

	assert.Equal(t, "heat_alert-2025-01-15", string(ev.Key))
	assert.Equal(t, map[string]string{
		"kind":         OutputHeatAlert,
		"processed_at": "2025-01-20T12:30:00Z",
	}, ev.Headers)

	var got map[string]any
	require.NoError(t, json.Unmarshal(ev.Value, &got))
	assert.Equal(t, "heat_alert", got["kind"])
	assert.Equal(t, "2025-01-15", got["date"])
	assert.Equal(t, "senapred", got["scheme"])
	assert.Equal(t, "yellow", got["tier"])
	assert.Equal(t, 36.5, got["t_max"])
	assert.Equal(t, true, got["over_35"])
}

func TestSerializeDayAlert_MissingDayOmitsTemperature(t *testing.T) {
	freezeClock(t)

	ev, err := SerializeDayAlert(DayAlert{Date: date(2025, time.January, 15), Missing: true}, SchemeSeremi)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(ev.Value, &got))
	assert.NotContains(t, got, "t_max")
	assert.Equal(t, "none", got["tier"])
	assert.Equal(t, "seremi", got["scheme"])
}

func TestSerializeDayZone(t *testing.T) {
	freezeClock(t)

	dz := DayZone{
		Date:    date(2024, time.December, 3),
		Season:  SeasonKey{2024, 2025},
		Count:   7,
		LogRate: 1.25,
		Band:    BaselineBand{Day: SeasonDay{time.December, 3}, LogMean: 1.1, LogStdDev: 0.3, Samples: 5},
		Zone:    ZoneSafety,
	}

	ev, err := SerializeDayZone(dz)
	require.NoError(t, err)
	assert.Equal(t, "corridor_zone-2024-12-03", string(ev.Key))
	assert.Equal(t, OutputCorridorZone, ev.Headers["kind"])

	var got CorridorZoneEvent
	require.NoError(t, json.Unmarshal(ev.Value, &got))
	assert.Equal(t, "2024-2025", got.Season)
	assert.Equal(t, 7, got.Count)
	require.NotNil(t, got.LogStdDev)
	assert.InDelta(t, 0.3, *got.LogStdDev, 1e-12)
	assert.True(t, got.ProcessedAt.Equal(fixedNow))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(ev.Value, &raw))
	assert.Equal(t, "safety", raw["zone"])
}

func TestSerializeDayZone_UndefinedStdDevOmitted(t *testing.T) {
	freezeClock(t)

	ev, err := SerializeDayZone(DayZone{
		Date:   date(2024, time.December, 3),
		Season: SeasonKey{2024, 2025},
		Band:   BaselineBand{LogMean: 1, LogStdDev: math.NaN(), Samples: 1},
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(ev.Value, &raw))
	assert.NotContains(t, raw, "log_stddev")
	assert.Equal(t, "success", raw["zone"])
}
