package domain

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPopulations() PopulationMapping {
	return PopulationMapping{
		{2021, 2022}: 100000,
		{2022, 2023}: 100000,
		{2023, 2024}: 200000,
	}
}

func TestLogRate(t *testing.T) {
	assert.InDelta(t, 0.0, LogRate(0, 50000), 1e-12, "zero count is ln(1)")
	assert.InDelta(t, math.Log(11), LogRate(10, 100000), 1e-12)
	assert.InDelta(t, math.Log(6), LogRate(10, 200000), 1e-12)
}

func TestBuildBaseline_MeanAndSampleStdDev(t *testing.T) {
	records := []HistoricalCountRecord{
		{Date: date(2021, time.December, 1), Count: 10}, // ln 11
		{Date: date(2022, time.December, 1), Count: 30}, // ln 31
	}

	b, faults := BuildBaseline(records, testPopulations(), nil)
	require.Empty(t, faults)
	require.Equal(t, 1, b.Len())

	band, ok := b.Band(SeasonDay{time.December, 1})
	require.True(t, ok)
	assert.Equal(t, 2, band.Samples)
	assert.InDelta(t, (math.Log(11)+math.Log(31))/2, band.LogMean, 1e-12)
	assert.InDelta(t, math.Abs(math.Log(31)-math.Log(11))/math.Sqrt2, band.LogStdDev, 1e-12)
	assert.True(t, band.WidthComputable())
	assert.Equal(t, 1, b.WidthComputable())
}

func TestBuildBaseline_SingleSeasonHasNoWidth(t *testing.T) {
	records := []HistoricalCountRecord{{Date: date(2022, time.January, 5), Count: 4}}

	b, faults := BuildBaseline(records, testPopulations(), nil)
	require.Empty(t, faults)

	band, ok := b.Band(SeasonDay{time.January, 5})
	require.True(t, ok)
	assert.Equal(t, 1, band.Samples)
	assert.InDelta(t, LogRate(4, 100000), band.LogMean, 1e-12)
	assert.True(t, math.IsNaN(band.LogStdDev))
	assert.False(t, band.WidthComputable())
	assert.Equal(t, 0, b.WidthComputable())
}

func TestBuildBaseline_DropsAndFaults(t *testing.T) {
	records := []HistoricalCountRecord{
		{Date: date(2022, time.June, 1), Count: 5},      // out of season, dropped
		{Date: date(2022, time.November, 3), Count: 5},  // excluded season, dropped
		{Date: date(2019, time.December, 1), Count: 5},  // unmapped
		{Date: date(2021, time.November, 3), Count: -1}, // malformed
		{Date: date(2021, time.November, 3), Count: 2},
	}

	b, faults := BuildBaseline(records, testPopulations(), []SeasonKey{{2022, 2023}})
	require.Len(t, faults, 2)
	assert.ErrorIs(t, faults[0], ErrUnmappedSeason)
	assert.Equal(t, date(2019, time.December, 1), faults[0].Date)
	assert.ErrorIs(t, faults[1], ErrMalformedInput)

	require.Equal(t, 1, b.Len())
	band, ok := b.Band(SeasonDay{time.November, 3})
	require.True(t, ok)
	assert.Equal(t, 1, band.Samples)

	_, ok = b.Band(SeasonDay{time.June, 1})
	assert.False(t, ok)
}

func TestBuildBaseline_LeapDayIsOwnBucket(t *testing.T) {
	records := []HistoricalCountRecord{
		{Date: date(2024, time.February, 29), Count: 1},
		{Date: date(2023, time.February, 28), Count: 1},
		{Date: date(2024, time.February, 28), Count: 1},
	}

	b, faults := BuildBaseline(records, testPopulations(), nil)
	require.Empty(t, faults)

	leap, ok := b.Band(SeasonDay{time.February, 29})
	require.True(t, ok)
	assert.Equal(t, 1, leap.Samples)

	feb28, ok := b.Band(SeasonDay{time.February, 28})
	require.True(t, ok)
	assert.Equal(t, 2, feb28.Samples)
}

func TestBuildBaseline_Idempotent(t *testing.T) {
	records := []HistoricalCountRecord{
		{Date: date(2021, time.November, 1), Count: 3},
		{Date: date(2022, time.November, 1), Count: 7},
		{Date: date(2023, time.November, 1), Count: 11},
		{Date: date(2022, time.March, 31), Count: 0},
		{Date: date(2023, time.January, 15), Count: 2},
	}

	first, _ := BuildBaseline(records, testPopulations(), nil)
	second, _ := BuildBaseline(records, testPopulations(), nil)

	if diff := cmp.Diff(first.Bands(), second.Bands(), cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("baseline not reproducible (-first +second):\n%s", diff)
	}
}

func TestBaseline_BandsInSeasonOrder(t *testing.T) {
	b := NewBaseline([]BaselineBand{
		{Day: SeasonDay{time.March, 1}},
		{Day: SeasonDay{time.November, 2}},
		{Day: SeasonDay{time.January, 1}},
		{Day: SeasonDay{time.November, 1}},
	})

	var got []string
	for _, band := range b.Bands() {
		got = append(got, band.Day.String())
	}
	assert.Equal(t, []string{"11-01", "11-02", "01-01", "03-01"}, got)
}

func TestBaselineBand_Envelope(t *testing.T) {
	band := BaselineBand{LogMean: 1, LogStdDev: 0.5, Samples: 3}
	env := band.Envelope(2)

	assert.InDelta(t, math.E, env.SuccessUpper, 1e-12)
	assert.InDelta(t, math.Exp(1.5), env.SafetyUpper, 1e-12)
	assert.InDelta(t, math.Exp(2), env.AlertUpper, 1e-12)

	single := BaselineBand{LogMean: 1, LogStdDev: math.NaN(), Samples: 1}.Envelope(2)
	assert.InDelta(t, math.E, single.SuccessUpper, 1e-12)
	assert.True(t, math.IsNaN(single.SafetyUpper))
	assert.True(t, math.IsNaN(single.AlertUpper))
}

func TestPopulationMapping(t *testing.T) {
	p := PopulationMapping{{2023, 2024}: 234985, {2024, 2025}: 0}

	n, ok := p.Lookup(SeasonKey{2023, 2024})
	assert.True(t, ok)
	assert.Equal(t, 234985, n)

	_, ok = p.Lookup(SeasonKey{2024, 2025})
	assert.False(t, ok)

	assert.Error(t, p.Validate())
	assert.NoError(t, PopulationMapping{{2023, 2024}: 1}.Validate())
	assert.Error(t, PopulationMapping{{2023, 2025}: 1}.Validate())
}
