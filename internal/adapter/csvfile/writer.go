package csvfile

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
)

// Undefined values (missing temperature, incomplete window, NaN width) are
// written as empty cells.

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatWindow(w domain.WindowCount) string {
	if !w.Complete {
		return ""
	}
	return strconv.Itoa(w.Hot)
}

func writeAll(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteAlerts writes one row per classified day.
func WriteAlerts(w io.Writer, days []domain.DayAlert, scheme domain.AlertScheme) error {
	rows := make([][]string, 0, len(days))
	for _, d := range days {
		tmax := ""
		if !d.Missing {
			tmax = formatFloat(d.TMax)
		}
		rows = append(rows, []string{
			domain.FormatDate(d.Date),
			tmax,
			strconv.FormatBool(d.Hot),
			strconv.FormatBool(d.Over35),
			formatWindow(d.Window2),
			formatWindow(d.Window3),
			string(scheme),
			d.Tier.String(),
		})
	}
	return writeAll(w, []string{"date", "t_max", "hot", "over_35", "window_2", "window_3", "scheme", "tier"}, rows)
}

// WriteCounts writes `date,count` rows in the format ReadDailyCounts accepts.
func WriteCounts(w io.Writer, counts []domain.HistoricalCountRecord) error {
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{domain.FormatDate(c.Date), strconv.Itoa(c.Count)})
	}
	return writeAll(w, []string{"date", "count"}, rows)
}

// WriteBaseline writes the bands in season order with their rate-space
// envelope for multiplier k. When season is non-nil every row also carries the
// calendar date of the band in that season, empty for Feb 29 of a common year.
func WriteBaseline(w io.Writer, bands []domain.BaselineBand, k float64, season *domain.SeasonKey) error {
	header := []string{"season_day", "samples", "log_mean", "log_stddev", "success_upper", "safety_upper", "alert_upper"}
	if season != nil {
		header = append(header, "date")
	}

	rows := make([][]string, 0, len(bands))
	for _, b := range bands {
		env := b.Envelope(k)
		rec := []string{
			b.Day.String(),
			strconv.Itoa(b.Samples),
			formatFloat(b.LogMean),
			formatFloat(b.LogStdDev),
			formatFloat(env.SuccessUpper),
			formatFloat(env.SafetyUpper),
			formatFloat(env.AlertUpper),
		}
		if season != nil {
			date := ""
			if t, ok := b.Day.DateIn(*season); ok {
				date = domain.FormatDate(t)
			}
			rec = append(rec, date)
		}
		rows = append(rows, rec)
	}
	return writeAll(w, header, rows)
}

// WriteZones writes one row per classified current-season day.
func WriteZones(w io.Writer, days []domain.DayZone) error {
	rows := make([][]string, 0, len(days))
	for _, d := range days {
		rows = append(rows, []string{
			domain.FormatDate(d.Date),
			d.Season.String(),
			strconv.Itoa(d.Count),
			formatFloat(d.LogRate),
			formatFloat(d.Band.LogMean),
			formatFloat(d.Band.LogStdDev),
			strconv.Itoa(d.Band.Samples),
			d.Zone.String(),
		})
	}
	return writeAll(w, []string{"date", "season", "count", "log_rate", "log_mean", "log_stddev", "samples", "zone"}, rows)
}
