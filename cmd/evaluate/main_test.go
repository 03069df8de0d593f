package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileYAML = `age_band: 80_plus
alert_multiplier: 2
populations:
  "2022-2023": 100000
  "2023-2024": 100000
  "2024-2025": 100000
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// tierColumn returns date -> tier from WriteAlerts output.
func tierColumn(t *testing.T, out string) map[string]string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	tiers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		cols := strings.Split(line, ",")
		tiers[cols[0]] = cols[len(cols)-1]
	}
	return tiers
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCmd(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage")

	code, _, stderr = runCmd(t, "forecast")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "forecast"`)

	code, _, stderr = runCmd(t, "counts")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "missing required flag -deaths")
}

func TestRun_AlertsFromCSV(t *testing.T) {
	in := writeFile(t, "temps.csv", strings.Join([]string{
		"date,t_max",
		"2025-01-20,30",
		"2025-01-21,41",
		"2025-01-23,36",
		"2025-01-24,37",
		"2025-01-25,x",
	}, "\n"))

	code, stdout, stderr := runCmd(t, "alerts", "-in", in)
	require.Equal(t, 0, code, stderr)

	assert.Equal(t, map[string]string{
		"2025-01-20": "early_preventive",
		"2025-01-21": "red",
		"2025-01-22": "early_preventive",
		"2025-01-23": "early_preventive",
		"2025-01-24": "yellow",
	}, tierColumn(t, stdout))
	assert.Contains(t, stderr, "line 6")
	assert.Contains(t, stderr, "1 records rejected")
}

func TestRun_AlertsSeremiToFile(t *testing.T) {
	in := writeFile(t, "temps.csv", "date,t_max\n2025-01-20,31\n2025-01-21,29\n")
	out := filepath.Join(t.TempDir(), "alerts.csv")

	code, stdout, stderr := runCmd(t, "alerts", "-in", in, "-scheme", "seremi", "-out", out)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"2025-01-20": "early_preventive",
		"2025-01-21": "none",
	}, tierColumn(t, string(data)))
}

func TestRun_AlertsUnknownScheme(t *testing.T) {
	in := writeFile(t, "temps.csv", "date,t_max\n2025-01-20,31\n")
	code, _, stderr := runCmd(t, "alerts", "-in", in, "-scheme", "minsal")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "FATAL")
}

func TestRun_AlertsFromArchive(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, end := r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date")
		requests = append(requests, start+".."+end)

		body := map[string]any{"daily": map[string]any{}}
		switch start {
		case "2024-12-30":
			body["daily"] = map[string]any{
				"time":               []string{"2024-12-30", "2024-12-31"},
				"temperature_2m_max": []any{35.0, 36.0},
			}
		case "2025-01-01":
			body["daily"] = map[string]any{
				"time":               []string{"2025-01-01", "2025-01-02"},
				"temperature_2m_max": []any{nil, 34.5},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	code, stdout, stderr := runCmd(t, "alerts",
		"-lat", "-33.45", "-lon", "-70.67",
		"-from", "2024-12-30", "-to", "2025-01-02",
		"-archive-url", srv.URL)
	require.Equal(t, 0, code, stderr)

	assert.Equal(t, []string{"2024-12-30..2024-12-31", "2025-01-01..2025-01-02"}, requests)
	assert.Equal(t, map[string]string{
		"2024-12-30": "early_preventive",
		"2024-12-31": "yellow",
		"2025-01-01": "early_preventive",
		"2025-01-02": "early_preventive",
	}, tierColumn(t, stdout))
	assert.Contains(t, stderr, "2025-01-01")
}

func TestRun_AlertsArchiveNeedsRange(t *testing.T) {
	code, _, stderr := runCmd(t, "alerts", "-lat", "-33.45", "-lon", "-70.67")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "either -in or -from and -to are required")
}

func TestRun_Counts(t *testing.T) {
	deaths := writeFile(t, "deaths.csv", strings.Join([]string{
		"date,age_type,age_value,region,diagnosis",
		"2025-01-24,1,85,13,I219",
		"2025-01-24,1,90,13,J189",
		"2025-01-24,1,60,13,I10",
		"2025-01-25,1,82,5,I10",
		"2025-01-25,1,70,13,I10",
	}, "\n"))

	code, stdout, stderr := runCmd(t, "counts", "-deaths", deaths, "-region", "13")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "date,count\n2025-01-24,2\n2025-01-25,0\n", stdout)
}

func TestRun_Baseline(t *testing.T) {
	history := writeFile(t, "history.csv", "date,count\n2022-12-01,0\n2023-12-01,2\n2023-06-01,9\n")
	profile := writeFile(t, "profile.yaml", profileYAML)

	code, stdout, stderr := runCmd(t, "baseline", "-history", history, "-profile", profile, "-season", "2024-2025")
	require.Equal(t, 0, code, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "season_day,samples,log_mean"))
	assert.True(t, strings.HasPrefix(lines[1], "12-01,2,0.549306,"))
	assert.True(t, strings.HasSuffix(lines[1], ",2024-12-01"))
}

func TestRun_Zones(t *testing.T) {
	history := writeFile(t, "history.csv", "date,count\n2022-12-01,0\n2023-12-01,2\n")
	current := writeFile(t, "current.csv", "date,count\n2024-12-01,0\n2024-12-02,1\n")
	profile := writeFile(t, "profile.yaml", profileYAML)

	code, stdout, stderr := runCmd(t, "zones", "-history", history, "-current", current, "-profile", profile)
	require.Equal(t, 0, code, stderr)

	assert.Equal(t, "date,season,count,log_rate,log_mean,log_stddev,samples,zone\n"+
		"2024-12-01,2024-2025,0,0.000000,0.549306,0.776836,2,success\n", stdout)
	assert.Contains(t, stderr, "2024-12-02")
	assert.Contains(t, stderr, "missing baseline")
}

func TestRun_ZonesRequireMultiplier(t *testing.T) {
	history := writeFile(t, "history.csv", "date,count\n2022-12-01,0\n")
	current := writeFile(t, "current.csv", "date,count\n2024-12-01,0\n")
	profile := writeFile(t, "profile.yaml", "populations:\n  \"2022-2023\": 100000\n")

	code, _, stderr := runCmd(t, "zones", "-history", history, "-current", current, "-profile", profile)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "alert multiplier not configured")

	code, _, stderr = runCmd(t, "zones", "-history", history, "-current", current, "-profile", profile, "-k", "1.5")
	assert.Equal(t, 0, code, stderr)
}
