// Command evaluate runs the surveillance classifiers over files instead of
// Kafka topics. It reads CSV inputs (or fetches temperatures from the
// Open-Meteo archive) and writes CSV results.
//
// Usage:
//
//	go run ./cmd/evaluate alerts   -in temps.csv [-scheme seremi] [-out alerts.csv]
//	go run ./cmd/evaluate alerts   -lat -33.45 -lon -70.67 -from 2024-11-01 -to 2025-03-31
//	go run ./cmd/evaluate counts   -deaths deaths.csv -band 80_plus [-region 13] [-out counts.csv]
//	go run ./cmd/evaluate baseline -history counts.csv -profile profile.yaml [-season 2024-2025] [-k 2]
//	go run ./cmd/evaluate zones    -history counts.csv -current current.csv -profile profile.yaml [-k 2]
//
// Record faults are reported on stderr; the exit code is non-zero only when
// the command cannot run at all.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/couchcryptid/heat-surveillance-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/heat-surveillance-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/heat-surveillance-etl/internal/config"
	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	"github.com/couchcryptid/heat-surveillance-etl/internal/observability"
)

// fetchMetrics registers the collectors once per process.
var fetchMetrics = sync.OnceValue(observability.NewMetrics)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// errUsage marks errors already reported by the flag set.
var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: evaluate <alerts|counts|baseline|zones> [flags]")
		return 2
	}

	env := &cmdEnv{
		ctx:    ctx,
		stdout: stdout,
		stderr: stderr,
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}

	var err error
	switch args[0] {
	case "alerts":
		err = env.alerts(args[1:])
	case "counts":
		err = env.counts(args[1:])
	case "baseline":
		err = env.baseline(args[1:])
	case "zones":
		err = env.zones(args[1:])
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return 2
	}

	if env.faults > 0 {
		fmt.Fprintf(stderr, "%d records rejected\n", env.faults)
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		fmt.Fprintf(stderr, "FATAL: %v\n", err)
		return 1
	}
}

type cmdEnv struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	faults int
}

func (e *cmdEnv) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func (e *cmdEnv) parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range required {
		if fs.Lookup(name).Value.String() == "" {
			fmt.Fprintf(e.stderr, "missing required flag -%s\n", name)
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

func (e *cmdEnv) report(stage string, faults []domain.RecordError) {
	for _, f := range faults {
		fmt.Fprintf(e.stderr, "%s: %v\n", stage, f)
	}
	e.faults += len(faults)
}

// output opens path for writing, or stdout when path is empty.
func (e *cmdEnv) output(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(e.stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func (e *cmdEnv) alerts(args []string) error {
	fs := e.flagSet("alerts")
	in := fs.String("in", "", "CSV of daily maximum temperatures (date,t_max)")
	lat := fs.Float64("lat", 0, "latitude to fetch from Open-Meteo when -in is not set")
	lon := fs.Float64("lon", 0, "longitude to fetch from Open-Meteo when -in is not set")
	from := fs.String("from", "", "first day to fetch (YYYY-MM-DD)")
	to := fs.String("to", "", "last day to fetch (YYYY-MM-DD)")
	profilePath := fs.String("profile", "", "profile whose location is used when -lat/-lon are not set")
	archiveURL := fs.String("archive-url", "", "Open-Meteo archive endpoint (default OPENMETEO_BASE_URL)")
	schemeName := fs.String("scheme", string(domain.SchemeSenapred), "alert scheme: senapred or seremi")
	out := fs.String("out", "", "output CSV (default stdout)")
	if err := e.parse(fs, args); err != nil {
		return err
	}

	scheme, err := domain.ParseAlertScheme(*schemeName)
	if err != nil {
		return err
	}

	var obs []domain.DailyObservation
	var faults []domain.RecordError
	if *in != "" {
		obs, faults, err = csvfile.LoadObservations(*in)
	} else {
		obs, faults, err = e.fetch(*lat, *lon, *from, *to, *profilePath, *archiveURL, fs)
	}
	if err != nil {
		return err
	}
	e.report("input", faults)

	// Rejected rows become missing days so their neighbours keep their place.
	series, err := domain.Densify(obs)
	if err != nil {
		return err
	}
	res, err := domain.ClassifyAlerts(series, scheme)
	if err != nil {
		return err
	}
	e.report("classify", res.Faults)

	return e.output(*out, func(w io.Writer) error {
		return csvfile.WriteAlerts(w, res.Days, scheme)
	})
}

func (e *cmdEnv) fetch(lat, lon float64, fromStr, toStr, profilePath, archiveURL string, fs *flag.FlagSet) ([]domain.DailyObservation, []domain.RecordError, error) {
	if fromStr == "" || toStr == "" {
		fmt.Fprintln(e.stderr, "either -in or -from and -to are required")
		fs.Usage()
		return nil, nil, errUsage
	}
	from, err := domain.ParseDate(fromStr)
	if err != nil {
		return nil, nil, fmt.Errorf("-from: %w", err)
	}
	to, err := domain.ParseDate(toStr)
	if err != nil {
		return nil, nil, fmt.Errorf("-to: %w", err)
	}

	if lat == 0 && lon == 0 && profilePath != "" {
		profile, err := config.LoadProfile(profilePath)
		if err != nil {
			return nil, nil, err
		}
		if profile.Location == nil {
			return nil, nil, fmt.Errorf("profile %s has no location", profilePath)
		}
		lat, lon = profile.Location.Latitude, profile.Location.Longitude
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if archiveURL == "" {
		archiveURL = cfg.OpenMeteoBaseURL
	}
	metrics := fetchMetrics()
	client := openmeteo.NewClient(archiveURL, cfg.OpenMeteoTimeout, metrics, e.logger)
	source := openmeteo.NewCachedSource(client, cfg.OpenMeteoCacheSize, metrics)
	return fetchByYear(e.ctx, source, lat, lon, from, to)
}

// fetchByYear splits long ranges into calendar-year requests, the granularity
// the archive serves quickly.
func fetchByYear(ctx context.Context, source domain.TemperatureSource, lat, lon float64, from, to time.Time) ([]domain.DailyObservation, []domain.RecordError, error) {
	var obs []domain.DailyObservation
	var faults []domain.RecordError
	for start := from; !start.After(to); {
		end := time.Date(start.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
		if end.After(to) {
			end = to
		}
		o, f, err := source.DailyMaxTemperatures(ctx, lat, lon, start, end)
		if err != nil {
			return nil, nil, err
		}
		obs = append(obs, o...)
		faults = append(faults, f...)
		start = end.AddDate(0, 0, 1)
	}
	return obs, faults, nil
}

func (e *cmdEnv) counts(args []string) error {
	fs := e.flagSet("counts")
	deaths := fs.String("deaths", "", "CSV of death records (date,age_type,age_value,region,diagnosis)")
	bandName := fs.String("band", string(domain.BandEightyPlus), "age band: under_1, 1_79 or 80_plus")
	region := fs.Int("region", 0, "keep only this region of residence (0 keeps all)")
	cardio := fs.Bool("cardiovascular", false, "keep only ICD-10 chapter I causes")
	out := fs.String("out", "", "output CSV (default stdout)")
	if err := e.parse(fs, args, "deaths"); err != nil {
		return err
	}

	band, err := domain.ParseAgeBand(*bandName)
	if err != nil {
		return err
	}
	records, faults, err := csvfile.LoadDeathRecords(*deaths)
	if err != nil {
		return err
	}
	e.report("input", faults)

	counts, faults := domain.AggregateDailyCounts(records, domain.AggregateFilter{
		Band:               band,
		Region:             *region,
		CardiovascularOnly: *cardio,
	})
	e.report("aggregate", faults)

	return e.output(*out, func(w io.Writer) error {
		return csvfile.WriteCounts(w, counts)
	})
}

// corridorInputs loads the profile and history shared by baseline and zones.
func (e *cmdEnv) corridorInputs(profilePath, historyPath string, k float64) (config.Profile, domain.Baseline, domain.CorridorConfig, error) {
	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		return config.Profile{}, domain.Baseline{}, domain.CorridorConfig{}, err
	}
	corridor, err := profile.Corridor(k)
	if err != nil {
		return config.Profile{}, domain.Baseline{}, domain.CorridorConfig{}, err
	}
	history, faults, err := csvfile.LoadDailyCounts(historyPath)
	if err != nil {
		return config.Profile{}, domain.Baseline{}, domain.CorridorConfig{}, err
	}
	e.report("history", faults)

	baseline, faults := domain.BuildBaseline(history, profile.Populations, profile.ExcludedSeasons)
	e.report("baseline", faults)
	return profile, baseline, corridor, nil
}

func (e *cmdEnv) baseline(args []string) error {
	fs := e.flagSet("baseline")
	history := fs.String("history", "", "CSV of historical daily counts (date,count)")
	profilePath := fs.String("profile", "", "surveillance profile (YAML)")
	seasonName := fs.String("season", "", "project bands onto this season's dates, e.g. 2024-2025")
	k := fs.Float64("k", 0, "alert multiplier, overrides the profile")
	out := fs.String("out", "", "output CSV (default stdout)")
	if err := e.parse(fs, args, "history", "profile"); err != nil {
		return err
	}

	var season *domain.SeasonKey
	if *seasonName != "" {
		key, err := domain.ParseSeasonKey(*seasonName)
		if err != nil {
			return err
		}
		season = &key
	}

	_, baseline, corridor, err := e.corridorInputs(*profilePath, *history, *k)
	if err != nil {
		return err
	}

	return e.output(*out, func(w io.Writer) error {
		return csvfile.WriteBaseline(w, baseline.Bands(), corridor.AlertMultiplier, season)
	})
}

func (e *cmdEnv) zones(args []string) error {
	fs := e.flagSet("zones")
	history := fs.String("history", "", "CSV of historical daily counts (date,count)")
	current := fs.String("current", "", "CSV of current-season daily counts (date,count)")
	profilePath := fs.String("profile", "", "surveillance profile (YAML)")
	k := fs.Float64("k", 0, "alert multiplier, overrides the profile")
	out := fs.String("out", "", "output CSV (default stdout)")
	if err := e.parse(fs, args, "history", "current", "profile"); err != nil {
		return err
	}

	profile, baseline, corridor, err := e.corridorInputs(*profilePath, *history, *k)
	if err != nil {
		return err
	}
	records, faults, err := csvfile.LoadDailyCounts(*current)
	if err != nil {
		return err
	}
	e.report("current", faults)

	res, err := domain.ClassifyCorridor(records, profile.Populations, baseline, corridor)
	if err != nil {
		return err
	}
	e.report("classify", res.Faults)

	return e.output(*out, func(w io.Writer) error {
		return csvfile.WriteZones(w, res.Days)
	})
}
