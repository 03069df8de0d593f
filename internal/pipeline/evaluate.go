package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	"github.com/couchcryptid/heat-surveillance-etl/internal/observability"
)

// SurveillanceConfig configures a Surveillance evaluator. A nil Baseline
// disables corridor classification; death readings are then counted but
// produce no output.
type SurveillanceConfig struct {
	Scheme        domain.AlertScheme
	Filter        domain.AggregateFilter
	Populations   domain.PopulationMapping
	Baseline      *domain.Baseline
	Corridor      domain.CorridorConfig
	RetentionDays int
}

// Surveillance implements Evaluator. It keeps a rolling window of daily maximum
// temperatures and daily death counts, reclassifies heat alerts whenever a
// temperature arrives and places updated count days in the endemic corridor.
type Surveillance struct {
	cfg     SurveillanceConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	temps  map[time.Time]domain.DailyObservation
	counts map[time.Time]int
	seen   map[string]time.Time // death Ref -> date, for redelivery
	latest time.Time
}

// alertSpan is the longest window a temperature contributes to: a reading for
// day d can change the tiers of d, d+1 and d+2.
const alertSpan = 3

// NewSurveillance creates an empty evaluator.
func NewSurveillance(cfg SurveillanceConfig, logger *slog.Logger, metrics *observability.Metrics) (*Surveillance, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = domain.SchemeSenapred
	}
	if _, err := domain.ParseAlertScheme(string(cfg.Scheme)); err != nil {
		return nil, err
	}
	if cfg.Baseline != nil {
		if err := cfg.Corridor.Validate(); err != nil {
			return nil, err
		}
		metrics.BaselineComputableDays.Set(float64(cfg.Baseline.WidthComputable()))
	}
	if cfg.RetentionDays < alertSpan {
		return nil, fmt.Errorf("retention of %d days is shorter than the %d-day alert window", cfg.RetentionDays, alertSpan)
	}
	return &Surveillance{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		temps:   make(map[time.Time]domain.DailyObservation),
		counts:  make(map[time.Time]int),
		seen:    make(map[string]time.Time),
	}, nil
}

// Evaluate folds readings into the state and returns heat-alert outputs for
// every affected day followed by corridor outputs for every updated count day.
// A death whose Ref was already folded is not counted again, but its day is
// still reported so the outputs of an unacknowledged batch are reproduced.
func (s *Surveillance) Evaluate(_ context.Context, readings []domain.Reading) ([]domain.OutputEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changedTemps, changedCounts := s.fold(readings)

	alerts, err := s.alertOutputs(changedTemps)
	if err != nil {
		return nil, err
	}
	zones, err := s.zoneOutputs(changedCounts)
	if err != nil {
		return nil, err
	}
	return append(alerts, zones...), nil
}

// Restore folds readings that were already evaluated by an earlier run. It
// rebuilds the rolling window without producing outputs.
func (s *Surveillance) Restore(_ context.Context, readings []domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fold(readings)
	return nil
}

// fold applies readings to the state, prunes it and returns the temperature
// days and count days that were touched.
func (s *Surveillance) fold(readings []domain.Reading) (map[time.Time]bool, []time.Time) {
	changedTemps := make(map[time.Time]bool)
	var deaths []domain.DeathRecord
	var redelivered []time.Time

	for _, r := range readings {
		date := domain.CivilDate(r.Date())
		if date.After(s.latest) {
			s.latest = date
		}
		switch r.Kind {
		case domain.KindTemperature:
			obs := r.Temperature
			obs.Date = date
			s.temps[date] = obs
			changedTemps[date] = true
		case domain.KindDeath:
			if r.Ref != "" {
				if _, dup := s.seen[r.Ref]; dup {
					s.logger.Debug("death already counted", "ref", r.Ref, "date", domain.FormatDate(date))
					redelivered = append(redelivered, date)
					continue
				}
				s.seen[r.Ref] = date
			}
			deaths = append(deaths, r.Death)
		}
	}

	changedCounts := mergeDates(s.addDeaths(deaths), redelivered)
	s.prune()
	return changedTemps, changedCounts
}

// addDeaths aggregates a batch of death records into the daily counts and
// returns the dates it touched.
func (s *Surveillance) addDeaths(deaths []domain.DeathRecord) []time.Time {
	if len(deaths) == 0 {
		return nil
	}
	daily, faults := domain.AggregateDailyCounts(deaths, s.cfg.Filter)
	s.reportFaults("aggregate deaths", faults)

	changed := make([]time.Time, 0, len(daily))
	for _, d := range daily {
		s.counts[d.Date] += d.Count
		changed = append(changed, d.Date)
	}
	return changed
}

// mergeDates appends the dates of extra not already in dates.
func mergeDates(dates, extra []time.Time) []time.Time {
	for _, d := range extra {
		if !slices.ContainsFunc(dates, d.Equal) {
			dates = append(dates, d)
		}
	}
	return dates
}

// prune drops state older than the retention window behind the newest date.
func (s *Surveillance) prune() {
	cutoff := s.latest.AddDate(0, 0, -s.cfg.RetentionDays)
	for d := range s.temps {
		if d.Before(cutoff) {
			delete(s.temps, d)
		}
	}
	for d := range s.counts {
		if d.Before(cutoff) {
			delete(s.counts, d)
		}
	}
	for ref, d := range s.seen {
		if d.Before(cutoff) {
			delete(s.seen, ref)
		}
	}
}

func (s *Surveillance) alertOutputs(changed map[time.Time]bool) ([]domain.OutputEvent, error) {
	if len(changed) == 0 {
		return nil, nil
	}

	obs := make([]domain.DailyObservation, 0, len(s.temps))
	for _, o := range s.temps {
		obs = append(obs, o)
	}
	dense, err := domain.Densify(obs)
	if err != nil {
		return nil, fmt.Errorf("densify temperatures: %w", err)
	}
	res, err := domain.ClassifyAlerts(dense, s.cfg.Scheme)
	if err != nil {
		return nil, fmt.Errorf("classify alerts: %w", err)
	}
	s.reportFaults("classify alerts", res.Faults)

	var out []domain.OutputEvent
	for _, day := range res.Days {
		if day.Missing || !affected(day.Date, changed) {
			continue
		}
		ev, err := domain.SerializeDayAlert(day, s.cfg.Scheme)
		if err != nil {
			return nil, err
		}
		s.metrics.AlertTiers.WithLabelValues(day.Tier.String()).Inc()
		if day.Tier >= domain.TierYellow {
			s.logger.Info("heat alert", "date", domain.FormatDate(day.Date), "tier", day.Tier.String(), "t_max", day.TMax)
		}
		out = append(out, ev)
	}
	return out, nil
}

// affected reports whether date or one of the two days before it changed.
func affected(date time.Time, changed map[time.Time]bool) bool {
	for i := 0; i < alertSpan; i++ {
		if changed[date.AddDate(0, 0, -i)] {
			return true
		}
	}
	return false
}

func (s *Surveillance) zoneOutputs(changed []time.Time) ([]domain.OutputEvent, error) {
	if s.cfg.Baseline == nil || len(changed) == 0 {
		return nil, nil
	}

	current := make([]domain.HistoricalCountRecord, 0, len(changed))
	for _, d := range changed {
		if _, ok := domain.ResolveSeason(d); !ok {
			continue
		}
		n, ok := s.counts[d]
		if !ok {
			continue
		}
		current = append(current, domain.HistoricalCountRecord{Date: d, Count: n})
	}
	sort.Slice(current, func(i, j int) bool { return current[i].Date.Before(current[j].Date) })

	res, err := domain.ClassifyCorridor(current, s.cfg.Populations, *s.cfg.Baseline, s.cfg.Corridor)
	if err != nil {
		return nil, fmt.Errorf("classify corridor: %w", err)
	}
	s.reportFaults("classify corridor", res.Faults)

	out := make([]domain.OutputEvent, 0, len(res.Days))
	for _, day := range res.Days {
		ev, err := domain.SerializeDayZone(day)
		if err != nil {
			return nil, err
		}
		s.metrics.CorridorZones.WithLabelValues(day.Zone.String()).Inc()
		if day.Zone >= domain.ZoneAlert {
			s.logger.Info("corridor alert", "date", domain.FormatDate(day.Date), "zone", day.Zone.String(), "count", day.Count)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Surveillance) reportFaults(stage string, faults []domain.RecordError) {
	for _, f := range faults {
		s.metrics.RecordFaults.WithLabelValues(domain.FaultKind(f)).Inc()
		s.logger.Warn("record fault", "stage", stage, "date", domain.FormatDate(f.Date), "ref", f.Ref, "error", f.Err)
	}
}

// Counts returns a snapshot of the retained daily counts, sorted by date.
func (s *Surveillance) Counts() []domain.HistoricalCountRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.HistoricalCountRecord, 0, len(s.counts))
	for d, n := range s.counts {
		out = append(out, domain.HistoricalCountRecord{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
