package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	"gopkg.in/yaml.v3"
)

// Profile is the surveillance definition: which deaths are counted, how rates are
// normalized and how wide the alert zone is.
type Profile struct {
	AgeBand            domain.AgeBand
	Region             int
	CardiovascularOnly bool
	AlertMultiplier    float64
	ExcludedSeasons    []domain.SeasonKey
	Populations        domain.PopulationMapping
	Location           *Location
}

// Location is the point daily temperatures are fetched for.
type Location struct {
	Latitude  float64
	Longitude float64
}

type profileFile struct {
	AgeBand            string         `yaml:"age_band"`
	Region             int            `yaml:"region"`
	CardiovascularOnly bool           `yaml:"cardiovascular_only"`
	AlertMultiplier    *float64       `yaml:"alert_multiplier"`
	ExcludedSeasons    []string       `yaml:"excluded_seasons"`
	Populations        map[string]int `yaml:"populations"`
	Location           *struct {
		Latitude  float64 `yaml:"latitude"`
		Longitude float64 `yaml:"longitude"`
	} `yaml:"location"`
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	if len(data) == 0 {
		return Profile{}, fmt.Errorf("read profile %s: empty file", path)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (Profile, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Profile{}, fmt.Errorf("decode: %w", err)
	}

	p := Profile{
		AgeBand:            domain.BandEightyPlus,
		Region:             f.Region,
		CardiovascularOnly: f.CardiovascularOnly,
		Populations:        make(domain.PopulationMapping, len(f.Populations)),
	}
	if f.AgeBand != "" {
		band, err := domain.ParseAgeBand(f.AgeBand)
		if err != nil {
			return Profile{}, fmt.Errorf("age_band: %w", err)
		}
		p.AgeBand = band
	}
	if f.Region < 0 {
		return Profile{}, errors.New("region must not be negative")
	}
	if f.AlertMultiplier != nil {
		p.AlertMultiplier = *f.AlertMultiplier
		if err := (domain.CorridorConfig{AlertMultiplier: p.AlertMultiplier}).Validate(); err != nil {
			return Profile{}, fmt.Errorf("alert_multiplier: %w", err)
		}
	}
	for _, s := range f.ExcludedSeasons {
		k, err := domain.ParseSeasonKey(s)
		if err != nil {
			return Profile{}, fmt.Errorf("excluded_seasons: %w", err)
		}
		p.ExcludedSeasons = append(p.ExcludedSeasons, k)
	}
	for s, n := range f.Populations {
		k, err := domain.ParseSeasonKey(s)
		if err != nil {
			return Profile{}, fmt.Errorf("populations: %w", err)
		}
		p.Populations[k] = n
	}
	if err := p.Populations.Validate(); err != nil {
		return Profile{}, fmt.Errorf("populations: %w", err)
	}
	if f.Location != nil {
		p.Location = &Location{Latitude: f.Location.Latitude, Longitude: f.Location.Longitude}
	}
	return p, nil
}

// Corridor resolves k for zone classification. A non-zero override wins over the
// profile value; with neither set the corridor cannot run.
func (p Profile) Corridor(override float64) (domain.CorridorConfig, error) {
	k := p.AlertMultiplier
	if override != 0 {
		k = override
	}
	if k == 0 {
		return domain.CorridorConfig{}, errors.New("alert multiplier not configured: set alert_multiplier in the profile or CORRIDOR_ALERT_MULTIPLIER")
	}
	cfg := domain.CorridorConfig{AlertMultiplier: k}
	if err := cfg.Validate(); err != nil {
		return domain.CorridorConfig{}, err
	}
	return cfg, nil
}

// Filter returns the aggregation filter the profile describes.
func (p Profile) Filter() domain.AggregateFilter {
	return domain.AggregateFilter{
		Band:               p.AgeBand,
		Region:             p.Region,
		CardiovascularOnly: p.CardiovascularOnly,
	}
}
