package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platewise/platewise/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Rate prices one (provider, service) pair. Token rates are USD per
// million tokens; PerCallUSD prices flat-rate services per unit.
type Rate struct {
	Provider         string  `mapstructure:"provider"`
	Service          string  `mapstructure:"service"`
	InputPerMillion  float64 `mapstructure:"inputPerMillion"`
	OutputPerMillion float64 `mapstructure:"outputPerMillion"`
	PerCallUSD       float64 `mapstructure:"perCallUsd"`
}

// RateVersion is one dated revision of the rate table. The version whose
// EffectiveFrom is the latest instant at or before the event time applies.
type RateVersion struct {
	Version       string    `mapstructure:"version"`
	EffectiveFrom time.Time `mapstructure:"effectiveFrom"`
	Rates         []Rate    `mapstructure:"rates"`
}

// RateTable holds every revision, ordered by EffectiveFrom ascending.
type RateTable struct {
	Versions []RateVersion `mapstructure:"versions"`
}

// DefaultRateTable returns the built-in provider rates.
func DefaultRateTable() RateTable {
	return RateTable{
		Versions: []RateVersion{
			{
				Version:       "2025-06",
				EffectiveFrom: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
				Rates: []Rate{
					{Provider: "openai", Service: "openai_scan_vision", InputPerMillion: 2.50, OutputPerMillion: 10.00},
					{Provider: "openai", Service: "openai_coach_chat", InputPerMillion: 0.15, OutputPerMillion: 0.60},
					{Provider: "openai", Service: "openai_meal_suggest", InputPerMillion: 0.15, OutputPerMillion: 0.60},
					{Provider: "google", Service: "google_places_searchNearby", PerCallUSD: 0.032},
					{Provider: "google", Service: "google_places_details", PerCallUSD: 0.017},
					{Provider: "google", Service: "google_geocode", PerCallUSD: 0.005},
				},
			},
			{
				Version:       "2025-09",
				EffectiveFrom: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
				Rates: []Rate{
					{Provider: "openai", Service: "openai_scan_vision", InputPerMillion: 2.00, OutputPerMillion: 8.00},
					{Provider: "openai", Service: "openai_coach_chat", InputPerMillion: 0.15, OutputPerMillion: 0.60},
					{Provider: "openai", Service: "openai_meal_suggest", InputPerMillion: 0.15, OutputPerMillion: 0.60},
					{Provider: "google", Service: "google_places_searchNearby", PerCallUSD: 0.032},
					{Provider: "google", Service: "google_places_details", PerCallUSD: 0.017},
					{Provider: "google", Service: "google_geocode", PerCallUSD: 0.005},
				},
			},
		},
	}
}

// Resolve returns the rate for a provider/service pair as of an instant.
// The boolean reports whether a rate exists; callers treat a missing rate
// as a pricing gap, not an error.
func (t RateTable) Resolve(provider, service string, at time.Time) (Rate, string, bool) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	service = strings.TrimSpace(service)

	var selected *RateVersion
	for i := range t.Versions {
		v := &t.Versions[i]
		if v.EffectiveFrom.After(at) {
			break
		}
		selected = v
	}
	if selected == nil && len(t.Versions) > 0 {
		// Events predating every version fall back to the oldest one.
		selected = &t.Versions[0]
	}
	if selected == nil {
		return Rate{}, "", false
	}

	for _, rate := range selected.Rates {
		if strings.ToLower(rate.Provider) == provider && rate.Service == service {
			return rate, selected.Version, true
		}
	}
	return Rate{}, selected.Version, false
}

// RateTableHolder serves the current rate table and hot-reloads it when
// the backing file changes.
type RateTableHolder struct {
	current atomic.Value // holds RateTable
}

// NewRateTableHolder loads the rate table from PRICING_FILE or a
// pricing.yml on the search path, falling back to the built-in defaults.
func NewRateTableHolder(cfg config.Config, log *zap.Logger) (*RateTableHolder, error) {
	v := viper.New()

	if cfg.PricingFile != "" {
		v.SetConfigFile(cfg.PricingFile)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/platewise/config")
		v.AddConfigPath("/etc/platewise")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PLATEWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &RateTableHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		table := normalizeRateTable(DefaultRateTable())
		if err := validateRateTable(table); err != nil {
			return nil, err
		}
		holder.current.Store(table)
		return holder, nil
	}

	var table RateTable
	if err := v.UnmarshalKey("pricing", &table); err != nil {
		return nil, err
	}
	table = normalizeRateTable(table)
	if err := validateRateTable(table); err != nil {
		return nil, err
	}
	holder.current.Store(table)

	reloadLog := log.Named("pricing")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RateTable
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			reloadLog.Warn("rate table reload failed", zap.Error(err))
			return
		}
		updated = normalizeRateTable(updated)
		if err := validateRateTable(updated); err != nil {
			reloadLog.Warn("invalid rate table ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		reloadLog.Info("rate table reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticRateTableHolder wraps a fixed table, mainly for tests.
func NewStaticRateTableHolder(table RateTable) (*RateTableHolder, error) {
	table = normalizeRateTable(table)
	if err := validateRateTable(table); err != nil {
		return nil, err
	}
	holder := &RateTableHolder{}
	holder.current.Store(table)
	return holder, nil
}

// Get returns the current rate table.
func (h *RateTableHolder) Get() RateTable {
	return h.current.Load().(RateTable)
}

func normalizeRateTable(table RateTable) RateTable {
	sort.SliceStable(table.Versions, func(i, j int) bool {
		return table.Versions[i].EffectiveFrom.Before(table.Versions[j].EffectiveFrom)
	})
	return table
}

func validateRateTable(table RateTable) error {
	if len(table.Versions) == 0 {
		return errors.New("pricing.versions cannot be empty")
	}
	for _, version := range table.Versions {
		if strings.TrimSpace(version.Version) == "" {
			return errors.New("pricing version label cannot be empty")
		}
		if version.EffectiveFrom.IsZero() {
			return fmt.Errorf("pricing version %s has no effectiveFrom", version.Version)
		}
		for _, rate := range version.Rates {
			if strings.TrimSpace(rate.Provider) == "" || strings.TrimSpace(rate.Service) == "" {
				return fmt.Errorf("pricing version %s has a rate without provider/service", version.Version)
			}
			if rate.InputPerMillion < 0 || rate.OutputPerMillion < 0 || rate.PerCallUSD < 0 {
				return fmt.Errorf("pricing version %s has a negative rate for %s/%s", version.Version, rate.Provider, rate.Service)
			}
		}
	}
	return nil
}
