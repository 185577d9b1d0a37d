package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mall-resolver/internal/match"
)

// envPrefix is the environment variable prefix for every setting
const envPrefix = "MALLMATCH"

var defaults = map[string]interface{}{
	"log.level":  "info",
	"log.pretty": true,

	"database.url":               "",
	"database.max_open_conns":    20,
	"database.max_idle_conns":    10,
	"database.conn_max_lifetime": "30m",

	"data.source": "csv",
	"data.stores": "stores.csv",
	"data.malls":  "malls.csv",
	"data.review": "review.csv",
	"data.labels": "",

	"match.max_distance_km":            3.0,
	"match.high_distance_km":           0.3,
	"match.high_similarity":            70.0,
	"match.medium_distance_km":         2.0,
	"match.medium_similarity":          50.0,
	"match.city_bonus":                 1.0,
	"match.district_bonus":             0.25,
	"match.name_weight":                2.0,
	"match.neighbors":                  5,
	"match.workers":                    0,
	"match.widen_search":               true,
	"match.reassign":                   false,
	"match.id_prefix":                  "M",
	"match.min_adjudicator_confidence": "medium",

	"filter.allow_categories":   []string{},
	"filter.deny_categories":    []string{},
	"filter.deny_name_keywords": []string{},

	"cluster.distance_km":     0.3,
	"cluster.name_similarity": 70.0,

	"cache.backend":        "file",
	"cache.path":           "decisions.json",
	"cache.redis_addr":     "localhost:6379",
	"cache.redis_password": "",
	"cache.redis_db":       0,
	"cache.key_prefix":     "mallmatch:decision:",
	"cache.ttl":            "0s",

	"adjudicator.mode":                   "console",
	"adjudicator.reviewer":               "",
	"adjudicator.endpoint":               "https://api.openai.com/v1",
	"adjudicator.api_key":                "",
	"adjudicator.model":                  "gpt-4o-mini",
	"adjudicator.max_candidates":         5,
	"adjudicator.timeout":                "30s",
	"adjudicator.policy_max_distance_km": 0.5,
	"adjudicator.policy_min_similarity":  60.0,
	"adjudicator.policy_include_low":     false,

	"retry.attempts":         3,
	"retry.initial_interval": "500ms",
	"retry.max_interval":     "10s",
	"retry.timeout":          "30s",
	"retry.rate_per_second":  2.0,
	"retry.burst":            1,

	"poi.base_url":        "https://restapi.amap.com/v3",
	"poi.key":             "",
	"poi.per_page":        20,
	"poi.rate_per_second": 3.0,
	"poi.timeout":         "10s",
	"poi.max_stores":      0,
	"poi.radius_km":       2.0,
	"poi.min_similarity":  50.0,

	"server.host":          "0.0.0.0",
	"server.port":          8080,
	"server.api_key":       "",
	"server.read_timeout":  "15s",
	"server.write_timeout": "15s",

	"audit.enabled": false,
}

// newViper builds a viper instance with every default registered, so each
// key can be overridden from the environment, e.g. MALLMATCH_MATCH_HIGH_DISTANCE_KM
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Load reads the YAML file at path when it is non-empty, applies environment
// overrides and defaults, and validates the result
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks threshold ordering and enumerated settings
func (c *Config) Validate() error {
	var errs []error

	if err := c.Tiers().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Match.Neighbors < 1 {
		errs = append(errs, fmt.Errorf("match.neighbors must be at least 1, got %d", c.Match.Neighbors))
	}
	if _, err := match.ParseTier(c.Match.MinAdjudicatorConfidence); err != nil {
		errs = append(errs, fmt.Errorf("match.min_adjudicator_confidence: %w", err))
	}
	if c.Cluster.DistanceKm <= 0 {
		errs = append(errs, fmt.Errorf("cluster.distance_km must be positive, got %g", c.Cluster.DistanceKm))
	}
	if c.Cluster.NameSimilarity < 0 || c.Cluster.NameSimilarity > 100 {
		errs = append(errs, fmt.Errorf("cluster.name_similarity must be within [0, 100], got %g", c.Cluster.NameSimilarity))
	}

	switch c.Data.Source {
	case "csv", "postgres":
	default:
		errs = append(errs, fmt.Errorf("data.source must be csv or postgres, got %q", c.Data.Source))
	}
	switch c.Cache.Backend {
	case "memory", "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory, file or redis, got %q", c.Cache.Backend))
	}
	switch c.Adjudicator.Mode {
	case "console", "llm", "policy":
	default:
		errs = append(errs, fmt.Errorf("adjudicator.mode must be console, llm or policy, got %q", c.Adjudicator.Mode))
	}

	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// Tiers returns the configured match thresholds
func (c *Config) Tiers() *match.MatchTiers {
	return &match.MatchTiers{
		MaxDistanceKm:    c.Match.MaxDistanceKm,
		HighDistanceKm:   c.Match.HighDistanceKm,
		HighSimilarity:   c.Match.HighSimilarity,
		MediumDistanceKm: c.Match.MediumDistanceKm,
		MediumSimilarity: c.Match.MediumSimilarity,
	}
}

// Weights returns the configured scoring weights
func (c *Config) Weights() *match.FeatureWeights {
	return &match.FeatureWeights{
		CityBonus:     c.Match.CityBonus,
		DistrictBonus: c.Match.DistrictBonus,
		NameWeight:    c.Match.NameWeight,
	}
}

// CategoryFilter returns the configured category filter, or nil when it is empty
func (c *Config) CategoryFilter() *match.CategoryFilter {
	f := c.Filter
	if len(f.AllowCategories) == 0 && len(f.DenyCategories) == 0 && len(f.DenyNameKeywords) == 0 {
		return nil
	}
	return &match.CategoryFilter{
		AllowCategories:  f.AllowCategories,
		DenyCategories:   f.DenyCategories,
		DenyNameKeywords: f.DenyNameKeywords,
	}
}
