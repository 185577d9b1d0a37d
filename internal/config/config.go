// Package config loads mallmatch settings from an optional YAML file and
// MALLMATCH_* environment variables.
package config

import (
	"time"
)

// Config is the full runtime configuration
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Data        DataConfig        `mapstructure:"data"`
	Match       MatchConfig       `mapstructure:"match"`
	Filter      FilterConfig      `mapstructure:"filter"`
	Cluster     ClusterConfig     `mapstructure:"cluster"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Adjudicator AdjudicatorConfig `mapstructure:"adjudicator"`
	Retry       RetryConfig       `mapstructure:"retry"`
	POI         POIConfig         `mapstructure:"poi"`
	Server      ServerConfig      `mapstructure:"server"`
	Audit       AuditConfig       `mapstructure:"audit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DatabaseConfig points at postgres. An empty URL falls back to the PG* variables.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DataConfig selects where the catalog lives: csv files or postgres
type DataConfig struct {
	Source string `mapstructure:"source"`
	Stores string `mapstructure:"stores"`
	Malls  string `mapstructure:"malls"`
	Review string `mapstructure:"review"`
	Labels string `mapstructure:"labels"`
}

// MatchConfig holds the scoring thresholds and engine settings
type MatchConfig struct {
	MaxDistanceKm    float64 `mapstructure:"max_distance_km"`
	HighDistanceKm   float64 `mapstructure:"high_distance_km"`
	HighSimilarity   float64 `mapstructure:"high_similarity"`
	MediumDistanceKm float64 `mapstructure:"medium_distance_km"`
	MediumSimilarity float64 `mapstructure:"medium_similarity"`

	CityBonus     float64 `mapstructure:"city_bonus"`
	DistrictBonus float64 `mapstructure:"district_bonus"`
	NameWeight    float64 `mapstructure:"name_weight"`

	Neighbors   int    `mapstructure:"neighbors"`
	Workers     int    `mapstructure:"workers"`
	WidenSearch bool   `mapstructure:"widen_search"`
	Reassign    bool   `mapstructure:"reassign"`
	IDPrefix    string `mapstructure:"id_prefix"`

	MinAdjudicatorConfidence string `mapstructure:"min_adjudicator_confidence"`
}

type FilterConfig struct {
	AllowCategories  []string `mapstructure:"allow_categories"`
	DenyCategories   []string `mapstructure:"deny_categories"`
	DenyNameKeywords []string `mapstructure:"deny_name_keywords"`
}

type ClusterConfig struct {
	DistanceKm     float64 `mapstructure:"distance_km"`
	NameSimilarity float64 `mapstructure:"name_similarity"`
}

// CacheConfig selects the decision cache backend: memory, file or redis
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Path          string        `mapstructure:"path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// AdjudicatorConfig selects how queued stores are decided: console, llm or policy
type AdjudicatorConfig struct {
	Mode          string        `mapstructure:"mode"`
	Reviewer      string        `mapstructure:"reviewer"`
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	MaxCandidates int           `mapstructure:"max_candidates"`
	Timeout       time.Duration `mapstructure:"timeout"`

	PolicyMaxDistanceKm float64 `mapstructure:"policy_max_distance_km"`
	PolicyMinSimilarity float64 `mapstructure:"policy_min_similarity"`
	PolicyIncludeLow    bool    `mapstructure:"policy_include_low"`
}

type RetryConfig struct {
	Attempts        int           `mapstructure:"attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
}

type POIConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Key           string        `mapstructure:"key"`
	PerPage       int           `mapstructure:"per_page"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxStores     int           `mapstructure:"max_stores"`
	RadiusKm      float64       `mapstructure:"radius_km"`
	MinSimilarity float64       `mapstructure:"min_similarity"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
