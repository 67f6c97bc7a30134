package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration: server settings from the environment
// plus the engine tuning loaded from an optional YAML file.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	CORSOrigins []string
	LogLevel    string
	LogPretty   bool
	EnginePath  string
	Engine      Engine
}

type Engine struct {
	Matching       MatchingConfig       `yaml:"matching"`
	Classification ClassificationConfig `yaml:"classification"`
	Patterns       PatternsConfig       `yaml:"patterns"`
	Sync           SyncConfig           `yaml:"sync"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Bulk           BulkConfig           `yaml:"bulk"`
}

type MatchingConfig struct {
	DateWindowDays     int     `yaml:"date_window_days"`
	AmountTolerancePct float64 `yaml:"amount_tolerance_pct"`
	AmountWeight       float64 `yaml:"amount_weight"`
	DateWeight         float64 `yaml:"date_weight"`
	CounterpartyWeight float64 `yaml:"counterparty_weight"`
	MinScore           float64 `yaml:"min_score"`
	DefaultLimit       int     `yaml:"default_limit"`
}

type ClassificationConfig struct {
	DefaultTopN        int           `yaml:"default_top_n"`
	AutoApplyThreshold float64       `yaml:"auto_apply_threshold"`
	ReviewThreshold    float64       `yaml:"review_threshold"`
	HistoryLimit       int           `yaml:"history_limit"`
	Rules              []KeywordRule `yaml:"rules"`
}

// KeywordRule attaches extra payment-purpose keywords to a category by code.
type KeywordRule struct {
	CategoryCode string   `yaml:"category_code"`
	Keywords     []string `yaml:"keywords"`
}

type PatternsConfig struct {
	MinOccurrences          int `yaml:"min_occurrences"`
	AmountSignificantDigits int `yaml:"amount_significant_digits"`
	PeriodToleranceDays     int `yaml:"period_tolerance_days"`
}

type SyncConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
}

type SchedulerConfig struct {
	SuggestionRefreshSchedule string `yaml:"suggestion_refresh_schedule"`
	TimeZone                  string `yaml:"timezone"`
	BatchSize                 int    `yaml:"batch_size"`
}

type BulkConfig struct {
	Workers int `yaml:"workers"`
	MaxIDs  int `yaml:"max_ids"`
}

// DefaultEngine returns the tuning used when no engine file is configured.
func DefaultEngine() Engine {
	return Engine{
		Matching: MatchingConfig{
			DateWindowDays:     30,
			AmountTolerancePct: 5,
			AmountWeight:       0.5,
			DateWeight:         0.3,
			CounterpartyWeight: 0.2,
			MinScore:           40,
			DefaultLimit:       5,
		},
		Classification: ClassificationConfig{
			DefaultTopN:        3,
			AutoApplyThreshold: 0.9,
			ReviewThreshold:    0.6,
			HistoryLimit:       2000,
		},
		Patterns: PatternsConfig{
			MinOccurrences:          3,
			AmountSignificantDigits: 2,
			PeriodToleranceDays:     5,
		},
		Sync: SyncConfig{
			DefaultTimeout: 10 * time.Minute,
			MaxTimeout:     time.Hour,
		},
		Scheduler: SchedulerConfig{
			TimeZone:  "UTC",
			BatchSize: 500,
		},
		Bulk: BulkConfig{
			Workers: 4,
			MaxIDs:  1000,
		},
	}
}

// Load reads .env (if present) and the environment, then the engine file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		EnginePath:  os.Getenv("ENGINE_CONFIG"),
		Engine:      DefaultEngine(),
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parsing LOG_PRETTY %q: %w", v, err)
		}
		cfg.LogPretty = pretty
	}

	if cfg.EnginePath != "" {
		engine, err := LoadEngine(cfg.EnginePath)
		if err != nil {
			return nil, err
		}
		cfg.Engine = *engine
	}
	return cfg, nil
}

// LoadEngine reads an engine YAML file on top of DefaultEngine, so a file
// only needs to name the values it overrides.
func LoadEngine(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading engine config: %w", err)
	}
	return ParseEngine(data)
}

func ParseEngine(data []byte) (*Engine, error) {
	engine := DefaultEngine()
	if err := yaml.Unmarshal(data, &engine); err != nil {
		return nil, fmt.Errorf("parsing engine config: %w", err)
	}
	if err := engine.Validate(); err != nil {
		return nil, err
	}
	return &engine, nil
}

func (e Engine) Validate() error {
	m := e.Matching
	if m.DateWindowDays <= 0 {
		return fmt.Errorf("matching.date_window_days must be positive")
	}
	if m.AmountTolerancePct < 0 {
		return fmt.Errorf("matching.amount_tolerance_pct must not be negative")
	}
	if m.AmountWeight < 0 || m.DateWeight < 0 || m.CounterpartyWeight < 0 {
		return fmt.Errorf("matching weights must not be negative")
	}
	if m.AmountWeight+m.DateWeight+m.CounterpartyWeight == 0 {
		return fmt.Errorf("matching weights must not all be zero")
	}
	if m.MinScore < 0 || m.MinScore > 100 {
		return fmt.Errorf("matching.min_score must be within [0,100]")
	}
	c := e.Classification
	if c.AutoApplyThreshold < 0 || c.AutoApplyThreshold > 1 || c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("classification thresholds must be within [0,1]")
	}
	if c.ReviewThreshold > c.AutoApplyThreshold {
		return fmt.Errorf("classification.review_threshold must not exceed auto_apply_threshold")
	}
	if e.Patterns.MinOccurrences < 2 {
		return fmt.Errorf("patterns.min_occurrences must be at least 2")
	}
	if e.Sync.DefaultTimeout <= 0 || e.Sync.MaxTimeout < e.Sync.DefaultTimeout {
		return fmt.Errorf("sync timeouts must be positive and max_timeout >= default_timeout")
	}
	if e.Bulk.Workers <= 0 || e.Bulk.MaxIDs <= 0 {
		return fmt.Errorf("bulk.workers and bulk.max_ids must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
