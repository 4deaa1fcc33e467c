// README: Config loader: defaults, optional YAML overlay file, then DISPATCH_* env overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type MatchingConfig struct {
	// RadiusKm is the default search radius when the caller omits one.
	RadiusKm          float64       `yaml:"radius_km"`
	LoadReportSeconds int           `yaml:"load_report_seconds"`
	ClaimTimeout      time.Duration `yaml:"claim_timeout"`
}

type PricingConfig struct {
	BaseFee           float64 `yaml:"base_fee"`
	PerKmRate         float64 `yaml:"per_km_rate"`
	MinFee            float64 `yaml:"min_fee"`
	MaxFee            float64 `yaml:"max_fee"`
	UrgentMultiplier  float64 `yaml:"urgent_multiplier"`
	NightMultiplier   float64 `yaml:"night_multiplier"`
	WeekendMultiplier float64 `yaml:"weekend_multiplier"`
	NightStartHour    int     `yaml:"night_start_hour"`
	NightEndHour      int     `yaml:"night_end_hour"`
	PlatformFeeRate   float64 `yaml:"platform_fee_rate"`
}

type TrackingConfig struct {
	EnableHighAccuracy bool          `yaml:"enable_high_accuracy"`
	Timeout            time.Duration `yaml:"timeout"`
	MaximumAge         time.Duration `yaml:"maximum_age"`
}

type Config struct {
	HTTP struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		RateLimitRPS    float64       `yaml:"rate_limit_rps"`
		RateLimitBurst  int           `yaml:"rate_limit_burst"`
	} `yaml:"http"`
	DB struct {
		DSN           string `yaml:"dsn"`
		MigrationsDir string `yaml:"migrations_dir"`
		AutoMigrate   bool   `yaml:"auto_migrate"`
	} `yaml:"db"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Matching MatchingConfig `yaml:"matching"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Tracking TrackingConfig `yaml:"tracking"`
	Firebase struct {
		DatabaseURL     string `yaml:"database_url"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"firebase"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Maps struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"maps"`
}

func DefaultPricing() PricingConfig {
	return PricingConfig{
		BaseFee:           25,
		PerKmRate:         8,
		MinFee:            35,
		MaxFee:            250,
		UrgentMultiplier:  1.5,
		NightMultiplier:   1.25,
		WeekendMultiplier: 1.15,
		NightStartHour:    20,
		NightEndHour:      6,
		PlatformFeeRate:   0.15,
	}
}

func DefaultTracking() TrackingConfig {
	return TrackingConfig{
		EnableHighAccuracy: true,
		Timeout:            10 * time.Second,
		MaximumAge:         5 * time.Second,
	}
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ShutdownTimeout = 15 * time.Second
	cfg.HTTP.RateLimitRPS = 20
	cfg.HTTP.RateLimitBurst = 40
	cfg.DB.MigrationsDir = "migrations"
	cfg.Log.Level = "info"
	cfg.Matching = MatchingConfig{RadiusKm: 10, LoadReportSeconds: 15, ClaimTimeout: 5 * time.Second}
	cfg.Pricing = DefaultPricing()
	cfg.Tracking = DefaultTracking()
	cfg.Kafka.Topic = "driver-locations"
	return cfg
}

// Load builds the config from defaults, the YAML file named by
// DISPATCH_CONFIG_FILE (if any), then environment overrides. An empty DB DSN
// or Redis address selects the in-memory implementations.
func Load() (Config, error) {
	cfg := Default()
	var errs []error

	if path := os.Getenv("DISPATCH_CONFIG_FILE"); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTP.Addr, "DISPATCH_HTTP_ADDR")
	setDurationFromEnv(&cfg.HTTP.ShutdownTimeout, "DISPATCH_HTTP_SHUTDOWN_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.HTTP.RateLimitRPS, "DISPATCH_RATE_LIMIT_RPS", &errs)
	setIntFromEnv(&cfg.HTTP.RateLimitBurst, "DISPATCH_RATE_LIMIT_BURST", &errs)

	setStringFromEnv(&cfg.DB.DSN, "DISPATCH_DB_DSN")
	setStringFromEnv(&cfg.DB.MigrationsDir, "DISPATCH_MIGRATIONS_DIR")
	setBoolFromEnv(&cfg.DB.AutoMigrate, "DISPATCH_AUTO_MIGRATE", &errs)
	setStringFromEnv(&cfg.Redis.Addr, "DISPATCH_REDIS_ADDR")
	setStringFromEnv(&cfg.Log.Level, "DISPATCH_LOG_LEVEL")

	setFloatFromEnv(&cfg.Matching.RadiusKm, "DISPATCH_MATCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.Matching.LoadReportSeconds, "DISPATCH_LOAD_REPORT_SECONDS", &errs)
	setDurationFromEnv(&cfg.Matching.ClaimTimeout, "DISPATCH_CLAIM_TIMEOUT", &errs)

	setFloatFromEnv(&cfg.Pricing.BaseFee, "DISPATCH_PRICING_BASE_FEE", &errs)
	setFloatFromEnv(&cfg.Pricing.PerKmRate, "DISPATCH_PRICING_PER_KM", &errs)
	setFloatFromEnv(&cfg.Pricing.MinFee, "DISPATCH_PRICING_MIN_FEE", &errs)
	setFloatFromEnv(&cfg.Pricing.MaxFee, "DISPATCH_PRICING_MAX_FEE", &errs)

	setBoolFromEnv(&cfg.Tracking.EnableHighAccuracy, "DISPATCH_TRACKING_HIGH_ACCURACY", &errs)
	setDurationFromEnv(&cfg.Tracking.Timeout, "DISPATCH_TRACKING_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.Tracking.MaximumAge, "DISPATCH_TRACKING_MAX_AGE", &errs)

	setStringFromEnv(&cfg.Firebase.DatabaseURL, "DISPATCH_FIREBASE_DATABASE_URL")
	setStringFromEnv(&cfg.Firebase.CredentialsFile, "DISPATCH_FIREBASE_CREDENTIALS_FILE")
	if brokers := os.Getenv("DISPATCH_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.Kafka.Topic, "DISPATCH_KAFKA_TOPIC")
	setStringFromEnv(&cfg.Maps.APIKey, "DISPATCH_MAPS_API_KEY")

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() []error {
	var errs []error
	p := c.Pricing
	if p.MinFee < 0 || p.MaxFee < p.MinFee {
		errs = append(errs, fmt.Errorf("pricing: need 0 <= min_fee <= max_fee, got %v..%v", p.MinFee, p.MaxFee))
	}
	if p.PlatformFeeRate < 0 || p.PlatformFeeRate > 1 {
		errs = append(errs, fmt.Errorf("pricing: platform_fee_rate must be within [0,1], got %v", p.PlatformFeeRate))
	}
	if p.NightStartHour < 0 || p.NightStartHour > 23 || p.NightEndHour < 0 || p.NightEndHour > 23 {
		errs = append(errs, fmt.Errorf("pricing: night hours must be within [0,23]"))
	}
	if c.Matching.RadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("matching: radius_km must be > 0"))
	}
	if c.Matching.LoadReportSeconds <= 0 {
		errs = append(errs, fmt.Errorf("matching: load_report_seconds must be > 0"))
	}
	if c.Tracking.Timeout < 0 || c.Tracking.MaximumAge < 0 {
		errs = append(errs, fmt.Errorf("tracking: timeout and maximum_age must be >= 0"))
	}
	return errs
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = n
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
