// Package config loads process configuration from defaults, an optional
// YAML file, a .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Log      Log      `yaml:"log"`
	Geocoder Geocoder `yaml:"geocoder"`
	Routing  Routing  `yaml:"routing"`
	OSRM     OSRM     `yaml:"osrm"`
	Blob     Blob     `yaml:"blob"`
	OCR      OCR      `yaml:"ocr"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Database struct {
	URL     string `yaml:"url"` // empty selects the in-memory store
	Migrate bool   `yaml:"migrate"`
}

type Redis struct {
	URL        string        `yaml:"url"`
	GeocodeTTL time.Duration `yaml:"geocode_ttl"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type ViewBox struct {
	South float64 `yaml:"south"`
	West  float64 `yaml:"west"`
	North float64 `yaml:"north"`
	East  float64 `yaml:"east"`
}

type Geocoder struct {
	URL               string        `yaml:"url"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	City              string        `yaml:"city"`
	CountryCodes      string        `yaml:"country_codes"`
	ViewBox           ViewBox       `yaml:"viewbox"`
	FallbackAddress   string        `yaml:"fallback_address"`
}

type Routing struct {
	DepotAddress  string        `yaml:"depot_address"`
	TimeBudget    time.Duration `yaml:"time_budget"`
	MaxIterations int           `yaml:"max_iterations"`
	Workers       int           `yaml:"workers"`
}

type OSRM struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Blob struct {
	Bucket    string `yaml:"bucket"` // set to use S3; otherwise LocalDir
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PublicURL string `yaml:"public_url"`
	LocalDir  string `yaml:"local_dir"`
}

type OCR struct {
	Languages string `yaml:"languages"`
}

func Default() Config {
	return Config{
		HTTP:     HTTP{Addr: ":8080", MaxUploadBytes: 20 << 20, ShutdownTimeout: 10 * time.Second},
		Database: Database{Migrate: true},
		Redis:    Redis{GeocodeTTL: 7 * 24 * time.Hour},
		Log:      Log{Level: "info", Format: "json"},
		Geocoder: Geocoder{
			URL:               "https://nominatim.openstreetmap.org",
			UserAgent:         "granix-delivery/1.0",
			RequestsPerSecond: 1,
			Timeout:           10 * time.Second,
			City:              "Rosario",
			CountryCodes:      "ar",
			ViewBox:           ViewBox{South: -33.016, West: -60.75, North: -32.85, East: -60.6},
		},
		Routing: Routing{
			DepotAddress: "Mendoza 8895, Rosario, Santa Fe, Argentina",
			TimeBudget:   5 * time.Second,
			Workers:      4,
		},
		OSRM: OSRM{URL: "http://router.project-osrm.org", Timeout: 15 * time.Second},
		Blob: Blob{Region: "us-east-1", LocalDir: "data/blobs"},
		OCR:  OCR{Languages: "spa+eng"},
	}
}

// Load builds the configuration. path may be empty; GRANIX_CONFIG is used
// then. Missing .env files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("GRANIX_CONFIG")
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		cfg.HTTP.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	str("DATABASE_URL", &cfg.Database.URL)
	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DB_MIGRATE: %w", err))
		} else {
			cfg.Database.Migrate = b
		}
	}
	str("REDIS_URL", &cfg.Redis.URL)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("DEPOT_ADDRESS", &cfg.Routing.DepotAddress)
	dur("SOLVER_TIME_BUDGET", &cfg.Routing.TimeBudget)
	str("NOMINATIM_URL", &cfg.Geocoder.URL)
	str("NOMINATIM_USER_AGENT", &cfg.Geocoder.UserAgent)
	str("GEOCODE_FALLBACK_ADDRESS", &cfg.Geocoder.FallbackAddress)
	str("OSRM_URL", &cfg.OSRM.URL)
	str("BLOB_BUCKET", &cfg.Blob.Bucket)
	str("BLOB_REGION", &cfg.Blob.Region)
	str("BLOB_ENDPOINT", &cfg.Blob.Endpoint)
	str("BLOB_ACCESS_KEY", &cfg.Blob.AccessKey)
	str("BLOB_SECRET_KEY", &cfg.Blob.SecretKey)
	str("BLOB_LOCAL_DIR", &cfg.Blob.LocalDir)
	str("OCR_LANGUAGES", &cfg.OCR.Languages)
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.Routing.TimeBudget <= 0 {
		errs = append(errs, errors.New("routing.time_budget must be positive"))
	}
	if c.Geocoder.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("geocoder.requests_per_second must be positive"))
	}
	if strings.TrimSpace(c.Routing.DepotAddress) == "" {
		errs = append(errs, errors.New("routing.depot_address is required"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	if c.Blob.Bucket == "" && c.Blob.LocalDir == "" {
		errs = append(errs, errors.New("blob: bucket or local_dir is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
