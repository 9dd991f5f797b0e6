package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults for the OpenAlex robotics concept query.
const (
	DefaultBaseURL       = "https://api.openalex.org"
	DefaultConceptID     = "C18903297" // Robotics
	DefaultBackfillStart = "2018-01-01"
	DefaultPerPage       = 200
	DefaultRateLimit     = 10.0
	DefaultTimeout       = 60 * time.Second
	DefaultMaxAttempts   = 5
	DefaultBaseDelay     = time.Second
	DefaultMaxDelay      = 30 * time.Second
)

// Config is the pipeline configuration, stored as YAML.
type Config struct {
	DataDir  string         `yaml:"data_dir" validate:"required"`
	OpenAlex OpenAlexConfig `yaml:"openalex"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// OpenAlexConfig configures the upstream works API client.
type OpenAlexConfig struct {
	BaseURL   string  `yaml:"base_url" validate:"required,url"`
	Mailto    string  `yaml:"mailto,omitempty" validate:"omitempty,email"`
	ConceptID string  `yaml:"concept_id" validate:"required"`
	PerPage   int     `yaml:"per_page" validate:"min=1,max=200"`
	RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`

	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`

	// ResolveInstitutions looks up geo for institutions that arrive without it.
	ResolveInstitutions bool `yaml:"resolve_institutions"`
}

// IngestConfig configures the fetch window.
type IngestConfig struct {
	// BackfillFrom is the fixed historical start date of a first run.
	BackfillFrom string `yaml:"backfill_from" validate:"required,isodate"`
	// Until is the inclusive end date; empty means today (UTC).
	Until string `yaml:"until,omitempty" validate:"omitempty,isodate"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	// Textfile is written after every run when set.
	Textfile string `yaml:"textfile,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir: "data",
		OpenAlex: OpenAlexConfig{
			BaseURL:             DefaultBaseURL,
			ConceptID:           DefaultConceptID,
			PerPage:             DefaultPerPage,
			RateLimit:           DefaultRateLimit,
			Timeout:             DefaultTimeout,
			MaxAttempts:         DefaultMaxAttempts,
			BaseDelay:           DefaultBaseDelay,
			MaxDelay:            DefaultMaxDelay,
			ResolveInstitutions: true,
		},
		Ingest: IngestConfig{
			BackfillFrom: DefaultBackfillStart,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the configuration file at path on top of the defaults, then
// applies environment overrides and validates the result.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.DataDir = ExpandPath(cfg.DataDir)
	if cfg.Metrics.Textfile != "" {
		cfg.Metrics.Textfile = ExpandPath(cfg.Metrics.Textfile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("RMAP_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RMAP_MAILTO"); v != "" {
		c.OpenAlex.Mailto = v
	}
	if v := os.Getenv("OPENALEX_BASE_URL"); v != "" {
		c.OpenAlex.BaseURL = v
	}
	if v := os.Getenv("RMAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := civil.ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// BackfillStart returns the parsed historical start date.
func (c *Config) BackfillStart() civil.Date {
	d, _ := civil.ParseDate(c.Ingest.BackfillFrom)
	return d
}

// UntilDate returns the inclusive end of the fetch window, defaulting to
// today's date in UTC.
func (c *Config) UntilDate(now time.Time) civil.Date {
	if c.Ingest.Until != "" {
		if d, err := civil.ParseDate(c.Ingest.Until); err == nil {
			return d
		}
	}
	return civil.DateOf(now.UTC())
}
