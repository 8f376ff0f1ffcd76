// Package config loads the DeepMRM settings from config.yml, a .env file and
// DEEPMRM_* environment variables, and sets up logging.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config file is given
const DefaultFile = "config.yml"

// EnvPrefix is the prefix of all environment variables
const EnvPrefix = "DEEPMRM_"

// Config holds all settings of a prediction run
type Config struct {
	ModelDir  string `yaml:"model_dir" validate:"required"`
	OutputDir string `yaml:"output_dir" validate:"required"`
	DB        string `yaml:"db"`

	ScoreThresh   float64 `yaml:"score_thresh" validate:"gte=0,lte=1"`
	NMSThresh     float64 `yaml:"nms_thresh" validate:"gte=0,lte=1"`
	QualityThresh float64 `yaml:"quality_thresh" validate:"gte=0,lte=1"`
	Device        string  `yaml:"device" validate:"required"`

	Tolerance     float64 `yaml:"tolerance" validate:"gt=0"`
	ToleranceUnit string  `yaml:"tolerance_unit" validate:"oneof=ppm da"`
	RTWindow      float64 `yaml:"rt_window" validate:"gte=0"`
	RTRange       string  `yaml:"rt_range"`
	Workers       int     `yaml:"workers" validate:"gte=1"`

	Length          int    `yaml:"resample_length" validate:"gte=0"`
	ForceResampling bool   `yaml:"force_resampling"`
	UseRT           bool   `yaml:"use_rt"`
	Background      string `yaml:"background" validate:"oneof=mean min"`

	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		ModelDir:      "models",
		OutputDir:     ".",
		ScoreThresh:   0.05,
		NMSThresh:     0.3,
		QualityThresh: 0.5,
		Device:        "cpu",
		Tolerance:     10,
		ToleranceUnit: "ppm",
		Workers:       1,
		Background:    "mean",
		LogLevel:      "info",
	}
}

// LoadDotEnv loads variables from a .env file into the environment, without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Load returns the defaults, overridden by the YAML file at path and then
// by DEEPMRM_* environment variables. With an empty path, config.yml is
// read if it exists. The result is not validated, so that command line
// flags can be applied first.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, err
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("MODEL_DIR", &c.ModelDir)
	str("OUTPUT_DIR", &c.OutputDir)
	str("DB", &c.DB)
	float("SCORE_THRESH", &c.ScoreThresh)
	float("NMS_THRESH", &c.NMSThresh)
	float("QUALITY_THRESH", &c.QualityThresh)
	str("DEVICE", &c.Device)
	float("TOLERANCE", &c.Tolerance)
	str("TOLERANCE_UNIT", &c.ToleranceUnit)
	float("RT_WINDOW", &c.RTWindow)
	str("RT_RANGE", &c.RTRange)
	integer("WORKERS", &c.Workers)
	integer("RESAMPLE_LENGTH", &c.Length)
	boolean("FORCE_RESAMPLING", &c.ForceResampling)
	boolean("USE_RT", &c.UseRT)
	str("BACKGROUND", &c.Background)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_JSON", &c.LogJSON)
	return errors.Join(errs...)
}

// Validate checks ranges and allowed values
func (c *Config) Validate() error {
	c.ToleranceUnit = strings.ToLower(c.ToleranceUnit)
	c.Background = strings.ToLower(c.Background)
	c.LogLevel = strings.ToLower(c.LogLevel)
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// InitLogger returns a logger writing to out at the given level, as JSON or
// as text
func InitLogger(out io.Writer, level string, json bool) (*logrus.Logger, error) {
	log := logrus.New()
	if json {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(out)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	return log, nil
}
