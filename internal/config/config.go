// Package config loads Kestrel configuration from defaults, an optional
// YAML file, a .env file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/advisor"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fusion"
)

// EnvPrefix prefixes every environment override, e.g. KESTREL_SERVER_PORT.
const EnvPrefix = "KESTREL"

// Profiles selectable with KESTREL_PROFILE or --profile.
const (
	ProfileDefault = "default"
	ProfileCluster = "cluster"
)

// secrets are read only from the environment, never from files.
type secrets struct {
	AdvisorToken     string `env:"KESTREL_ADVISOR_TOKEN"`
	HFToken          string `env:"HF_API_TOKEN"`
	PostgresPassword string `env:"KESTREL_POSTGRES_PASSWORD"`
	RedisPassword    string `env:"KESTREL_REDIS_PASSWORD"`
	NATSToken        string `env:"KESTREL_NATS_TOKEN"`
}

// Options controls Load.
type Options struct {
	// File is an explicit YAML config path. Empty searches ./kestrel.yaml.
	File string
	// Profile picks the base defaults: "default" or "cluster".
	Profile string
	// DotEnv is a .env path; empty means ".env". A missing file is ignored.
	DotEnv string
}

// Load builds the configuration. Later sources win: profile defaults,
// YAML file, environment, secrets.
func Load(opts Options) (*domain.Config, error) {
	dotenv := opts.DotEnv
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", dotenv, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	profile := opts.Profile
	if profile == "" {
		profile = v.GetString("profile")
	}
	base, err := profileDefaults(profile)
	if err != nil {
		return nil, err
	}
	setDefaults(v, "", reflect.ValueOf(base).Elem())

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	} else {
		v.SetConfigName("kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	var s secrets
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applySecrets(cfg, s)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func profileDefaults(name string) (*domain.Config, error) {
	switch strings.ToLower(name) {
	case "", ProfileDefault:
		return domain.DefaultConfig(), nil
	case ProfileCluster:
		return domain.ClusterConfig(), nil
	default:
		return nil, fmt.Errorf("unknown config profile %q", name)
	}
}

// setDefaults registers every leaf of v under its mapstructure key so
// that AutomaticEnv can override nested fields.
func setDefaults(vp *viper.Viper, prefix string, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Slice {
			// Lists only come from the config file.
			continue
		}
		if fv.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			setDefaults(vp, key, fv)
			continue
		}
		vp.SetDefault(key, fv.Interface())
	}
}

func applySecrets(cfg *domain.Config, s secrets) {
	switch {
	case s.AdvisorToken != "":
		cfg.Advisor.Token = s.AdvisorToken
	case s.HFToken != "" && cfg.Advisor.Token == "":
		cfg.Advisor.Token = s.HFToken
	}
	if s.PostgresPassword != "" {
		cfg.Repository.PostgresPassword = s.PostgresPassword
	}
	if s.RedisPassword != "" {
		cfg.Lock.RedisPassword = s.RedisPassword
	}
	if s.NATSToken != "" {
		cfg.EventBus.NATSToken = s.NATSToken
	}
}

// Validate rejects configurations that cannot start.
func Validate(cfg *domain.Config) error {
	var errs []error

	if _, err := fusion.ParsePolicy(cfg.Fusion.Policy); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}

	enums := []struct {
		key   string
		value string
		allow []string
	}{
		{"feedback.driver", cfg.Feedback.Driver, []string{"csv", "sql"}},
		{"repository.driver", cfg.Repository.Driver, []string{"sqlite", "postgres"}},
		{"lock.type", cfg.Lock.Type, []string{"memory", "redis"}},
		{"event_bus.type", cfg.EventBus.Type, []string{"channel", "nats"}},
	}
	for _, e := range enums {
		if !contains(e.allow, e.value) {
			errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", e.key, strings.Join(e.allow, ", "), e.value))
		}
	}

	if cfg.Artifacts.Root == "" {
		errs = append(errs, errors.New("artifacts.root is required"))
	}
	if cfg.Feedback.Driver == "csv" && cfg.Feedback.Dir == "" {
		errs = append(errs, errors.New("feedback.dir is required for the csv driver"))
	}
	if f := cfg.Training.TestFraction; f < 0 || f >= 1 {
		errs = append(errs, fmt.Errorf("training.test_fraction %v must be in [0, 1)", f))
	}
	if _, err := advisor.NewFallbackTable(cfg.Advisor.FallbackRules); err != nil {
		errs = append(errs, fmt.Errorf("advisor.fallback_rules: %w", err))
	}

	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
