// Package config loads the service configuration from defaults, an optional
// YAML file and VOXGUARD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates sections: VOXGUARD_DETECTION__WINDOW_SECONDS=10.
const EnvPrefix = "VOXGUARD_"

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/voxguard/config.yaml",
}

// Comma-separated env values for these keys become lists.
var sliceConfigPaths = []string{
	"eventbus.kafka.brokers",
}

// Load builds the configuration. Defaults come from the profile named by
// VOXGUARD_PROFILE, then the config file, then the environment.
func Load() (*domain.Config, error) {
	return load(findConfigFile())
}

func load(configPath string) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if os.Getenv(EnvPrefix+"PROFILE") == domain.ProfileCluster {
		defaults = domain.ClusterConfig()
	}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &domain.Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps VOXGUARD_EVENTBUS__KAFKA__TOPIC to eventbus.kafka.topic.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}

		var values []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}
		if err := k.Set(path, values); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the rules that span several fields.
// Every failure is a *domain.ConfigurationError.
func Validate(cfg *domain.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &domain.ConfigurationError{
				Field:  fe.Namespace(),
				Value:  fe.Value(),
				Reason: fmt.Sprintf("failed %q constraint %s", fe.Tag(), fe.Param()),
			}
		}
		return &domain.ConfigurationError{Field: "config", Reason: err.Error()}
	}

	switch {
	case cfg.Cache.Type == "redis" && cfg.Cache.RedisAddr == "":
		return &domain.ConfigurationError{Field: "cache.redis_addr", Reason: "required for the redis cache"}
	case cfg.Repository.Driver == "postgres" && cfg.Repository.PostgresHost == "":
		return &domain.ConfigurationError{Field: "repository.postgres_host", Reason: "required for postgres"}
	case cfg.Inference.Strategy == "cel" && strings.TrimSpace(cfg.Inference.Expression) == "":
		return &domain.ConfigurationError{Field: "inference.expression", Reason: "required for the cel strategy"}
	case cfg.EventBus.Kafka.Enabled && len(cfg.EventBus.Kafka.Brokers) == 0:
		return &domain.ConfigurationError{Field: "eventbus.kafka.brokers", Reason: "required when kafka is enabled"}
	case cfg.Ingest.NATSSubject != "" && !cfg.EventBus.NATS.Enabled:
		return &domain.ConfigurationError{Field: "ingest.nats_subject", Value: cfg.Ingest.NATSSubject, Reason: "requires eventbus.nats.enabled"}
	case cfg.Detection.AutoBlock && cfg.Detection.BlockHours == 0:
		return &domain.ConfigurationError{Field: "detection.block_hours", Value: 0, Reason: "must be positive when auto_block is on"}
	case cfg.Detection.StoreTimeout < 0:
		return &domain.ConfigurationError{Field: "detection.store_timeout", Value: cfg.Detection.StoreTimeout, Reason: "must not be negative"}
	}
	return nil
}
