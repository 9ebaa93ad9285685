package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// newViper builds a viper instance with the search paths and env overrides
func newViper(configPath string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-sentinel/")
	v.AddConfigPath("$HOME/.pii-sentinel/")

	// Environment variable overrides, e.g. PII_SENTINEL_LOGGING_LEVEL
	v.SetEnvPrefix("PII_SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	return v
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// decode unmarshals viper state over the defaults and validates the result
func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaults()

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks struct constraints and cross-field rules
func Validate(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return err
	}

	if config.RateLimit.Burst > config.RateLimit.RequestsPerMin {
		return fmt.Errorf("ratelimit burst %d exceeds requests_per_min %d",
			config.RateLimit.Burst, config.RateLimit.RequestsPerMin)
	}

	if config.WebSocket.Enabled && (config.WebSocket.Username == "") != (config.WebSocket.Password == "") {
		return fmt.Errorf("websocket username and password must be set together")
	}

	return nil
}

// Watch re-reads the configuration file on change and hands every valid
// revision to callback. Invalid revisions are reported through onError.
func Watch(configPath string, callback func(*Config), onError func(error)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file for watching: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload of %s rejected: %w", e.Name, err))
			}
			return
		}
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
