// Package config loads the myrtle CLI configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names, e.g. MYRTLE_LOG_LEVEL.
const EnvPrefix = "MYRTLE"

type Config struct {
	// Logging configuration
	LogLevel string
	Console  bool

	// Tracing configuration
	TracingEndpoint string
	TracingInsecure bool

	// Metrics prints gathered metric families after a run
	Metrics bool
}

var configKeys = []string{
	"log-level",
	"console",
	"tracing-endpoint",
	"tracing-insecure",
	"metrics",
}

// New creates a new Config with default values
func New() *Config {
	return &Config{
		LogLevel: "info",
		Console:  false,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %v", c.LogLevel, err)
	}
	if c.TracingInsecure && c.TracingEndpoint == "" {
		return fmt.Errorf("tracing-insecure requires a tracing endpoint")
	}
	return nil
}

// InitializeLogging sets up the logging configuration
func (c *Config) InitializeLogging() {
	level, _ := zerolog.ParseLevel(c.LogLevel)
	zerolog.SetGlobalLevel(level)

	if c.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z",
		})
	}
}

// InitViper binds the configuration keys to MYRTLE_* environment variables
// and, when cfgFile is set, points viper at it.
func InitViper(cfgFile string) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, key := range configKeys {
		if err := viper.BindEnv(key); err != nil {
			log.Error().Err(err).Msgf("Failed to bind environment variable for key: %s", key)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// LoadConfig loads the configuration from viper
func LoadConfig(cfgFile string) (*Config, error) {
	config := New()

	InitViper(cfgFile)

	if cfgFile != "" {
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("error parsing config: %v", err)
			}
			return nil, fmt.Errorf("error reading config file: %v", err)
		}
		log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Using config file")

		for _, key := range []string{"log-level", "tracing-endpoint"} {
			if viper.IsSet(key) {
				if _, ok := viper.Get(key).(string); !ok {
					return nil, fmt.Errorf("error unmarshaling config: %s must be a string", key)
				}
			}
		}
		for _, key := range []string{"console", "tracing-insecure", "metrics"} {
			if err := checkBool(key); err != nil {
				return nil, err
			}
		}
	}

	if viper.IsSet("log-level") {
		config.LogLevel = viper.GetString("log-level")
	}
	if viper.IsSet("console") {
		config.Console = viper.GetBool("console")
	}
	if viper.IsSet("tracing-endpoint") {
		config.TracingEndpoint = viper.GetString("tracing-endpoint")
	}
	if viper.IsSet("tracing-insecure") {
		config.TracingInsecure = viper.GetBool("tracing-insecure")
	}
	if viper.IsSet("metrics") {
		config.Metrics = viper.GetBool("metrics")
	}

	return config, nil
}

func checkBool(key string) error {
	if !viper.IsSet(key) {
		return nil
	}
	switch v := viper.Get(key).(type) {
	case bool:
		return nil
	case string:
		if _, err := strconv.ParseBool(v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("error unmarshaling config: %s must be a boolean", key)
}
