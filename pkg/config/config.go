// Package config loads server configuration from an optional YAML file
// and REPORTER_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "REPORTER"

// Config holds every tunable of the reporter server.
type Config struct {
	ListenAddr    string `mapstructure:"listen_addr"`
	DatabaseType  string `mapstructure:"database_type"`
	DatabaseDSN   string `mapstructure:"database_dsn"`
	ScreenshotDir string `mapstructure:"screenshot_dir"`

	SweepEnabled  bool          `mapstructure:"sweep_enabled"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepMinAge   time.Duration `mapstructure:"sweep_min_age"`

	CORSOrigins []string `mapstructure:"cors_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("database_type", "sqlite")
	v.SetDefault("database_dsn", "reporter.db")
	v.SetDefault("screenshot_dir", "screenshots")
	v.SetDefault("sweep_enabled", true)
	v.SetDefault("sweep_interval", time.Hour)
	v.SetDefault("sweep_min_age", 24*time.Hour)
	v.SetDefault("cors_origins", []string{"*"})
}

// Load reads configuration from configFile when given, otherwise from a
// reporter.yaml in the working directory if one exists. Environment
// variables override file values: REPORTER_LISTEN_ADDR, and so on.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("reporter")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
