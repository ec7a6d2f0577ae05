package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xtxerr/digirec/internal/controller"
)

// daemonConfig is everything the settings file, DIGIREC_* variables and
// flags can set.
type daemonConfig struct {
	controller.Settings `mapstructure:",squash"`

	Device   string `mapstructure:"device"`
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// flagKeys maps command line flags to settings keys.
var flagKeys = map[string]string{
	"backend":   "backend",
	"data-dir":  "data_dir",
	"log-level": "log_level",
	"log-json":  "log_json",
}

// loadSettings resolves the daemon settings. Precedence: flags, then
// environment, then the settings file, then defaults.
func loadSettings(path string, flags *pflag.FlagSet) (*daemonConfig, error) {
	v := viper.New()

	d := controller.DefaultSettings()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("command_queue", d.CommandQueue)
	v.SetDefault("display_queue", d.DisplayQueue)
	v.SetDefault("write_queue", d.WriteQueue)
	v.SetDefault("dispatch_interval", d.DispatchInterval)
	v.SetDefault("count_every_event", d.CountEveryEvent)
	v.SetDefault("writer_idle_wait", d.WriterIdleWait)
	v.SetDefault("write_retries", d.WriteRetries)
	v.SetDefault("worker_timeout", d.WorkerTimeout)
	v.SetDefault("writer_timeout", d.WriterTimeout)
	v.SetDefault("drop_log_interval", d.DropLogInterval)
	v.SetDefault("device", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetEnvPrefix("DIGIREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading settings: %w", err)
			}
		}
	}

	var cfg daemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}
	return &cfg, nil
}
