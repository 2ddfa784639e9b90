package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	envPrefix = "SWITCHYARD"

	defaultRequestTimeout = 30 * time.Second
)

// Load reads the configuration from the first switchyard.yml found in the
// search path (or the file named by SWITCHYARD_CONFIG), applies environment
// overrides, and fills defaults. A missing config file is not an error; the
// defaults describe a runnable single-instance engine.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigName("switchyard")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./conf")
	v.AddConfigPath("/etc/switchyard")

	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "conf"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := mergo.Merge(&cfg, defaults()); err != nil {
		return Config{}, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	return cfg, nil
}

// defaults covers the fields that must hold before any service-level
// defaulting runs. Service configs fill their own zero fields.
func defaults() Config {
	var cfg Config

	cfg.Log.Name = "switchyard"
	cfg.Log.Level = "info"
	cfg.Log.Encoding = "console"
	cfg.Log.Outputs = []string{"stdout"}

	cfg.APIServer.Name = "switchyard"
	cfg.APIServer.Host = "0.0.0.0"
	cfg.APIServer.Port = 8090
	cfg.APIServer.RequestTimeout = defaultRequestTimeout

	cfg.DB.Dialect = "sqlite"
	cfg.DB.DSN = "switchyard.db"

	return cfg
}
