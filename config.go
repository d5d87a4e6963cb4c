package zedstore

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the file-based configuration surface. Every field maps to a
// functional option; a config file is a convenience for deployments
// that prefer YAML over code.
type Config struct {
	PageSize    int     `mapstructure:"page_size"`
	CacheSize   int     `mapstructure:"cache_size"`
	SplitRatio  float64 `mapstructure:"split_ratio"`
	Compression bool    `mapstructure:"compression"`
}

// LoadConfig reads zedstore.yaml from dir and resolves it against the
// defaults. Missing file is not an error; defaults apply.
func LoadConfig(dir string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("zedstore")
	v.SetConfigType("yaml")

	defaults := DefaultOptions()
	v.SetDefault("page_size", defaults.pageSize)
	v.SetDefault("cache_size", defaults.cacheSize)
	v.SetDefault("split_ratio", defaults.splitRatio)
	v.SetDefault("compression", defaults.compression)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Options converts the config into the equivalent option list.
func (c Config) Options() []Option {
	return []Option{
		WithPageSize(c.PageSize),
		WithCacheSize(c.CacheSize),
		WithSplitRatio(c.SplitRatio),
		WithCompression(c.Compression),
	}
}
