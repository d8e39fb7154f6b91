package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Timeline  TimelineConfig  `mapstructure:"timeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AccessToken    string `mapstructure:"access_token"`
	TimeoutSec     int    `mapstructure:"timeout_sec"`
	RatePerSecond  int    `mapstructure:"rate_per_second"`
	LegacyMarkRead bool   `mapstructure:"legacy_mark_read"`
}

type StreamingConfig struct {
	// BaseURL is the websocket streaming endpoint. Derived from the REST
	// base URL when empty.
	BaseURL string `mapstructure:"base_url"`
}

type TimelineConfig struct {
	MaxQueued int `mapstructure:"max_queued"`
	PageLimit int `mapstructure:"page_limit"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.base_url", "")
	v.SetDefault("server.timeout_sec", 30)
	v.SetDefault("server.rate_per_second", 5)
	v.SetDefault("server.legacy_mark_read", false)
	v.SetDefault("streaming.base_url", "")
	v.SetDefault("timeline.max_queued", 40)
	v.SetDefault("timeline.page_limit", 20)
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("SKUA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.access_token", "SKUA_ACCESS_TOKEN")
	_ = v.BindEnv("server.base_url", "SKUA_SERVER")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("skua")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server base_url is required (set SKUA_SERVER env var)")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("server base_url: %w", err)
	}
	if c.Timeline.MaxQueued < 1 {
		return fmt.Errorf("timeline max_queued must be >= 1")
	}
	if c.Timeline.PageLimit < 1 {
		return fmt.Errorf("timeline page_limit must be >= 1")
	}
	return nil
}

// StreamingURL returns the websocket endpoint, deriving it from the REST
// base URL (https -> wss, http -> ws) when not configured explicitly.
func (c *Config) StreamingURL() string {
	if c.Streaming.BaseURL != "" {
		return c.Streaming.BaseURL
	}
	base := c.Server.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/api/v1/streaming"
}
