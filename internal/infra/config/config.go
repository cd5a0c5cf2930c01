package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"port" yaml:"port"`

	Download  DownloadConfig  `mapstructure:"download" yaml:"download"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Extractor ExtractorConfig `mapstructure:"extractor" yaml:"extractor"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
}

type DownloadConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	// DatabaseURL is either a sqlite file path or a postgres:// DSN.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTLDays int    `mapstructure:"token_ttl_days" yaml:"token_ttl_days"`
}

type ExtractorConfig struct {
	Binary      string `mapstructure:"binary" yaml:"binary"`
	CookiesFile string `mapstructure:"cookies_file" yaml:"cookies_file"`
}

// ChatConfig carries the chat provider credentials. These are fallbacks; the
// operator-mutable copies live in the settings table and take precedence.
type ChatConfig struct {
	ProviderAppID   int    `mapstructure:"provider_app_id" yaml:"provider_app_id"`
	ProviderAppHash string `mapstructure:"provider_app_hash" yaml:"provider_app_hash"`
	TargetChannelID int64  `mapstructure:"target_channel_id" yaml:"target_channel_id"`
	SessionFile     string `mapstructure:"session_file" yaml:"session_file"`
	MaxRetries      int    `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelaySec   int    `mapstructure:"retry_delay_sec" yaml:"retry_delay_sec"`
}

func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("download.dir", "./downloads")
	v.SetDefault("log.path", "downlee.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.database_url", "downlee.db")
	v.SetDefault("auth.token_ttl_days", 30)
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.cookies_file", "cookies.txt")
	v.SetDefault("chat.session_file", "downlee.session")
	v.SetDefault("chat.max_retries", 6)
	v.SetDefault("chat.retry_delay_sec", 5)

	if path == "" {
		path = "config.yaml"
	}

	// The config file is optional: everything has a default or an env
	// fallback. A path given explicitly must exist, though.
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if path != "config.yaml" {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v.SetEnvPrefix("DOWNLEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set DOWNLEE_AUTH_JWT_SECRET)")
	}

	if c.Download.Dir == "" {
		c.Download.Dir = "./downloads"
	}

	if c.Auth.TokenTTLDays <= 0 {
		c.Auth.TokenTTLDays = 30
	}

	if c.Chat.MaxRetries <= 0 {
		c.Chat.MaxRetries = 6
	}

	if c.Chat.RetryDelaySec <= 0 {
		c.Chat.RetryDelaySec = 5
	}

	return nil
}
