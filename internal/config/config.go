// Package config loads the service configuration from a TOML file with
// environment overrides (CONVERTD_ prefix, dots replaced by underscores).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"convertd/internal/engine"
	"convertd/internal/logger"
	"convertd/internal/server"
)

// Server is the HTTP listener section.
type Server struct {
	Listen      string `toml:"listen" mapstructure:"listen"`
	BasePath    string `toml:"base_path" mapstructure:"base_path"`
	TempDir     string `toml:"temp_dir" mapstructure:"temp_dir"`
	MaxUploadMB int64  `toml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// Engine is the conversion-engine supervision section.
type Engine struct {
	Binary           string            `toml:"binary" mapstructure:"binary"`
	Tool             string            `toml:"tool" mapstructure:"tool"`
	Port             int               `toml:"port" mapstructure:"port"`
	ProfileDir       string            `toml:"profile_dir" mapstructure:"profile_dir"`
	TempDir          string            `toml:"temp_dir" mapstructure:"temp_dir"`
	WarmupWindow     time.Duration     `toml:"warmup_window" mapstructure:"warmup_window"`
	ProbeTimeout     time.Duration     `toml:"probe_timeout" mapstructure:"probe_timeout"`
	SyntheticTimeout time.Duration     `toml:"synthetic_timeout" mapstructure:"synthetic_timeout"`
	ConvertTimeout   time.Duration     `toml:"convert_timeout" mapstructure:"convert_timeout"`
	StopWait         time.Duration     `toml:"stop_wait" mapstructure:"stop_wait"`
	HealthInterval   time.Duration     `toml:"health_interval" mapstructure:"health_interval"`
	FailureThreshold int               `toml:"failure_threshold" mapstructure:"failure_threshold"`
	Log              logger.FileConfig `toml:"log" mapstructure:"log"`
}

// History configures the audit sink; an empty DSN disables it.
type History struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// Config is the top-level TOML structure.
type Config struct {
	Server  Server        `toml:"server" mapstructure:"server"`
	Engine  Engine        `toml:"engine" mapstructure:"engine"`
	History History       `toml:"history" mapstructure:"history"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("engine.binary", "soffice")
	v.SetDefault("engine.tool", "soffice-convert")
	v.SetDefault("engine.port", engine.DefaultPort)
	v.SetDefault("engine.warmup_window", "10s")
	v.SetDefault("engine.probe_timeout", "3s")
	v.SetDefault("engine.synthetic_timeout", "8s")
	v.SetDefault("engine.convert_timeout", "120s")
	v.SetDefault("engine.stop_wait", "3s")
	v.SetDefault("engine.health_interval", "60s")
	v.SetDefault("engine.failure_threshold", 5)
	v.SetDefault("log.slog.level", "info")
	v.SetDefault("log.slog.format", "text")
}

// Load reads the TOML file at path. An empty path yields defaults plus
// environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CONVERTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Engine.Binary == "" {
		return errors.New("engine.binary is required")
	}
	if c.Engine.Tool == "" {
		return errors.New("engine.tool is required")
	}
	if c.Engine.Port <= 0 || c.Engine.Port > 65535 {
		return fmt.Errorf("engine.port out of range: %d", c.Engine.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive: %d", c.Server.MaxUploadMB)
	}
	return nil
}

// EngineConfig maps the engine section onto the supervisor's config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Binary:           c.Engine.Binary,
		Tool:             c.Engine.Tool,
		Port:             c.Engine.Port,
		ProfileDir:       c.Engine.ProfileDir,
		TempDir:          c.Engine.TempDir,
		WarmupWindow:     c.Engine.WarmupWindow,
		ProbeTimeout:     c.Engine.ProbeTimeout,
		SyntheticTimeout: c.Engine.SyntheticTimeout,
		ConvertTimeout:   c.Engine.ConvertTimeout,
		StopWait:         c.Engine.StopWait,
		HealthInterval:   c.Engine.HealthInterval,
		FailureThreshold: c.Engine.FailureThreshold,
		Log:              c.Engine.Log,
	}
}

// ServerConfig maps the server section onto the router's config.
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		BasePath:       c.Server.BasePath,
		TempDir:        c.Server.TempDir,
		MaxUploadBytes: c.Server.MaxUploadMB << 20,
	}
}
