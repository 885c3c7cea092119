// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved process configuration. Every field maps to an
// ONEAGENT_* environment variable through viper's key replacer, e.g.
// "mcp.port" reads ONEAGENT_MCP_PORT.
type Config struct {
	MCP struct {
		Port                     int           `mapstructure:"port"`
		Host                     string        `mapstructure:"host"`
		StdioOnly                bool          `mapstructure:"stdio_only"`
		SessionTimeoutMS         int64         `mapstructure:"session_timeout_ms"`
		SessionCleanupIntervalMS int64         `mapstructure:"session_cleanup_interval_ms"`
		EventLogTTLMS            int64         `mapstructure:"event_log_ttl_ms"`
		MaxEventsPerSession      int           `mapstructure:"max_events_per_session"`
		AllowedOrigins           string        `mapstructure:"allowed_origins"`
		AllowLocalhost           bool          `mapstructure:"allow_localhost"`
		RequireOriginHeader      bool          `mapstructure:"require_origin_header"`
		OriginsFile              string        `mapstructure:"origins_file"`
		SessionTimeout           time.Duration `mapstructure:"-"`
		SessionCleanupInterval   time.Duration `mapstructure:"-"`
		EventLogTTL              time.Duration `mapstructure:"-"`
	} `mapstructure:"mcp"`

	Heartbeat struct {
		IntervalMS int64         `mapstructure:"interval_ms"`
		TimeoutMS  int64         `mapstructure:"timeout_ms"`
		Interval   time.Duration `mapstructure:"-"`
		Timeout    time.Duration `mapstructure:"-"`
	} `mapstructure:"heartbeat"`

	Cache struct {
		// Backend selects "memory" (default) or "redis".
		Backend  string `mapstructure:"backend"`
		RedisAdr string `mapstructure:"redis_addr"`
		RedisPwd string `mapstructure:"redis_password"`
		RedisDB  int    `mapstructure:"redis_db"`
	} `mapstructure:"cache"`

	Store struct {
		// Backend selects the session store: "cache" (default),
		// "sqlite", or "postgres".
		Backend string `mapstructure:"backend"`
		DSN     string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	LLM struct {
		Provider string  `mapstructure:"provider"`
		APIKey   string  `mapstructure:"api_key"`
		Model    string  `mapstructure:"model"`
		Region   string  `mapstructure:"region"`
		Profile  string  `mapstructure:"profile"`
		MaxTok   int     `mapstructure:"max_tokens"`
		Temp     float64 `mapstructure:"temperature"`
	} `mapstructure:"llm"`

	Log struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mcp.port", 8083)
	v.SetDefault("mcp.host", "0.0.0.0")
	v.SetDefault("mcp.stdio_only", false)
	v.SetDefault("mcp.session_timeout_ms", 1_800_000)
	v.SetDefault("mcp.session_cleanup_interval_ms", 300_000)
	v.SetDefault("mcp.event_log_ttl_ms", 3_600_000)
	v.SetDefault("mcp.max_events_per_session", 1000)
	v.SetDefault("mcp.allowed_origins", "")
	v.SetDefault("mcp.allow_localhost", true)
	v.SetDefault("mcp.require_origin_header", false)
	v.SetDefault("mcp.origins_file", "")

	v.SetDefault("heartbeat.interval_ms", 30_000)
	v.SetDefault("heartbeat.timeout_ms", 90_000)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("store.backend", "cache")
	v.SetDefault("store.dsn", "")

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.region", "")
	v.SetDefault("llm.profile", "")
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.temperature", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// LoadConfig resolves configuration from the environment on top of the
// defaults. The viper instance is passed in so the root command can bind
// flags onto the same keys first.
func LoadConfig(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("ONEAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.MCP.SessionTimeout = time.Duration(cfg.MCP.SessionTimeoutMS) * time.Millisecond
	cfg.MCP.SessionCleanupInterval = time.Duration(cfg.MCP.SessionCleanupIntervalMS) * time.Millisecond
	cfg.MCP.EventLogTTL = time.Duration(cfg.MCP.EventLogTTLMS) * time.Millisecond
	cfg.Heartbeat.Interval = time.Duration(cfg.Heartbeat.IntervalMS) * time.Millisecond
	cfg.Heartbeat.Timeout = time.Duration(cfg.Heartbeat.TimeoutMS) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Origins splits the comma-separated allowlist into patterns.
func (c *Config) Origins() []string {
	if c.MCP.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.MCP.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// Validate rejects out-of-range values before anything binds or dials.
func (c *Config) Validate() error {
	if c.MCP.Port < 1 || c.MCP.Port > 65535 {
		return fmt.Errorf("mcp.port must be in [1, 65535], got %d", c.MCP.Port)
	}
	if c.MCP.SessionTimeoutMS <= 0 {
		return fmt.Errorf("mcp.session_timeout_ms must be positive, got %d", c.MCP.SessionTimeoutMS)
	}
	if c.MCP.SessionCleanupIntervalMS <= 0 {
		return fmt.Errorf("mcp.session_cleanup_interval_ms must be positive, got %d", c.MCP.SessionCleanupIntervalMS)
	}
	if c.MCP.EventLogTTLMS <= 0 {
		return fmt.Errorf("mcp.event_log_ttl_ms must be positive, got %d", c.MCP.EventLogTTLMS)
	}
	if c.MCP.MaxEventsPerSession < 1 {
		return fmt.Errorf("mcp.max_events_per_session must be at least 1, got %d", c.MCP.MaxEventsPerSession)
	}
	if c.Heartbeat.IntervalMS <= 0 || c.Heartbeat.TimeoutMS <= 0 {
		return fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	if c.Heartbeat.Timeout < c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.timeout_ms (%d) must be at least heartbeat.interval_ms (%d)",
			c.Heartbeat.TimeoutMS, c.Heartbeat.IntervalMS)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	switch c.Store.Backend {
	case "cache", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.backend must be cache, sqlite, or postgres, got %q", c.Store.Backend)
	}
	if c.Store.Backend != "cache" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for store.backend=%s", c.Store.Backend)
	}
	return nil
}

// Addr is the HTTP bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.MCP.Host, c.MCP.Port)
}
