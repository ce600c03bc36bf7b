package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Companion CompanionConfig  `json:"companion"`
	Knowledge KnowledgeConfig  `json:"knowledge"`
	Memory    MemoryConfig     `json:"memory"`
	Speech    SpeechConfig     `json:"speech"`
	Gateway   GatewayConfig    `json:"gateway"`
	Alerts    AlertsConfig     `json:"alerts"`
	Database  DatabaseConfig   `json:"database"`
}

type ServerConfig struct {
	Port           int      `json:"port"`
	LogLevel       string   `json:"log_level"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Timeout  int               `json:"timeout,omitempty"` // seconds
}

// Binding names the provider and model serving one collaborator role.
// An empty Provider falls back to the router default.
type Binding struct {
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

type CompanionConfig struct {
	ChildName     string  `json:"child_name"`
	ChildAge      int     `json:"child_age"` // 0 when unknown
	PersonaFile   string  `json:"persona_file"`
	Reply         Binding `json:"reply"`
	Extract       Binding `json:"extract"`
	Summary       Binding `json:"summary"`
	CallTimeout   int     `json:"call_timeout"` // seconds
	TurnTimeout   int     `json:"turn_timeout"` // seconds
	HistoryWindow int     `json:"history_window"`
	FallbackSeed  uint64  `json:"fallback_seed"`
}

type KnowledgeConfig struct {
	TriggersPath    string `json:"triggers_path"`
	DiagnosticsPath string `json:"diagnostics_path"`
}

type MemoryConfig struct {
	Backend   string `json:"backend"` // file | redis | postgres
	Dir       string `json:"dir"`
	KeyPrefix string `json:"key_prefix"`

	// IdleMinutes is how long an unused session stays in process memory.
	IdleMinutes int `json:"idle_minutes"`
}

type SpeechConfig struct {
	Deepgram   DeepgramConfig   `json:"deepgram"`
	ElevenLabs ElevenLabsConfig `json:"elevenlabs"`
}

type DeepgramConfig struct {
	APIKey      string `json:"api_key"`
	Endpoint    string `json:"endpoint"`
	ContentType string `json:"content_type"`
}

type ElevenLabsConfig struct {
	APIKey          string  `json:"api_key"`
	Endpoint        string  `json:"endpoint"`
	Voice           string  `json:"voice"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type GatewayConfig struct {
	Slack       SlackGatewayConfig   `json:"slack"`
	Discord     DiscordGatewayConfig `json:"discord"`
	RESTTimeout int                  `json:"rest_timeout"` // seconds
}

type SlackGatewayConfig struct {
	Enabled          bool   `json:"enabled"`
	BotToken         string `json:"bot_token"`
	AppToken         string `json:"app_token"`
	CaregiverChannel string `json:"caregiver_channel"`
	IconEmoji        string `json:"icon_emoji"`
}

type DiscordGatewayConfig struct {
	Enabled          bool   `json:"enabled"`
	BotToken         string `json:"bot_token"`
	CaregiverChannel string `json:"caregiver_channel"`
}

type AlertsConfig struct {
	RedisStream          string `json:"redis_stream"`
	BroadcastMinCategory string `json:"broadcast_min_category"`
	Timeout              int    `json:"timeout"` // seconds, per fan-out
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// Memory backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw config JSON.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(Expand(string(data))), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Expand substitutes ${VAR} and ${VAR:default} with environment values.
// Unset variables without a default become empty strings.
func Expand(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Companion.CallTimeout <= 0 {
		c.Companion.CallTimeout = 30
	}
	if c.Companion.TurnTimeout <= 0 {
		c.Companion.TurnTimeout = 90
	}
	if c.Companion.HistoryWindow <= 0 {
		c.Companion.HistoryWindow = 5
	}
	if c.Knowledge.TriggersPath == "" {
		c.Knowledge.TriggersPath = "configs/knowledge.yaml"
	}
	if c.Knowledge.DiagnosticsPath == "" {
		c.Knowledge.DiagnosticsPath = "configs/diagnostics.yaml"
	}
	c.Memory.Backend = strings.ToLower(strings.TrimSpace(c.Memory.Backend))
	if c.Memory.Backend == "" {
		c.Memory.Backend = BackendFile
	}
	if c.Memory.Dir == "" {
		c.Memory.Dir = "data/memory"
	}
	if c.Memory.KeyPrefix == "" {
		c.Memory.KeyPrefix = "companion:memory:"
	}
	if c.Memory.IdleMinutes <= 0 {
		c.Memory.IdleMinutes = 30
	}
	if c.Gateway.RESTTimeout <= 0 {
		c.Gateway.RESTTimeout = 60
	}
	if c.Alerts.RedisStream == "" {
		c.Alerts.RedisStream = "companion:alerts"
	}
	if c.Alerts.Timeout <= 0 {
		c.Alerts.Timeout = 30
	}
	if c.Alerts.BroadcastMinCategory == "" {
		c.Alerts.BroadcastMinCategory = "HIGH"
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case BackendFile:
	case BackendRedis:
		if c.Database.Redis.URL == "" {
			return fmt.Errorf("memory backend redis requires database.redis.url")
		}
	case BackendPostgres:
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("memory backend postgres requires database.postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
	}

	if c.Companion.ChildAge < 0 {
		return fmt.Errorf("companion.child_age must not be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	for role, b := range map[string]Binding{"reply": c.Companion.Reply, "extract": c.Companion.Extract, "summary": c.Companion.Summary} {
		if b.Provider != "" && !seen[b.Provider] {
			return fmt.Errorf("companion.%s: unknown provider %q", role, b.Provider)
		}
	}
	return nil
}

// CallTimeout returns the per-call collaborator timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Companion.CallTimeout) * time.Second
}

// TurnTimeout bounds one full turn: extraction plus reply.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Companion.TurnTimeout) * time.Second
}

// AlertTimeout bounds the fan-out of one turn's alerts.
func (c *Config) AlertTimeout() time.Duration {
	return time.Duration(c.Alerts.Timeout) * time.Second
}

// SessionIdle is how long an unused session is kept in process memory.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.Memory.IdleMinutes) * time.Minute
}

// ProviderTimeout returns the HTTP timeout of a provider, or zero for the
// client default.
func (p ProviderConfig) ProviderTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}
