package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config is the root configuration for hassbridge. It is built once at
// startup and never mutated afterwards.
type Config struct {
	HomeAssistant HomeAssistantConfig `koanf:"homeassistant" yaml:"homeassistant"`
	Entities      EntitiesConfig      `koanf:"entities" yaml:"entities"`
	Telegram      TelegramConfig      `koanf:"telegram" yaml:"telegram"`
	HTTP          HTTPConfig          `koanf:"http" yaml:"http"`
	Audit         AuditConfig         `koanf:"audit" yaml:"audit"`
	Policy        PolicyConfig        `koanf:"policy" yaml:"policy"`
	Bridge        BridgeConfig        `koanf:"bridge" yaml:"bridge"`
	Log           LogConfig           `koanf:"log" yaml:"log"`
	Telemetry     TelemetryConfig     `koanf:"telemetry" yaml:"telemetry"`
}

type HomeAssistantConfig struct {
	URL            string `koanf:"url" yaml:"url"`
	Token          string `koanf:"token" yaml:"token"`
	TimeoutSeconds int    `koanf:"timeoutSeconds" yaml:"timeoutSeconds"`
	Proxy          string `koanf:"proxy" yaml:"proxy,omitempty"` // optional SOCKS5 host:port
}

// EntitiesConfig holds the entity ids addressed by the fixed vocabulary.
type EntitiesConfig struct {
	CoffeeMachine     string `koanf:"coffeeMachine" yaml:"coffeeMachine"`
	ClimateUpstairs   string `koanf:"climateUpstairs" yaml:"climateUpstairs"`
	ClimateDownstairs string `koanf:"climateDownstairs" yaml:"climateDownstairs"`
	Dehumidifier      string `koanf:"dehumidifier" yaml:"dehumidifier"`
}

type TelegramConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Token   string `koanf:"token" yaml:"token"`
}

// HTTPConfig configures the webhook ingress and the metrics/health endpoints.
type HTTPConfig struct {
	Enabled       bool   `koanf:"enabled" yaml:"enabled"`
	Addr          string `koanf:"addr" yaml:"addr"`
	WebhookPath   string `koanf:"webhookPath" yaml:"webhookPath"`
	WebhookSecret string `koanf:"webhookSecret" yaml:"webhookSecret,omitempty"`
	MetricsPath   string `koanf:"metricsPath" yaml:"metricsPath"`

	// Webhook throttling; RateLimitPerMinute 0 disables it.
	RateLimitPerMinute int `koanf:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	RateLimitBurst     int `koanf:"rateLimitBurst" yaml:"rateLimitBurst"`
}

type AuditConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

// PolicyConfig restricts which domain.service pairs the raw
// "call service" command may reach.
type PolicyConfig struct {
	Default string   `koanf:"default" yaml:"default"` // "allow" | "deny"
	Allow   []string `koanf:"allow" yaml:"allow,omitempty"`
	Deny    []string `koanf:"deny" yaml:"deny,omitempty"`
}

type BridgeConfig struct {
	Replies    bool `koanf:"replies" yaml:"replies"` // answer in the originating chat
	BufferSize int  `koanf:"bufferSize" yaml:"bufferSize"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // "text" | "json" | "tint"
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing" yaml:"tracing"`
	ServiceName string `koanf:"serviceName" yaml:"serviceName"`
}

// envKeys maps environment variables onto config paths. The first block
// keeps the variable names the bridge has always read from .env.
var envKeys = map[string]string{
	"HOME_ASSISTANT_URL":       "homeassistant.url",
	"HOME_ASSISTANT_TOKEN":     "homeassistant.token",
	"COFFEE_MACHINE_ENTITY_ID": "entities.coffeeMachine",
	"CLIMATE_UPSTAIRS":         "entities.climateUpstairs",
	"CLIMATE_DOWNSTAIRS":       "entities.climateDownstairs",
	"DEHUMIDIFIER":             "entities.dehumidifier",
	"TELEGRAM_BOT_TOKEN":       "telegram.token",

	"HASSBRIDGE_HA_TIMEOUT_SECONDS": "homeassistant.timeoutSeconds",
	"HASSBRIDGE_HA_PROXY":           "homeassistant.proxy",
	"HASSBRIDGE_TELEGRAM_ENABLED":   "telegram.enabled",
	"HASSBRIDGE_HTTP_ENABLED":       "http.enabled",
	"HASSBRIDGE_HTTP_ADDR":          "http.addr",
	"HASSBRIDGE_WEBHOOK_SECRET":     "http.webhookSecret",
	"HASSBRIDGE_WEBHOOK_RATE_LIMIT": "http.rateLimitPerMinute",
	"HASSBRIDGE_AUDIT_PATH":         "audit.path",
	"HASSBRIDGE_POLICY_DEFAULT":     "policy.default",
	"HASSBRIDGE_REPLIES":            "bridge.replies",
	"HASSBRIDGE_LOG_LEVEL":          "log.level",
	"HASSBRIDGE_LOG_FORMAT":         "log.format",
	"HASSBRIDGE_TRACING":            "telemetry.tracing",
}

// LoadOptions selects the optional sources layered over Defaults.
type LoadOptions struct {
	Path    string // YAML config file; missing is fine unless Require is set
	EnvFile string // dotenv file; missing is always fine
	Require bool
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment (highest priority), then validates it.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(ExpandPath(opts.EnvFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cannot read env file %s: %w", opts.EnvFile, err)
		}
	}

	k := koanf.New(".")

	if opts.Path != "" {
		path := ExpandPath(opts.Path)
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			// Substitute environment variables: ${VAR} and ${VAR:-default}
			if err := k.Load(rawBytes(ExpandEnvVars(string(data))), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !opts.Require:
		default:
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}

	cfg.HomeAssistant.URL = strings.TrimRight(strings.TrimSpace(cfg.HomeAssistant.URL), "/")
	cfg.Audit.Path = ExpandPath(cfg.Audit.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// rawBytes adapts an in-memory document to koanf's Provider interface so the
// file can be env-expanded before parsing.
type rawBytes string

func (b rawBytes) ReadBytes() ([]byte, error) { return []byte(b), nil }

func (b rawBytes) Read() (map[string]any, error) {
	return nil, errors.New("rawBytes does not support Read")
}

// LoadFile reads a YAML file through koanf's file provider without env
// expansion or validation. Used by "config show --raw".
func LoadFile(path string) (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(ExpandPath(path)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return k.Raw(), nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that every required value is present and every tunable is
// in range. All problems are reported together.
func Validate(cfg *Config) error {
	var errs []string

	required := []struct{ name, env, val string }{
		{"homeassistant.url", "HOME_ASSISTANT_URL", cfg.HomeAssistant.URL},
		{"homeassistant.token", "HOME_ASSISTANT_TOKEN", cfg.HomeAssistant.Token},
		{"entities.coffeeMachine", "COFFEE_MACHINE_ENTITY_ID", cfg.Entities.CoffeeMachine},
		{"entities.climateUpstairs", "CLIMATE_UPSTAIRS", cfg.Entities.ClimateUpstairs},
		{"entities.climateDownstairs", "CLIMATE_DOWNSTAIRS", cfg.Entities.ClimateDownstairs},
		{"entities.dehumidifier", "DEHUMIDIFIER", cfg.Entities.Dehumidifier},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, fmt.Sprintf("%s is required (env %s)", r.name, r.env))
		}
	}

	if cfg.HomeAssistant.URL != "" {
		u, err := url.Parse(cfg.HomeAssistant.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "homeassistant.url must be an absolute http(s) URL")
		}
	}
	if cfg.HomeAssistant.TimeoutSeconds < 1 || cfg.HomeAssistant.TimeoutSeconds > 300 {
		errs = append(errs, "homeassistant.timeoutSeconds must be between 1 and 300")
	}

	if cfg.HTTP.Enabled {
		if cfg.HTTP.Addr == "" {
			errs = append(errs, "http.addr is required when http is enabled")
		}
		if !strings.HasPrefix(cfg.HTTP.WebhookPath, "/") {
			errs = append(errs, "http.webhookPath must start with /")
		}
		if !strings.HasPrefix(cfg.HTTP.MetricsPath, "/") {
			errs = append(errs, "http.metricsPath must start with /")
		}
		if cfg.HTTP.RateLimitPerMinute < 0 || cfg.HTTP.RateLimitBurst < 0 {
			errs = append(errs, "http.rateLimitPerMinute and http.rateLimitBurst must not be negative")
		}
	}

	if cfg.Audit.Path == "" {
		errs = append(errs, "audit.path is required")
	}

	switch cfg.Policy.Default {
	case "allow", "deny":
		// valid
	default:
		errs = append(errs, "policy.default must be one of: allow, deny")
	}

	if cfg.Bridge.BufferSize < 1 || cfg.Bridge.BufferSize > 10000 {
		errs = append(errs, "bridge.bufferSize must be between 1 and 10000")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json", "tint":
	default:
		errs = append(errs, "log.format must be one of: text, json, tint")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateIngress checks the settings "serve" needs on top of Validate: at
// least one ingress, and a bot token when Telegram is on.
func ValidateIngress(cfg *Config) error {
	if !cfg.Telegram.Enabled && !cfg.HTTP.Enabled {
		return errors.New("no ingress enabled: set telegram.enabled or http.enabled")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required when telegram is enabled (env TELEGRAM_BOT_TOKEN)")
	}
	return nil
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Policy.Allow = append([]string(nil), cfg.Policy.Allow...)
	c.Policy.Deny = append([]string(nil), cfg.Policy.Deny...)

	if c.HomeAssistant.Token != "" {
		c.HomeAssistant.Token = maskString(c.HomeAssistant.Token)
	}
	if c.Telegram.Token != "" {
		c.Telegram.Token = maskString(c.Telegram.Token)
	}
	if c.HTTP.WebhookSecret != "" {
		c.HTTP.WebhookSecret = "***"
	}
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// DefaultConfigDir returns the default config directory (~/.hassbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hassbridge"
	}
	return filepath.Join(home, ".hassbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
