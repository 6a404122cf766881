package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.HomeAssistant.URL = "http://ha.local:8123"
	cfg.HomeAssistant.Token = "token-123456789"
	cfg.Entities = EntitiesConfig{
		CoffeeMachine:     "switch.coffee",
		ClimateUpstairs:   "climate.up",
		ClimateDownstairs: "climate.down",
		Dehumidifier:      "humidifier.dry",
	}
	return cfg
}

// clearEnv unsets every mapped variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for name := range envKeys {
		if val, ok := os.LookupEnv(name); ok {
			os.Unsetenv(name)
			t.Cleanup(func() { os.Setenv(name, val) })
		}
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME_ASSISTANT_URL", "http://ha.local:8123/")
	t.Setenv("HOME_ASSISTANT_TOKEN", "env-token-abcdef")
	t.Setenv("COFFEE_MACHINE_ENTITY_ID", "switch.coffee")
	t.Setenv("CLIMATE_UPSTAIRS", "climate.up")
	t.Setenv("CLIMATE_DOWNSTAIRS", "climate.down")
	t.Setenv("DEHUMIDIFIER", "humidifier.dry")
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsMissRequiredValues(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("defaults lack url/token/entities and must not validate")
	}
	for _, want := range []string{
		"homeassistant.url", "homeassistant.token",
		"entities.coffeeMachine", "entities.climateUpstairs",
		"entities.climateDownstairs", "entities.dehumidifier",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error, got: %v", want, err)
		}
	}
}

func TestValidate_BadURL(t *testing.T) {
	for _, u := range []string{"ha.local", "ftp://ha.local", "http://"} {
		cfg := validConfig()
		cfg.HomeAssistant.URL = u
		if err := Validate(cfg); err == nil {
			t.Errorf("url %q should be rejected", u)
		}
	}
}

func TestValidate_Timeout(t *testing.T) {
	cfg := validConfig()
	cfg.HomeAssistant.TimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeout=0")
	}
	cfg.HomeAssistant.TimeoutSeconds = 300
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeout=300 should be valid: %v", err)
	}
}

func TestValidate_InvalidPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.Default = "ask"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid policy")
	}
}

func TestValidate_HTTPPaths(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Enabled = true
	cfg.HTTP.WebhookPath = "webhook"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative webhook path")
	}

	cfg = validConfig()
	cfg.HTTP.Enabled = true
	cfg.HTTP.RateLimitPerMinute = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative rate limit")
	}
}

func TestValidate_LogSettings(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "trace"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for log level trace")
	}
	cfg = validConfig()
	cfg.Log.Format = "xml"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for log format xml")
	}
}

func TestValidateIngress(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Enabled = false
	if err := ValidateIngress(cfg); err == nil {
		t.Fatal("expected error with no ingress enabled")
	}

	cfg.Telegram.Enabled = true
	if err := ValidateIngress(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}

	cfg.Telegram.Token = "123:abc"
	if err := ValidateIngress(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- Load ---

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HomeAssistant.URL != "http://ha.local:8123" {
		t.Errorf("trailing slash should be trimmed, got %q", cfg.HomeAssistant.URL)
	}
	if cfg.Entities.Dehumidifier != "humidifier.dry" {
		t.Errorf("expected humidifier.dry, got %q", cfg.Entities.Dehumidifier)
	}
	if cfg.HomeAssistant.TimeoutSeconds != 10 {
		t.Errorf("expected default timeout 10, got %d", cfg.HomeAssistant.TimeoutSeconds)
	}
}

func TestLoad_MissingRequiredIsFatal(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)
	t.Setenv("HOME_ASSISTANT_TOKEN", "")

	_, err := Load(LoadOptions{})
	if err == nil {
		t.Fatal("expected error for missing token")
	}
	if !strings.Contains(err.Error(), "homeassistant.token") {
		t.Fatalf("error should name the missing key: %v", err)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	for name := range envKeys {
		t.Cleanup(func() { os.Unsetenv(name) })
	}

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"HOME_ASSISTANT_URL=https://ha.example.com",
		"HOME_ASSISTANT_TOKEN=dotenv-token-123",
		"COFFEE_MACHINE_ENTITY_ID=switch.coffee",
		"CLIMATE_UPSTAIRS=climate.up",
		"CLIMATE_DOWNSTAIRS=climate.down",
		"DEHUMIDIFIER=humidifier.dry",
	}, "\n")
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{EnvFile: envFile})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HomeAssistant.Token != "dotenv-token-123" {
		t.Fatalf("expected token from .env, got %q", cfg.HomeAssistant.Token)
	}
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)

	if _, err := Load(LoadOptions{EnvFile: "/nonexistent/.env"}); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestLoad_YAMLFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_HASS_TOKEN", "file-token-abcdef")
	t.Setenv("CLIMATE_UPSTAIRS", "climate.from_env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
homeassistant:
  url: http://ha.local:8123
  token: ${TEST_HASS_TOKEN}
  timeoutSeconds: 5
entities:
  coffeeMachine: switch.coffee
  climateUpstairs: climate.from_file
  climateDownstairs: climate.down
  dehumidifier: humidifier.dry
policy:
  default: deny
  allow:
    - light.*
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{Path: path, Require: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HomeAssistant.Token != "file-token-abcdef" {
		t.Errorf("expected expanded token, got %q", cfg.HomeAssistant.Token)
	}
	if cfg.HomeAssistant.TimeoutSeconds != 5 {
		t.Errorf("expected timeout 5, got %d", cfg.HomeAssistant.TimeoutSeconds)
	}
	if cfg.Entities.ClimateUpstairs != "climate.from_env" {
		t.Errorf("environment should override file, got %q", cfg.Entities.ClimateUpstairs)
	}
	if cfg.Policy.Default != "deny" || len(cfg.Policy.Allow) != 1 || cfg.Policy.Allow[0] != "light.*" {
		t.Errorf("unexpected policy: %+v", cfg.Policy)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("defaults should survive a partial file, got log level %q", cfg.Log.Level)
	}
}

func TestLoad_RequiredFileMissing(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)

	if _, err := Load(LoadOptions{Path: "/nonexistent/config.yaml", Require: true}); err == nil {
		t.Fatal("expected error for missing required file")
	}
	if _, err := Load(LoadOptions{Path: "/nonexistent/config.yaml"}); err != nil {
		t.Fatalf("optional missing file should be ignored: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("homeassistant: [unclosed"), 0o644)

	if _, err := Load(LoadOptions{Path: path}); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestSaveSample_RoundTrip(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME_ASSISTANT_TOKEN", "sample-token-abc")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(path, Sample()); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg, err := Load(LoadOptions{Path: path, Require: true})
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if cfg.HomeAssistant.URL != "http://homeassistant.local:8123" {
		t.Errorf("expected default url from sample, got %q", cfg.HomeAssistant.URL)
	}
	if cfg.Entities.CoffeeMachine != "switch.coffee_machine" {
		t.Errorf("unexpected coffee entity %q", cfg.Entities.CoffeeMachine)
	}

	raw, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if _, ok := raw["homeassistant"]; !ok {
		t.Fatalf("raw config should contain homeassistant section: %v", raw)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.HTTP.WebhookSecret = "hook-secret"

	sanitized := Sanitize(cfg)

	if sanitized.Telegram.Token == cfg.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.HomeAssistant.Token == cfg.HomeAssistant.Token {
		t.Fatal("home assistant token should be masked")
	}
	if sanitized.HTTP.WebhookSecret != "***" {
		t.Fatalf("webhook secret should be ***, got %q", sanitized.HTTP.WebhookSecret)
	}
	if cfg.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.HomeAssistant.Token = "short"
	if got := Sanitize(cfg).HomeAssistant.Token; got != "***" {
		t.Fatalf("short secret should be '***', got %q", got)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_HA_TOKEN", "abc123")
	result := ExpandEnvVars(`token: ${TEST_HA_TOKEN}`)
	if result != `token: abc123` {
		t.Fatalf("unexpected %q", result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`addr: ${NONEXISTENT_VAR_12345:-127.0.0.1:8099}`)
	if result != `addr: 127.0.0.1:8099` {
		t.Fatalf("unexpected %q", result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	input := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected %q, got %q", input, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}
