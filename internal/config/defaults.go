package config

func Defaults() *Config {
	return &Config{
		HomeAssistant: HomeAssistantConfig{
			TimeoutSeconds: 10,
		},
		Telegram: TelegramConfig{
			Enabled: true,
		},
		HTTP: HTTPConfig{
			Enabled:     false,
			Addr:        "127.0.0.1:8099",
			WebhookPath: "/webhook",
			MetricsPath: "/metrics",

			RateLimitPerMinute: 60,
			RateLimitBurst:     10,
		},
		Audit: AuditConfig{
			Path: "home_assistant_commands.log",
		},
		Policy: PolicyConfig{
			Default: "allow",
		},
		Bridge: BridgeConfig{
			Replies:    false,
			BufferSize: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Tracing:     false,
			ServiceName: "hassbridge",
		},
	}
}

// Sample returns Defaults with placeholders for every required value, in
// the form written by "hassbridge config init".
func Sample() *Config {
	cfg := Defaults()
	cfg.HomeAssistant.URL = "${HOME_ASSISTANT_URL:-http://homeassistant.local:8123}"
	cfg.HomeAssistant.Token = "${HOME_ASSISTANT_TOKEN}"
	cfg.Entities = EntitiesConfig{
		CoffeeMachine:     "switch.coffee_machine",
		ClimateUpstairs:   "climate.upstairs",
		ClimateDownstairs: "climate.downstairs",
		Dehumidifier:      "humidifier.dehumidifier",
	}
	cfg.Telegram.Token = "${TELEGRAM_BOT_TOKEN}"
	return cfg
}
