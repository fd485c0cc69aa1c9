package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default metrics path", func(c *Config) bool { return c.MetricsPath == "/metrics" }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
		{"default provider timeout is 5s", func(c *Config) bool { return c.ProviderTimeout == 5*time.Second }},
		{"default hedge delay is 300ms", func(c *Config) bool { return c.HedgeDelay == 300*time.Millisecond }},
		{"default probe interval is 10s", func(c *Config) bool { return c.ProbeInterval == 10*time.Second }},
		{"default call deadline is 10s", func(c *Config) bool { return c.CallDeadline == 10*time.Second }},
		{"slack disabled by default", func(c *Config) bool { return c.SlackBotToken == "" }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected value for %s", tt.name)
			}
		})
	}
}
