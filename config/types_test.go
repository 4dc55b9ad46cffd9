package config

import (
	"testing"

	"github.com/grovetools/tabsd/errors"
	"github.com/stretchr/testify/assert"
)

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	off := false
	cfg := &Config{
		Throttle:    ThrottleConfig{WindowSeconds: 5, MaxRequests: 1},
		Speculation: SpeculationConfig{Engine: "rod", RequireWarmup: &off},
		Policy:      PolicyConfig{DeviceClass: "low_end", NetworkPrediction: &off},
	}
	cfg.SetDefaults()

	assert.Equal(t, 5, cfg.Throttle.WindowSeconds)
	assert.Equal(t, 1, cfg.Throttle.MaxRequests)
	assert.Equal(t, 30, cfg.Throttle.PersistIntervalSeconds)
	assert.Equal(t, "rod", cfg.Speculation.Engine)
	assert.False(t, cfg.Speculation.RequiresWarmup())
	assert.Equal(t, "low_end", cfg.Policy.DeviceClass)
	assert.False(t, cfg.Policy.NetworkPredictionEnabled())
	assert.Equal(t, "1.0", cfg.Version)
}

func TestThrottleWindow(t *testing.T) {
	assert.Equal(t, "1m0s", Default().Throttle.Window().String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero window", func(c *Config) { c.Throttle.WindowSeconds = 0 }, true},
		{"zero max requests", func(c *Config) { c.Throttle.MaxRequests = 0 }, true},
		{"negative ban threshold", func(c *Config) { c.Throttle.BanAfterDenials = -1 }, true},
		{"unknown engine", func(c *Config) { c.Speculation.Engine = "webkit" }, true},
		{"unknown device class", func(c *Config) { c.Policy.DeviceClass = "tablet" }, true},
		{"valid origin patterns", func(c *Config) {
			c.Origins.Links = map[string][]string{"com.example.app": {"example.com", "*.example.com", "localhost:8080"}}
		}, false},
		{"origin with scheme", func(c *Config) {
			c.Origins.Links = map[string][]string{"com.example.app": {"https://example.com"}}
		}, true},
		{"bad package name", func(c *Config) {
			c.Origins.Links = map[string][]string{"com example": {"example.com"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeConfigValidation, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"max_requests"`)
	assert.Contains(t, string(data), `"can_use_hidden_tab"`)
	assert.NotContains(t, string(data), `"Extensions"`)

	_, err = NewSchemaValidator()
	assert.NoError(t, err)
}
