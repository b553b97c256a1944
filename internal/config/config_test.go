package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.Venues)
	assert.NotEmpty(t, cfg.App.Instruments)
}

func TestValidate_Venues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no venues",
			mutate:  func(c *Config) { c.Venues = nil },
			wantErr: "at least one venue",
		},
		{
			name: "unknown venue type",
			mutate: func(c *Config) {
				c.Venues["bad"] = VenueConfig{Type: "carrier_pigeon", Weight: 1}
			},
			wantErr: "must be one of: simulated, remote",
		},
		{
			name: "remote venue without base URL",
			mutate: func(c *Config) {
				c.Venues["remote"] = VenueConfig{Type: "remote", StreamURL: "wss://x", Weight: 1}
			},
			wantErr: "base URL is required",
		},
		{
			name: "remote venue without stream URL",
			mutate: func(c *Config) {
				c.Venues["remote"] = VenueConfig{Type: "remote", BaseURL: "https://x", Weight: 1}
			},
			wantErr: "stream URL is required",
		},
		{
			name: "fill probability above one",
			mutate: func(c *Config) {
				v := c.Venues["simulation"]
				v.FillProbability = 1.5
				c.Venues["simulation"] = v
			},
			wantErr: "between 0 and 1",
		},
		{
			name: "negative weight",
			mutate: func(c *Config) {
				v := c.Venues["simulation"]
				v.Weight = -1
				c.Venues["simulation"] = v
			},
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_RouterVenueOrderMustExist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.VenueOrder = []string{"ghost"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue not found")
}

func TestValidate_RiskLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskLimits.MaxPositionSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_position_size")

	cfg = DefaultConfig()
	cfg.RiskLimits.PriceCollarPct = 1.0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price_collar_pct")
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.System.LogLevel = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")

	// Case-insensitive.
	cfg.System.LogLevel = "debug"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues = nil
	cfg.Portfolio.InitialCash = 0
	cfg.System.LogLevel = "bad"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one venue")
	assert.Contains(t, err.Error(), "initial_cash")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_VENUE_API_KEY", "live_key_12345678")
	t.Setenv("TEST_VENUE_SECRET", "live_secret_12345678")

	content := `app:
  name: mft
  instruments: [NIFTY24FUT]

venues:
  primary:
    type: remote
    weight: 1.0
    base_url: https://venue.example.com
    stream_url: wss://venue.example.com/stream
    api_key: ${TEST_VENUE_API_KEY}
    secret_key: ${TEST_VENUE_SECRET}

router:
  venue_order: [primary]

risk_limits:
  max_position_size: 100
  max_notional_per_order: 1000000
  max_daily_loss: 50000
  max_orders_per_minute: 60
  price_collar_pct: 0.05

risk_manager:
  max_drawdown_pct: 0.10

portfolio:
  initial_cash: 1000000

system:
  log_level: INFO
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "live_key_12345678", cfg.Venues["primary"].APIKey)
	assert.Equal(t, "live_secret_12345678", cfg.Venues["primary"].SecretKey)
	assert.Equal(t, []string{"primary"}, cfg.Router.VenueOrder)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues["primary"] = VenueConfig{
		Type:      "remote",
		Weight:    1,
		BaseURL:   "https://venue.example.com",
		StreamURL: "wss://venue.example.com/stream",
		APIKey:    "live_key_12345678",
		SecretKey: "live_secret_12345678",
	}

	out := cfg.String()
	assert.NotContains(t, out, "live_key_12345678")
	assert.NotContains(t, out, "live_secret_12345678")
	// Long secrets keep their first and last four characters.
	assert.Contains(t, out, "live*********5678")
}

func TestMaskString(t *testing.T) {
	assert.Equal(t, "", maskString(""))
	assert.Equal(t, "********", maskString("short123"))
	got := maskString("abcd_middle_wxyz")
	assert.True(t, strings.HasPrefix(got, "abcd"))
	assert.True(t, strings.HasSuffix(got, "wxyz"))
	assert.NotContains(t, got, "middle")
}
