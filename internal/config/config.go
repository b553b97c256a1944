// Package config handles configuration management with validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure.
type Config struct {
	App         AppConfig              `yaml:"app"`
	Venues      map[string]VenueConfig `yaml:"venues"`
	Router      RouterConfig           `yaml:"router"`
	RiskLimits  RiskLimitsConfig       `yaml:"risk_limits"`
	RiskManager RiskManagerConfig      `yaml:"risk_manager"`
	Portfolio   PortfolioConfig        `yaml:"portfolio"`
	System      SystemConfig           `yaml:"system"`
	Telemetry   TelemetryConfig        `yaml:"telemetry"`
	Concurrency ConcurrencyConfig      `yaml:"concurrency"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string   `yaml:"name"`
	Instruments []string `yaml:"instruments"`
}

// VenueConfig contains per-venue settings. Type selects the adapter
// implementation: "simulated" or "remote".
type VenueConfig struct {
	Type            string  `yaml:"type"`
	Weight          float64 `yaml:"weight"`
	BaseURL         string  `yaml:"base_url"`
	StreamURL       string  `yaml:"stream_url"`
	APIKey          string  `yaml:"api_key"`
	SecretKey       string  `yaml:"secret_key"`
	FillProbability float64 `yaml:"fill_probability"`
	MinFillDelayMs  int     `yaml:"min_fill_delay_ms"`
	MaxFillDelayMs  int     `yaml:"max_fill_delay_ms"`
}

// RouterConfig contains smart order router settings.
type RouterConfig struct {
	VenueOrder             []string `yaml:"venue_order"` // tie-break priority
	MonitorIntervalSeconds int      `yaml:"monitor_interval_seconds"`
	OrderTimeoutSeconds    int      `yaml:"order_timeout_seconds"`
	SubmitRateLimit        float64  `yaml:"submit_rate_limit"`
	SubmitBurst            int      `yaml:"submit_burst"`
}

// RiskLimitsConfig contains the pre-trade risk gate limits.
type RiskLimitsConfig struct {
	MaxPositionSize     int64   `yaml:"max_position_size"`
	MaxNotionalPerOrder float64 `yaml:"max_notional_per_order"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	MaxOrdersPerMinute  int     `yaml:"max_orders_per_minute"`
	PriceCollarPct      float64 `yaml:"price_collar_pct"`
}

// RiskManagerConfig contains the continuous risk manager settings.
type RiskManagerConfig struct {
	MaxPositionValue       float64 `yaml:"max_position_value"`
	MaxPortfolioValue      float64 `yaml:"max_portfolio_value"`
	MaxDrawdownPct         float64 `yaml:"max_drawdown_pct"`
	MaxConcentrationPct    float64 `yaml:"max_concentration_pct"`
	MaxVaRPct              float64 `yaml:"max_var_pct"`
	DailyVolatilityPct     float64 `yaml:"daily_volatility_pct"`
	MetricsIntervalSeconds int     `yaml:"metrics_interval_seconds"`
	MonitorIntervalSeconds int     `yaml:"monitor_interval_seconds"`
}

// CommissionConfig contains the fee schedule. All components are functions
// of turnover only; the constants are policy, not load-bearing precision.
type CommissionConfig struct {
	BrokerageCap    float64 `yaml:"brokerage_cap"`
	BrokerageRate   float64 `yaml:"brokerage_rate"`
	StatutoryRate   float64 `yaml:"statutory_rate"`
	TransactionRate float64 `yaml:"transaction_rate"`
	TaxRate         float64 `yaml:"tax_rate"`
}

// PortfolioConfig contains portfolio engine settings.
type PortfolioConfig struct {
	InitialCash float64          `yaml:"initial_cash"`
	HistoryDB   string           `yaml:"history_db"`
	Commission  CommissionConfig `yaml:"commission"`
}

// SystemConfig contains system settings.
type SystemConfig struct {
	LogLevel     string `yaml:"log_level"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ConcurrencyConfig contains worker pool settings.
type ConcurrencyConfig struct {
	FillPoolSize   int `yaml:"fill_pool_size"`
	FillPoolBuffer int `yaml:"fill_pool_buffer"`
	BusPoolSize    int `yaml:"bus_pool_size"`
	BusPoolBuffer  int `yaml:"bus_pool_buffer"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateVenues(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRouter(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRiskLimits(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRiskManager(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validatePortfolio(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateVenues() error {
	if len(c.Venues) == 0 {
		return ValidationError{
			Field:   "venues",
			Message: "at least one venue must be configured",
		}
	}

	for name, venue := range c.Venues {
		switch venue.Type {
		case "simulated":
			if venue.FillProbability < 0 || venue.FillProbability > 1 {
				return ValidationError{
					Field:   fmt.Sprintf("venues.%s.fill_probability", name),
					Value:   venue.FillProbability,
					Message: "must be between 0 and 1",
				}
			}
		case "remote":
			if venue.BaseURL == "" {
				return ValidationError{
					Field:   fmt.Sprintf("venues.%s.base_url", name),
					Message: "base URL is required for remote venues",
				}
			}
			if venue.StreamURL == "" {
				return ValidationError{
					Field:   fmt.Sprintf("venues.%s.stream_url", name),
					Message: "stream URL is required for remote venues",
				}
			}
		default:
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s.type", name),
				Value:   venue.Type,
				Message: "must be one of: simulated, remote",
			}
		}

		if venue.Weight < 0 {
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s.weight", name),
				Value:   venue.Weight,
				Message: "weight must not be negative",
			}
		}
	}

	return nil
}

func (c *Config) validateRouter() error {
	for _, name := range c.Router.VenueOrder {
		if _, ok := c.Venues[name]; !ok {
			return ValidationError{
				Field:   "router.venue_order",
				Value:   name,
				Message: "venue not found in venues section",
			}
		}
	}
	if c.Router.OrderTimeoutSeconds < 0 {
		return ValidationError{
			Field:   "router.order_timeout_seconds",
			Value:   c.Router.OrderTimeoutSeconds,
			Message: "must not be negative",
		}
	}
	return nil
}

func (c *Config) validateRiskLimits() error {
	if c.RiskLimits.MaxPositionSize <= 0 {
		return ValidationError{
			Field:   "risk_limits.max_position_size",
			Value:   c.RiskLimits.MaxPositionSize,
			Message: "must be positive",
		}
	}
	if c.RiskLimits.MaxOrdersPerMinute <= 0 {
		return ValidationError{
			Field:   "risk_limits.max_orders_per_minute",
			Value:   c.RiskLimits.MaxOrdersPerMinute,
			Message: "must be positive",
		}
	}
	if c.RiskLimits.PriceCollarPct <= 0 || c.RiskLimits.PriceCollarPct >= 1 {
		return ValidationError{
			Field:   "risk_limits.price_collar_pct",
			Value:   c.RiskLimits.PriceCollarPct,
			Message: "must be between 0 and 1 exclusive",
		}
	}
	return nil
}

func (c *Config) validateRiskManager() error {
	if c.RiskManager.MaxDrawdownPct <= 0 || c.RiskManager.MaxDrawdownPct >= 1 {
		return ValidationError{
			Field:   "risk_manager.max_drawdown_pct",
			Value:   c.RiskManager.MaxDrawdownPct,
			Message: "must be between 0 and 1 exclusive",
		}
	}
	return nil
}

func (c *Config) validatePortfolio() error {
	if c.Portfolio.InitialCash <= 0 {
		return ValidationError{
			Field:   "portfolio.initial_cash",
			Value:   c.Portfolio.InitialCash,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns the configuration with sensitive data masked.
func (c *Config) String() string {
	configCopy := *c
	configCopy.Venues = make(map[string]VenueConfig, len(c.Venues))
	for name, venue := range c.Venues {
		venue.APIKey = maskString(venue.APIKey)
		venue.SecretKey = maskString(venue.SecretKey)
		configCopy.Venues[name] = venue
	}

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration suitable for testing.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "midfreq-trader",
			Instruments: []string{"NIFTY24FUT", "BANKNIFTY24FUT"},
		},
		Venues: map[string]VenueConfig{
			"simulation": {
				Type:            "simulated",
				Weight:          1.0,
				FillProbability: 0.9,
				MinFillDelayMs:  100,
				MaxFillDelayMs:  500,
			},
		},
		Router: RouterConfig{
			VenueOrder:             []string{"simulation"},
			MonitorIntervalSeconds: 10,
			OrderTimeoutSeconds:    300,
			SubmitRateLimit:        25,
			SubmitBurst:            30,
		},
		RiskLimits: RiskLimitsConfig{
			MaxPositionSize:     100,
			MaxNotionalPerOrder: 1_000_000,
			MaxDailyLoss:        50_000,
			MaxOrdersPerMinute:  60,
			PriceCollarPct:      0.05,
		},
		RiskManager: RiskManagerConfig{
			MaxPositionValue:       1_000_000,
			MaxPortfolioValue:      10_000_000,
			MaxDrawdownPct:         0.10,
			MaxConcentrationPct:    0.15,
			MaxVaRPct:              0.02,
			DailyVolatilityPct:     0.02,
			MetricsIntervalSeconds: 300,
			MonitorIntervalSeconds: 60,
		},
		Portfolio: PortfolioConfig{
			InitialCash: 1_000_000,
			HistoryDB:   "orders.db",
			Commission: CommissionConfig{
				BrokerageCap:    20,
				BrokerageRate:   0.0003,
				StatutoryRate:   0.0001,
				TransactionRate: 0.000019,
				TaxRate:         0.18,
			},
		},
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Concurrency: ConcurrencyConfig{
			FillPoolSize:   4,
			FillPoolBuffer: 256,
			BusPoolSize:    4,
			BusPoolBuffer:  1024,
		},
	}
}
