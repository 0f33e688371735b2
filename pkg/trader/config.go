package trader

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds noise trader parameters, loaded from the environment
type Config struct {
	Symbol          string  `mapstructure:"symbol"`
	Count           int     `mapstructure:"count"`
	MinOrderSize    int64   `mapstructure:"min_order_size"`
	MaxOrderSize    int64   `mapstructure:"max_order_size"`
	MarketOrderProb float64 `mapstructure:"market_order_prob"`
	MaxOpenOrders   int     `mapstructure:"max_open_orders"`
	StartingCash    int     `mapstructure:"starting_cash"`
}

// LoadConfig reads trader settings from TRADER_* environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADER")
	v.AutomaticEnv()

	v.SetDefault("symbol", "ABM")
	v.SetDefault("count", 4)
	v.SetDefault("min_order_size", 1)
	v.SetDefault("max_order_size", 10)
	v.SetDefault("market_order_prob", 0.2)
	v.SetDefault("max_open_orders", 8)
	v.SetDefault("starting_cash", 10_000_000)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trader config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if c.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", c.Count)
	}
	if c.MinOrderSize < 1 {
		return fmt.Errorf("min_order_size must be positive, got %d", c.MinOrderSize)
	}
	if c.MaxOrderSize < c.MinOrderSize {
		return fmt.Errorf("max_order_size %d below min_order_size %d", c.MaxOrderSize, c.MinOrderSize)
	}
	if c.MarketOrderProb < 0 || c.MarketOrderProb > 1 {
		return fmt.Errorf("market_order_prob must be in [0,1], got %f", c.MarketOrderProb)
	}
	if c.StartingCash < 0 {
		return fmt.Errorf("starting_cash must not be negative, got %d", c.StartingCash)
	}
	return nil
}
