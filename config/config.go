package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the simulator configuration
type Config struct {
	Simulation struct {
		Symbol             string        `yaml:"symbol"`
		DataFile           string        `yaml:"data_file"`
		BookDepth          int           `yaml:"book_depth"`
		MakerFeeRate       string        `yaml:"maker_fee_rate"`
		TakerFeeRate       string        `yaml:"taker_fee_rate"`
		MinTick            time.Duration `yaml:"min_tick"`
		AnalyticsInterval  time.Duration `yaml:"analytics_interval"`
		MarketDataInterval time.Duration `yaml:"market_data_interval"`
		WakeUpInterval     time.Duration `yaml:"wake_up_interval"`
		MaxJitter          time.Duration `yaml:"max_jitter"`
		Seed               int64         `yaml:"seed"`
	} `yaml:"simulation"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled    bool   `yaml:"enabled"`
		BrokerAddr string `yaml:"broker_addr"`
		Topic      string `yaml:"topic"`
	} `yaml:"kafka"`

	Otel struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"otel"`
}

var (
	configFile = flag.String("config", "", "Path to config file (YAML)")
	dataFile   = flag.String("data", "", "Path to order flow CSV file")
	symbol     = flag.String("symbol", "ABM", "Symbol to simulate")
	seed       = flag.Int64("seed", 7, "Random seed for the run")
	logLevel   = flag.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log_format", "pretty", "Log format: json, pretty")
)

// LoadConfig loads the configuration from command line flags and optionally from a config file
func LoadConfig() (*Config, error) {
	flag.Parse()

	config := &Config{}
	config.Simulation.Symbol = *symbol
	config.Simulation.DataFile = *dataFile
	config.Simulation.BookDepth = 10
	config.Simulation.MakerFeeRate = "0.002"
	config.Simulation.TakerFeeRate = "0.005"
	config.Simulation.MinTick = 10 * time.Millisecond
	config.Simulation.AnalyticsInterval = 100 * time.Millisecond
	config.Simulation.MarketDataInterval = 100 * time.Millisecond
	config.Simulation.WakeUpInterval = 500 * time.Millisecond
	config.Simulation.MaxJitter = 5 * time.Millisecond
	config.Simulation.Seed = *seed
	config.Log.Level = *logLevel
	config.Log.Format = *logFormat
	config.Redis.Addr = "localhost:6379"
	config.Redis.Prefix = "marketsim"
	config.Kafka.BrokerAddr = "localhost:9092"
	config.Kafka.Topic = "fills"
	config.Otel.Endpoint = "localhost:4317"

	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(yamlFile, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		log.Printf("Loaded configuration from %s", *configFile)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks cross-field constraints the YAML schema cannot express
func (c *Config) Validate() error {
	if c.Simulation.Symbol == "" {
		return fmt.Errorf("simulation.symbol must not be empty")
	}
	if c.Simulation.BookDepth < 1 {
		return fmt.Errorf("simulation.book_depth must be positive, got %d", c.Simulation.BookDepth)
	}
	if c.Simulation.MinTick <= 0 {
		return fmt.Errorf("simulation.min_tick must be positive, got %s", c.Simulation.MinTick)
	}
	if c.Simulation.MaxJitter < 0 {
		return fmt.Errorf("simulation.max_jitter must not be negative, got %s", c.Simulation.MaxJitter)
	}
	return nil
}
