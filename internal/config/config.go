package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	EtherscanAPIKey string
	AlchemyAPIKey   string
	Network         string
	DAOConfig       string
	DataDir         string
	PgDSN           string
	Workers         int
	BatchSize       uint64
	EtherscanRPS    float64
	AlchemyRPS      float64
	MaxInFlight     int
	QueueDepth      int
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxElapsed      time.Duration
	MetricsAddr     string
	LogLevel        string
}

// Load merges config file, environment variables, and flags into Config.
// API keys are usually supplied as HARVESTER_ETHERSCAN_API_KEY and
// HARVESTER_ALCHEMY_API_KEY.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", "mainnet")
	v.SetDefault("dao-config", "./daos.json")
	v.SetDefault("data-dir", "./data")
	v.SetDefault("workers", 4)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("etherscan-rps", 5.0)
	v.SetDefault("alchemy-rps", 10.0)
	v.SetDefault("max-in-flight", 4)
	v.SetDefault("queue-depth", 64)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("max-elapsed", 2*time.Minute)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		EtherscanAPIKey: v.GetString("etherscan-api-key"),
		AlchemyAPIKey:   v.GetString("alchemy-api-key"),
		Network:         v.GetString("network"),
		DAOConfig:       v.GetString("dao-config"),
		DataDir:         v.GetString("data-dir"),
		PgDSN:           v.GetString("pg-dsn"),
		Workers:         v.GetInt("workers"),
		BatchSize:       v.GetUint64("batch-size"),
		EtherscanRPS:    v.GetFloat64("etherscan-rps"),
		AlchemyRPS:      v.GetFloat64("alchemy-rps"),
		MaxInFlight:     v.GetInt("max-in-flight"),
		QueueDepth:      v.GetInt("queue-depth"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		MaxElapsed:      v.GetDuration("max-elapsed"),
		MetricsAddr:     v.GetString("metrics-addr"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.EtherscanAPIKey == "" {
		return fmt.Errorf("etherscan api key is required")
	}
	if c.AlchemyAPIKey == "" {
		return fmt.Errorf("alchemy api key is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	return nil
}
