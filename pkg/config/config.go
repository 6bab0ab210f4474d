// Package config loads the contractooor configuration from a YAML file and the
// environment. Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvRPCURL     = "CONTRACTOOOR_RPC_URL"
	EnvOpenSeaKey = "OPENSEA_API_KEY"
	EnvRedisURL   = "REDIS_URL"
	EnvPrivateKey = "PRIVATE_KEY"
	EnvLogLevel   = "LOG_LEVEL"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Executor ExecutorConfig `yaml:"executor"`
	OpenSea  OpenSeaConfig  `yaml:"opensea"`
	Redis    RedisConfig    `yaml:"redis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ChainConfig selects the node and contracts.
type ChainConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	Contract      string `yaml:"contract"`
	Multicall     string `yaml:"multicall"`
	Confirmations uint64 `yaml:"confirmations"`
	PollInterval  string `yaml:"poll_interval"`

	// PrivateKey is only read from the environment.
	PrivateKey string `yaml:"-"`
}

// ExecutorConfig drives batch submission.
type ExecutorConfig struct {
	BatchSize    int    `yaml:"batch_size"`
	StartBatch   int    `yaml:"start_batch"`
	AllowFailure bool   `yaml:"allow_failure"`
	TransferData string `yaml:"transfer_data"`
}

// OpenSeaConfig configures the metadata client.
type OpenSeaConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	MetadataURL string `yaml:"metadata_url"`
	ImageHost   string `yaml:"image_host"`
	Concurrency int    `yaml:"concurrency"`
	Testnet     bool   `yaml:"testnet"`
}

// RedisConfig enables checkpoints when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MetricsConfig enables the /metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			Multicall:     "0xcA11bde05977b3631167028862bE2a173976CA11",
			Confirmations: 1,
			PollInterval:  "2s",
		},
		Executor: ExecutorConfig{
			BatchSize:  100,
			StartBatch: 1,
		},
		OpenSea: OpenSeaConfig{
			ImageHost:   "lh3.googleusercontent.com",
			Concurrency: 6,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvRPCURL); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv(EnvPrivateKey); v != "" {
		c.Chain.PrivateKey = v
	}
	if v := os.Getenv(EnvOpenSeaKey); v != "" {
		c.OpenSea.APIKey = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the values every command relies on.
func (c *Config) Validate() error {
	var errs []error

	if c.Executor.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.Executor.BatchSize))
	}
	if c.Executor.StartBatch < 1 {
		errs = append(errs, fmt.Errorf("start batch must be at least 1, got %d", c.Executor.StartBatch))
	}
	if c.OpenSea.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("opensea concurrency must be at least 1, got %d", c.OpenSea.Concurrency))
	}
	if c.Chain.Contract != "" && !common.IsHexAddress(c.Chain.Contract) {
		errs = append(errs, fmt.Errorf("contract %q is not an address", c.Chain.Contract))
	}
	if c.Chain.Multicall != "" && !common.IsHexAddress(c.Chain.Multicall) {
		errs = append(errs, fmt.Errorf("multicall %q is not an address", c.Chain.Multicall))
	}
	if c.Executor.TransferData != "" && !isHex(c.Executor.TransferData) {
		errs = append(errs, fmt.Errorf("transfer data %q is not hex", c.Executor.TransferData))
	}
	if _, err := time.ParseDuration(c.Chain.PollInterval); err != nil {
		errs = append(errs, fmt.Errorf("poll interval: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// GetPollInterval returns the receipt poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Chain.PollInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

func isHex(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	_, err := hexutil.Decode(s)
	return err == nil
}
