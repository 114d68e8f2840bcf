// Package config holds the on-disk configuration of boltzliquid: the Liquid
// network, the chain backend, logging and the defaults used when building
// claim and refund transactions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vulpemventures/boltz-core-liquid/internal/backend"
	"github.com/vulpemventures/boltz-core-liquid/internal/chain"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultDataDir is used when no data directory is given.
const DefaultDataDir = "~/.boltzliquid"

var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration.
type Config struct {
	// Network is liquid, testnet or regtest.
	Network chain.Network `yaml:"network"`

	// DataDir holds the config file and the swap database.
	DataDir string `yaml:"data_dir"`

	// Backend overrides the default backend of the network.
	Backend *backend.Config `yaml:"backend,omitempty"`

	Logging LoggingConfig `yaml:"logging"`

	Swap SwapConfig `yaml:"swap"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// SwapConfig holds the defaults for claim and refund transactions.
type SwapConfig struct {
	// Fee is the absolute miner fee in satoshis.
	Fee uint64 `yaml:"fee"`

	// AddFeeOutput appends the explicit fee output Elements requires.
	// Only disable it when the caller adds the fee output itself.
	AddFeeOutput bool `yaml:"add_fee_output"`

	// RBF signals replaceability on claim transactions.
	RBF bool `yaml:"rbf"`

	// MinConfirmations of a lockup before it is claimed.
	MinConfirmations uint32 `yaml:"min_confirmations"`

	// SafetyMarginBlocks stops claims this many blocks before the timeout,
	// where a refund could race the claim.
	SafetyMarginBlocks uint32 `yaml:"safety_margin_blocks"`

	// PollInterval of the swap monitor.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultSwapConfig returns the swap defaults of a network.
// Liquid blocks come every minute so margins are counted in minutes.
func DefaultSwapConfig(network chain.Network) SwapConfig {
	cfg := SwapConfig{
		Fee:                300,
		AddFeeOutput:       true,
		RBF:                false,
		MinConfirmations:   2,
		SafetyMarginBlocks: 10,
		PollInterval:       30 * time.Second,
	}

	if network == chain.Regtest {
		cfg.MinConfirmations = 0
		cfg.SafetyMarginBlocks = 1
		cfg.PollInterval = time.Second
	}
	return cfg
}

// DefaultConfig returns a Config with sensible defaults for network.
func DefaultConfig(network chain.Network) *Config {
	return &Config{
		Network: network,
		DataDir: DefaultDataDir,
		Logging: LoggingConfig{
			Level: "info",
		},
		Swap: DefaultSwapConfig(network),
	}
}

// Params returns the chain parameters of the configured network.
func (c *Config) Params() (*chain.Params, error) {
	params, ok := chain.Get(c.Network)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported network %q", ErrInvalidConfig, c.Network)
	}
	return params, nil
}

// BackendConfig returns the configured backend, or the network default.
func (c *Config) BackendConfig() *backend.Config {
	if c.Backend != nil && c.Backend.URL != "" {
		return c.Backend
	}
	return backend.DefaultConfig(c.Network)
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if !chain.IsSupported(c.Network) {
		return fmt.Errorf("%w: unsupported network %q", ErrInvalidConfig, c.Network)
	}
	if c.Swap.Fee == 0 {
		return fmt.Errorf("%w: swap fee must be positive", ErrInvalidConfig)
	}
	if c.Swap.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.Backend != nil && c.Backend.URL != "" {
		switch c.Backend.Type {
		case backend.TypeEsplora, backend.TypeElements:
		default:
			return fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, c.Backend.Type)
		}
	}
	return nil
}

// LoadConfig loads configuration from the YAML file in dataDir.
// If the file doesn't exist, it creates one with defaults for network.
func LoadConfig(dataDir string, network chain.Network) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig(network)
		cfg.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unset keys keep the defaults of the network stored in the file.
	var header struct {
		Network chain.Network `yaml:"network"`
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if header.Network == "" {
		header.Network = network
	}

	cfg := DefaultConfig(header.Network)
	cfg.DataDir = dataDir
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# boltzliquid configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// IsSafeToClaim reports whether a claim at currentHeight leaves more than
// safetyMargin blocks before the refund path opens at timeoutHeight.
func IsSafeToClaim(currentHeight, timeoutHeight, safetyMargin uint32) bool {
	if currentHeight >= timeoutHeight {
		return false
	}
	return currentHeight+safetyMargin < timeoutHeight
}

// BlocksUntilTimeout returns the number of blocks until timeout.
// Returns 0 if already past timeout.
func BlocksUntilTimeout(currentHeight, timeoutHeight uint32) uint32 {
	if currentHeight >= timeoutHeight {
		return 0
	}
	return timeoutHeight - currentHeight
}

// CanRefund reports whether a refund locked to timeoutHeight can be mined
// in the block after currentHeight. nLockTime must be below the height of
// the including block.
func CanRefund(currentHeight, timeoutHeight uint32) bool {
	return currentHeight >= timeoutHeight
}
