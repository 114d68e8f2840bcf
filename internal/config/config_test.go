package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vulpemventures/boltz-core-liquid/internal/backend"
	"github.com/vulpemventures/boltz-core-liquid/internal/chain"
)

func TestDefaultConfig(t *testing.T) {
	for _, network := range []chain.Network{chain.Liquid, chain.Testnet, chain.Regtest} {
		cfg := DefaultConfig(network)
		if cfg.Network != network {
			t.Errorf("%s: network = %s", network, cfg.Network)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s: default config invalid: %v", network, err)
		}
		if !cfg.Swap.AddFeeOutput {
			t.Errorf("%s: fee output should be added by default", network)
		}
		if _, err := cfg.Params(); err != nil {
			t.Errorf("%s: Params() error = %v", network, err)
		}
	}

	regtest := DefaultConfig(chain.Regtest)
	if regtest.Swap.MinConfirmations != 0 {
		t.Errorf("regtest min confirmations = %d, want 0", regtest.Swap.MinConfirmations)
	}
	liquid := DefaultConfig(chain.Liquid)
	if liquid.Swap.PollInterval != 30*time.Second {
		t.Errorf("liquid poll interval = %s, want 30s", liquid.Swap.PollInterval)
	}
}

func TestBackendConfig(t *testing.T) {
	cfg := DefaultConfig(chain.Testnet)
	if got := cfg.BackendConfig(); got.Type != backend.TypeEsplora {
		t.Errorf("default backend type = %s, want esplora", got.Type)
	}

	cfg.Backend = &backend.Config{Type: backend.TypeElements, URL: "http://localhost:7041"}
	if got := cfg.BackendConfig(); got.URL != "http://localhost:7041" {
		t.Errorf("backend url = %s, override ignored", got.URL)
	}

	// An override without URL falls back to the default.
	cfg.Backend = &backend.Config{Type: backend.TypeElements}
	if got := cfg.BackendConfig(); got.Type != backend.TypeEsplora {
		t.Errorf("backend type = %s, want esplora fallback", got.Type)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown network", func(c *Config) { c.Network = "bitcoin" }},
		{"zero fee", func(c *Config) { c.Swap.Fee = 0 }},
		{"zero poll interval", func(c *Config) { c.Swap.PollInterval = 0 }},
		{"unknown backend", func(c *Config) {
			c.Backend = &backend.Config{Type: "electrum", URL: "tcp://localhost:50001"}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig(chain.Liquid)
			tc.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "boltzliquid-config-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	cfg, err := LoadConfig(tmpDir, chain.Regtest)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Network != chain.Regtest {
		t.Errorf("network = %s, want regtest", cfg.Network)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ConfigFileName)); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	// Loading again reads the file back.
	loaded, err := LoadConfig(tmpDir, chain.Liquid)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Network != chain.Regtest {
		t.Errorf("network = %s, stored network should win", loaded.Network)
	}
	if loaded.Swap != cfg.Swap {
		t.Errorf("swap config = %+v, want %+v", loaded.Swap, cfg.Swap)
	}
	if loaded.DataDir != tmpDir {
		t.Errorf("data dir = %s, want %s", loaded.DataDir, tmpDir)
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "boltzliquid-config-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	data := strings.Join([]string{
		"network: testnet",
		"backend:",
		"  type: elements",
		"  url: http://127.0.0.1:18891",
		"  rpc_user: user",
		"  rpc_pass: pass",
		"swap:",
		"  fee: 500",
		"  rbf: true",
		"  poll_interval: 5s",
		"",
	}, "\n")
	if err := os.WriteFile(ConfigPath(tmpDir), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(tmpDir, chain.Liquid)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Network != chain.Testnet {
		t.Errorf("network = %s, want testnet", cfg.Network)
	}
	if cfg.Swap.Fee != 500 || !cfg.Swap.RBF || cfg.Swap.PollInterval != 5*time.Second {
		t.Errorf("unexpected swap config: %+v", cfg.Swap)
	}
	// untouched keys keep their defaults
	if !cfg.Swap.AddFeeOutput || cfg.Swap.SafetyMarginBlocks != 10 {
		t.Errorf("defaults lost: %+v", cfg.Swap)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %s, want info", cfg.Logging.Level)
	}
	b := cfg.BackendConfig()
	if b.Type != backend.TypeElements || b.RPCUser != "user" {
		t.Errorf("unexpected backend: %+v", b)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "boltzliquid-config-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	if err := os.WriteFile(ConfigPath(tmpDir), []byte("network: dogecoin\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(tmpDir, chain.Liquid); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadConfig() error = %v, want ErrInvalidConfig", err)
	}

	if err := os.WriteFile(ConfigPath(tmpDir), []byte("network: [\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(tmpDir, chain.Liquid); err == nil {
		t.Error("LoadConfig() should fail on malformed yaml")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := expandPath("~/.boltzliquid"); got != filepath.Join(home, ".boltzliquid") {
		t.Errorf("expandPath() = %s", got)
	}
	if got := expandPath("/tmp/data"); got != "/tmp/data" {
		t.Errorf("expandPath() = %s, absolute paths must be kept", got)
	}
}

func TestTimeoutHelpers(t *testing.T) {
	tests := []struct {
		current, timeout, margin uint32
		safe, refund             bool
		remaining                uint32
	}{
		{100, 200, 10, true, false, 100},
		{190, 200, 10, false, false, 10},
		{189, 200, 10, true, false, 11},
		{199, 200, 0, true, false, 1},
		{200, 200, 0, false, true, 0},
		{250, 200, 10, false, true, 0},
	}

	for _, tc := range tests {
		if got := IsSafeToClaim(tc.current, tc.timeout, tc.margin); got != tc.safe {
			t.Errorf("IsSafeToClaim(%d, %d, %d) = %v, want %v", tc.current, tc.timeout, tc.margin, got, tc.safe)
		}
		if got := CanRefund(tc.current, tc.timeout); got != tc.refund {
			t.Errorf("CanRefund(%d, %d) = %v, want %v", tc.current, tc.timeout, got, tc.refund)
		}
		if got := BlocksUntilTimeout(tc.current, tc.timeout); got != tc.remaining {
			t.Errorf("BlocksUntilTimeout(%d, %d) = %d, want %d", tc.current, tc.timeout, got, tc.remaining)
		}
	}
}
