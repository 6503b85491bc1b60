package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenConfig pre-registers an asset at startup so markets can trade it
// without a separate RPC call.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

type Config struct {
	RPCAddress       string `toml:"RPCAddress"`
	DataDir          string `toml:"DataDir"`
	NetworkName      string `toml:"NetworkName"`
	ProtocolFeeBps   uint64 `toml:"ProtocolFeeBps"`
	ReferrerFeeBps   uint64 `toml:"ReferrerFeeBps"`
	ProtocolFeeOwner string `toml:"ProtocolFeeOwner"`
	LogEnvironment   string `toml:"LogEnvironment"`

	Tokens []TokenConfig `toml:"Tokens"`
}

const maxFeeBps = 10_000

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "bond-local"
	}
	if strings.TrimSpace(c.LogEnvironment) == "" {
		c.LogEnvironment = "local"
	}
}

// Validate rejects configurations the node cannot safely run with.
func (c *Config) Validate() error {
	if c.ProtocolFeeBps > maxFeeBps {
		return fmt.Errorf("config: ProtocolFeeBps %d exceeds %d", c.ProtocolFeeBps, maxFeeBps)
	}
	if c.ReferrerFeeBps > maxFeeBps {
		return fmt.Errorf("config: ReferrerFeeBps %d exceeds %d", c.ReferrerFeeBps, maxFeeBps)
	}
	if c.ProtocolFeeBps+c.ReferrerFeeBps >= maxFeeBps {
		return fmt.Errorf("config: combined fees must stay below %d bps", maxFeeBps)
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for _, token := range c.Tokens {
		symbol := strings.TrimSpace(token.Symbol)
		if symbol == "" {
			return fmt.Errorf("config: token entry missing symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate token %s", symbol)
		}
		seen[symbol] = struct{}{}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
