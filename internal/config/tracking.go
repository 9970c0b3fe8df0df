package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// ContractSpec is a registry contract and the events read from it.
type ContractSpec struct {
	Name    string   `yaml:"name"`
	Address string   `yaml:"address"`
	Events  []string `yaml:"events"`
}

// ChainSpec is one chain the events stage watches.
type ChainSpec struct {
	Name         string         `yaml:"name"`
	DisplayName  string         `yaml:"display_name"`
	RPCEnv       string         `yaml:"rpc_env"`
	InitialBlock uint64         `yaml:"initial_block"`
	MaxBlocks    uint64         `yaml:"max_blocks"`
	Contracts    []ContractSpec `yaml:"contracts"`
}

// Tracking lists what the ingestion stages follow.
type Tracking struct {
	Chains    []ChainSpec `yaml:"chains"`
	Repos     []string    `yaml:"repos"`
	Subgraphs struct {
		Omen     string `yaml:"omen"`
		Registry string `yaml:"registry"`
	} `yaml:"subgraphs"`
	Omen struct {
		MarketCreator string `yaml:"market_creator"`
	} `yaml:"omen"`
	Governance struct {
		Protocol string `yaml:"protocol"`
	} `yaml:"governance"`
}

// DefaultTracking is used when no tracking file is configured.
func DefaultTracking() Tracking {
	var t Tracking
	t.Chains = []ChainSpec{
		{
			Name:         "ethereum",
			DisplayName:  "Ethereum",
			RPCEnv:       "ETHEREUM_LEDGER_RPC",
			InitialBlock: 20_000_000,
			Contracts: []ContractSpec{
				{Name: "ServiceRegistry", Address: "0x48b6af7B12C71f09e2fC8aF4855De4Ff54e775cA", Events: []string{"CreateService"}},
				{Name: "AgentRegistry", Address: "0x2F1f7D38e4772884b88f3eCd8B6b9faCdC319112", Events: []string{"CreateUnit"}},
				{Name: "ComponentRegistry", Address: "0x15bd56669F57192a97dF41A2aa8f4403e9491776", Events: []string{"CreateUnit"}},
			},
		},
		{
			Name:         "gnosis",
			DisplayName:  "Gnosis",
			RPCEnv:       "GNOSIS_LEDGER_RPC",
			InitialBlock: 34_000_000,
			Contracts: []ContractSpec{
				{Name: "ServiceRegistryL2", Address: "0x9338b5153AE39BB89f50468E608eD9d764B755fD", Events: []string{"CreateService"}},
			},
		},
	}
	t.Repos = []string{"valory-xyz/open-autonomy", "valory-xyz/open-aea", "valory-xyz/autonolas-registries"}
	t.Subgraphs.Omen = "https://api.thegraph.com/subgraphs/name/protofire/omen-xdai"
	t.Subgraphs.Registry = "https://subgraph.autonolas.tech/subgraphs/name/autonolas"
	t.Governance.Protocol = "autonolas"
	return t
}

// LoadTracking reads a YAML tracking file. An empty path or a missing file
// yields DefaultTracking.
func LoadTracking(path string) (Tracking, error) {
	if path == "" {
		return DefaultTracking(), nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultTracking(), nil
	}
	if err != nil {
		return Tracking{}, fmt.Errorf("read tracking file: %w", err)
	}
	var t Tracking
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tracking{}, fmt.Errorf("parse tracking file %s: %w", path, err)
	}
	return t, t.Validate()
}

// Validate checks that every chain can be wired.
func (t Tracking) Validate() error {
	seen := map[string]bool{}
	for _, c := range t.Chains {
		if c.Name == "" {
			return errors.New("tracking: chain without a name")
		}
		if seen[c.Name] {
			return fmt.Errorf("tracking: chain %q listed twice", c.Name)
		}
		seen[c.Name] = true
		if c.RPCEnv == "" {
			return fmt.Errorf("tracking: chain %q has no rpc_env", c.Name)
		}
		for _, ct := range c.Contracts {
			if ct.Address == "" || len(ct.Events) == 0 {
				return fmt.Errorf("tracking: contract %q on %s needs an address and events", ct.Name, c.Name)
			}
		}
	}
	return nil
}
