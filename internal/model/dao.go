package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ContractType tags the role a contract plays inside a DAO.
type ContractType string

const (
	TypeGovernor ContractType = "governor"
	TypeToken    ContractType = "token"
	TypeTimelock ContractType = "timelock"
	TypeTreasury ContractType = "treasury"
	TypeProxy    ContractType = "proxy"
)

var knownContractTypes = map[ContractType]struct{}{
	TypeGovernor: {},
	TypeToken:    {},
	TypeTimelock: {},
	TypeTreasury: {},
	TypeProxy:    {},
}

// Contract describes one configured contract to collect data for.
// Address is stored in canonical lowercase hex.
type Contract struct {
	Address    string       `json:"address"`
	Type       ContractType `json:"type"`
	Name       string       `json:"name"`
	DeployedAt uint64       `json:"deployedAt"`
}

// DAO groups the contracts collected together under one output directory.
type DAO struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Contracts   []Contract `json:"contracts"`
	ChainID     uint64     `json:"chainId"`
}

// Validate checks structural validity and canonicalizes addresses in place.
func (d *DAO) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dao name is required")
	}
	if d.ChainID == 0 {
		return fmt.Errorf("dao %s: chain id must be positive", d.Name)
	}
	if len(d.Contracts) == 0 {
		return fmt.Errorf("dao %s: at least one contract is required", d.Name)
	}
	for i := range d.Contracts {
		if err := d.Contracts[i].validate(); err != nil {
			return fmt.Errorf("dao %s: %w", d.Name, err)
		}
	}
	return nil
}

func (c *Contract) validate() error {
	if c.Name == "" {
		return fmt.Errorf("contract name is required")
	}
	if !common.IsHexAddress(c.Address) {
		return fmt.Errorf("contract %s: invalid address %q", c.Name, c.Address)
	}
	if _, ok := knownContractTypes[c.Type]; !ok {
		return fmt.Errorf("contract %s: unknown type %q", c.Name, c.Type)
	}
	c.Address = strings.ToLower(common.HexToAddress(c.Address).Hex())
	return nil
}

// LoadDAOs reads and validates the DAO config file. A file holding a single
// DAO object is accepted alongside the usual list form.
func LoadDAOs(path string) ([]DAO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dao config: %w", err)
	}

	var daos []DAO
	if err := json.Unmarshal(data, &daos); err != nil {
		var single DAO
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("parse dao config: %w", err)
		}
		daos = []DAO{single}
	}

	for i := range daos {
		if err := daos[i].Validate(); err != nil {
			return nil, err
		}
	}
	return daos, nil
}
