// Package config loads the account mapping file. Everything in here is
// account plumbing maintained on the ShipStation front end: store ids,
// tag ids, billing accounts, warehouse addresses and box sizes. Secrets
// never live in this file, they come from Secrets Manager.
package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v3"
)

// Box holds the dimensions and weight of a single packed product.
type Box struct {
	Length float64 `yaml:"length"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	Ounces float64 `yaml:"ounces"`
}

// Address is a warehouse ship-from address.
type Address struct {
	Name       string `yaml:"name"`
	Street     string `yaml:"street"`
	City       string `yaml:"city"`
	State      string `yaml:"state"`
	PostalCode string `yaml:"postal_code"`
	Country    string `yaml:"country"`
}

// Warehouse groups the ShipStation warehouse ids sharing one ship-from
// address.
type Warehouse struct {
	IDs     []int   `yaml:"ids"`
	Address Address `yaml:"address"`
}

// Account holds the per-ShipStation-account mappings.
type Account struct {
	// Stores maps store name to store id, used for the refresh call
	Stores map[string]int `yaml:"stores"`
	// Tags maps tag reason to the tag id created on the front end
	Tags map[string]int `yaml:"tags"`
	// Billing maps carrier code to the bill-to provider account id
	Billing map[string]int `yaml:"billing"`
}

// Config is the full mapping file.
type Config struct {
	Accounts   map[string]Account   `yaml:"accounts"`
	Warehouses map[string]Warehouse `yaml:"warehouses"`
	Skip       struct {
		StoreIDs     []int `yaml:"store_ids"`
		WarehouseIDs []int `yaml:"warehouse_ids"`
	} `yaml:"skip"`
	// Boxes maps a size code to its box, per mapping family
	Boxes map[string]map[string]Box `yaml:"boxes"`
	// SKUs lists products needing special handling
	SKUs struct {
		BillyBass  []string `yaml:"billy_bass"`
		FreshStool []string `yaml:"fresh_stool"`
		Hold       []string `yaml:"hold"`
	} `yaml:"skus"`
	// StoreNames maps store id to the name used in the customer log
	StoreNames map[int]string `yaml:"store_names"`
}

// Tag returns the tag id for an account and reason.
func (c *Config) Tag(account, reason string) (int, error) {
	a, ok := c.Accounts[account]
	if !ok {
		return 0, fmt.Errorf("unknown account: %v", account)
	}
	id, ok := a.Tags[reason]
	if !ok {
		return 0, fmt.Errorf("no tag id for reason %q on account %v", reason, account)
	}
	return id, nil
}

// BillTo returns the billing provider id for an account and carrier.
func (c *Config) BillTo(account, carrier string) (int, error) {
	a, ok := c.Accounts[account]
	if !ok {
		return 0, fmt.Errorf("unknown account: %v", account)
	}
	id, ok := a.Billing[carrier]
	if !ok {
		return 0, fmt.Errorf("no billing account for carrier %v on account %v", carrier, account)
	}
	return id, nil
}

// WarehouseFor returns the ship-from address for a warehouse id.
func (c *Config) WarehouseFor(id int) (string, *Address, error) {
	for name, w := range c.Warehouses {
		for _, wid := range w.IDs {
			if wid == id {
				a := w.Address
				return name, &a, nil
			}
		}
	}
	return "", nil, fmt.Errorf("no ship from location for warehouse %v", id)
}

// SkipStore reports whether orders from a store id are excluded.
func (c *Config) SkipStore(id int) bool {
	for _, s := range c.Skip.StoreIDs {
		if s == id {
			return true
		}
	}
	return false
}

// SkipWarehouse reports whether orders from a warehouse id are excluded.
func (c *Config) SkipWarehouse(id int) bool {
	for _, w := range c.Skip.WarehouseIDs {
		if w == id {
			return true
		}
	}
	return false
}

// Load reads a mapping file. An empty path falls back to CONFIG_PATH,
// then to config.yaml.
func Load(path string) (*Config, error) {

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(b, &c)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	if len(c.Accounts) == 0 {
		return nil, fmt.Errorf("config has no accounts")
	}

	return &c, nil
}
