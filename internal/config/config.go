package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Version  int            `yaml:"version"`
	Store    StoreConfig    `yaml:"store"`
	Identity IdentityConfig `yaml:"identity"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// IdentityConfig points at a casbin grouping-policy file, or inlines the
// memberships directly for small deployments.
type IdentityConfig struct {
	PolicyPath  string              `yaml:"policy_path"`
	Memberships map[string][]string `yaml:"memberships"`
}

func ParseYAML(b []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}
	if c.Version != 1 {
		return Config{}, errors.New("config: unsupported version")
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return Config{}, errors.New("config: postgres driver requires dsn")
		}
	case DriverSQLite, DriverMemory:
	case "":
		return Config{}, errors.New("config: missing store driver")
	default:
		return Config{}, errors.New("config: unknown store driver (expected postgres|sqlite|memory)")
	}
	if c.Identity.PolicyPath != "" && len(c.Identity.Memberships) > 0 {
		return Config{}, errors.New("config: identity policy_path and memberships are mutually exclusive")
	}
	return c, nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseYAML(b)
}
