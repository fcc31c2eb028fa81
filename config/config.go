package config

import (
	"fmt"
	"os"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"github.com/tesseradb/tessera/app"
	"github.com/tesseradb/tessera/app/logger"
	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/metric"
	"github.com/tesseradb/tessera/util/crypto"
)

const CName = "config"

func NewFromFile(path string) (c *Config, err error) {
	c = &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return
}

type Config struct {
	Logger  logger.Config `yaml:"logger"`
	Metric  metric.Config `yaml:"metric"`
	Account Account       `yaml:"account"`
	// Databases to open on start, by root entry id.
	Databases []Database `yaml:"databases"`
}

// Account is the local authoring identity: the settings name of the key and
// its base58-encoded ed25519 private key.
type Account struct {
	KeyName    string `yaml:"keyName"`
	SigningKey string `yaml:"signingKey"`
}

type Database struct {
	RootId string `yaml:"rootId"`
	// Strategy applies only when the database is created, not opened.
	Strategy string `yaml:"heightStrategy"`
	Name     string `yaml:"name"`
}

func (c *Config) Init(a *app.App) (err error) {
	c.Logger.ApplyGlobal()
	return nil
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetMetric() metric.Config {
	return c.Metric
}

// DecodeSigningKey parses the account's private key.
func (c *Config) DecodeSigningKey() (crypto.PrivKey, error) {
	raw, err := base58.Decode(c.Account.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("malformed signing key: %w", err)
	}
	return crypto.UnmarshalEd25519PrivateKey(raw)
}

// HeightStrategy parses a database's configured strategy, defaulting to
// incremental when unset.
func (d Database) HeightStrategy() (crdt.HeightStrategy, error) {
	if d.Strategy == "" {
		return crdt.Incremental, nil
	}
	return crdt.ParseHeightStrategy(d.Strategy)
}
