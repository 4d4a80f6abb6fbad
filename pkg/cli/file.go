package cli

import (
	"fmt"
	"os"

	"github.com/99designs/keyring"
	"gopkg.in/yaml.v3"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/notify"
)

// fileConfig is the layout of the YAML configuration file.
type fileConfig struct {
	LogLevel  string `yaml:"logLevel"`
	Connector string `yaml:"connector"`
	Lock      struct {
		SerialNumber string `yaml:"serialNumber"`
		DeviceID     string `yaml:"deviceId"`
		Name         string `yaml:"name"`
	} `yaml:"lock"`
	Key struct {
		File        string `yaml:"file"`
		KeyringName string `yaml:"keyringName"`
	} `yaml:"key"`
	API struct {
		BaseURL     string `yaml:"baseUrl"`
		TokenFile   string `yaml:"tokenFile"`
		KeyringName string `yaml:"tokenKeyringName"`
	} `yaml:"api"`
	Cache struct {
		File     string `yaml:"file"`
		Database string `yaml:"database"`
		Keyring  bool   `yaml:"keyring"`
	} `yaml:"cache"`
	Keyring struct {
		Type string `yaml:"type"`
		Path string `yaml:"path"`
	} `yaml:"keyring"`
	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"clientId"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Prefix   string `yaml:"prefix"`
		QoS      byte   `yaml:"qos"`
	} `yaml:"mqtt"`
}

// LoadConfigFile fills fields of c that are still empty from the YAML file named by
// c.ConfigFilename. It does nothing if no file is configured.
func (c *Config) LoadConfigFile() error {
	if c.ConfigFilename == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigFilename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.applyConfigFile(data)
}

func (c *Config) applyConfigFile(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", c.ConfigFilename, err)
	}
	fill := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}
	fill(&c.LogLevel, fc.LogLevel)
	if c.Flags.isSet(FlagLock) {
		fill(&c.SerialNumber, fc.Lock.SerialNumber)
		fill(&c.DeviceID, fc.Lock.DeviceID)
		fill(&c.LockName, fc.Lock.Name)
	}
	if c.Flags.isSet(FlagPrivateKey) && c.KeyFilename == "" && c.KeyringKeyName == "" {
		c.KeyFilename = fc.Key.File
		c.KeyringKeyName = fc.Key.KeyringName
	}
	if c.Flags.isSet(FlagAccount) {
		if c.TokenFilename == "" && c.KeyringTokenName == "" {
			c.TokenFilename = fc.API.TokenFile
			c.KeyringTokenName = fc.API.KeyringName
		}
		fill(&c.APIBaseURL, fc.API.BaseURL)
	}
	if c.Flags.isSet(FlagCache) && c.CacheFilename == "" && c.CacheDatabase == "" && !c.CacheInKeyring {
		c.CacheFilename = fc.Cache.File
		c.CacheDatabase = fc.Cache.Database
		c.CacheInKeyring = fc.Cache.Keyring
	}
	if c.Flags.isSet(FlagConnector) {
		fill(&c.ConnectorName, fc.Connector)
		if c.MQTT.Broker == "" {
			prefix := c.MQTT.Prefix
			c.MQTT = notify.Options(fc.MQTT)
			if prefix != "" {
				c.MQTT.Prefix = prefix
			}
		} else {
			fill(&c.MQTT.Prefix, fc.MQTT.Prefix)
		}
	}
	if c.usesKeyring() {
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(fc.Keyring.Type); err != nil {
				return err
			}
		}
		fill(&c.Backend.FileDir, fc.Keyring.Path)
	}
	log.Debug("Loaded configuration from %s", c.ConfigFilename)
	return nil
}
