/*
Package cli facilitates building command-line applications that talk to a lock. It defines a
[Config] type that can be used to register common command-line flags (using the Golang flag
package), environment variable equivalents and an optional YAML configuration file.

The package uses [keyring]'s platform-agnostic interface for storing sensitive values (the
mobile private key, API tokens and, optionally, lock certificates) in an OS-dependent credential
store.

# Examples

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for keys, tokens, lock identity, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	if err := config.LoadConfigFile(); err != nil {
		panic(err)
	}

	b, closer, err := config.Bridge()
	if err != nil {
		panic(err)
	}
	defer closer()

Values are applied in priority order: command-line flags, then environment variables, then the
configuration file. A value set by an earlier source is never overwritten by a later one.
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/account"
	"github.com/tedee/lock-command/pkg/bridge"
	"github.com/tedee/lock-command/pkg/cache"
	"github.com/tedee/lock-command/pkg/connector"
	"github.com/tedee/lock-command/pkg/keys"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/notify"
	"github.com/tedee/lock-command/pkg/provisioning"

	// Registers the "sim" backend.
	_ "github.com/tedee/lock-command/pkg/connector/sim"
)

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvTedeeConfigFile   = "TEDEE_CONFIG_FILE"
	EnvTedeeSerialNumber = "TEDEE_SERIAL_NUMBER"
	EnvTedeeDeviceID     = "TEDEE_DEVICE_ID"
	EnvTedeeLockName     = "TEDEE_LOCK_NAME"
	EnvTedeeKeyName      = "TEDEE_KEY_NAME"
	EnvTedeeKeyFile      = "TEDEE_KEY_FILE"
	EnvTedeeTokenName    = "TEDEE_TOKEN_NAME"
	EnvTedeeTokenFile    = "TEDEE_TOKEN_FILE"
	EnvTedeeAPIURL       = "TEDEE_API_URL"
	EnvTedeeCacheFile    = "TEDEE_CACHE_FILE"
	EnvTedeeCacheDB      = "TEDEE_CACHE_DB"
	EnvTedeeCacheKeyring = "TEDEE_CACHE_KEYRING"
	EnvTedeeConnector    = "TEDEE_CONNECTOR"
	EnvTedeeMQTTBroker   = "TEDEE_MQTT_BROKER"
	EnvTedeeMQTTPrefix   = "TEDEE_MQTT_PREFIX"
	EnvTedeeLogLevel     = "TEDEE_LOG_LEVEL"
	EnvTedeeKeyringType  = "TEDEE_KEYRING_TYPE"
	EnvTedeeKeyringPass  = "TEDEE_KEYRING_PASSWORD"
	EnvTedeeKeyringPath  = "TEDEE_KEYRING_PATH"
	EnvTedeeKeyringDebug = "TEDEE_KEYRING_DEBUG"
)

const (
	defaultConnector      = "sim"
	defaultMQTTClientName = "tedee-lock-command"
	personalKeyPrefix     = "PersonalKey "
	// Zero keeps every credential.
	defaultCacheEntries = 0
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagLock       Flag = 1  // Enable lock identity options.
	FlagAccount    Flag = 2  // Enable API token options. Required for provisioning.
	FlagPrivateKey Flag = 4  // Enable mobile key options. Required for provisioning.
	FlagCache      Flag = 8  // Enable credential cache options.
	FlagConnector  Flag = 16 // Enable connector and event options. Requires FlagLock.
	FlagAll        Flag = FlagLock | FlagAccount | FlagPrivateKey | FlagCache | FlagConnector
)

var (
	ErrNoKeySpecified   = errors.New("mobile key location not provided")
	ErrNoTokenSpecified = errors.New("API token location not provided")
	ErrNoCacheSpecified = errors.New("credential cache location not provided")
	ErrKeyNotFound      = keyring.ErrKeyNotFound
)

// MobileKey is implemented by keys.FileProvider and keys.KeyringProvider.
type MobileKey interface {
	provisioning.KeyProvider
	PrivateKeyPEM() ([]byte, error)
	Delete() error
}

// Config fields determine how a client identifies a lock and authenticates to the API.
type Config struct {
	Flags            Flag // Controls which set of environment variables/CLI flags to use.
	ConfigFilename   string
	SerialNumber     string
	DeviceID         string
	LockName         string
	KeyringKeyName   string // Username for the mobile key in system keyring
	KeyringTokenName string // Username for the API token in system keyring
	KeyFilename      string
	TokenFilename    string
	APIBaseURL       string
	CacheFilename    string
	CacheDatabase    string
	CacheInKeyring   bool
	ConnectorName    string
	LogLevel         string
	MQTT             notify.Options
	Backend          keyring.Config
	BackendType      backendType
	Debug            bool // Enable keyring debug messages

	password *string
	ring     keyring.Keyring
	token    string
	acct     *account.Client
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	flag.StringVar(&c.ConfigFilename, "config", "", "YAML configuration `file`. Defaults to $TEDEE_CONFIG_FILE.")
	flag.StringVar(&c.LogLevel, "log-level", "", "Log `level` (none|error|warn|info|debug). Defaults to $TEDEE_LOG_LEVEL.")
	if c.Flags.isSet(FlagLock) {
		flag.StringVar(&c.SerialNumber, "serial", "", "Lock serial number. Defaults to $TEDEE_SERIAL_NUMBER.")
		flag.StringVar(&c.DeviceID, "device-id", "", "Lock device `id`. Defaults to $TEDEE_DEVICE_ID.")
		flag.StringVar(&c.LockName, "lock-name", "", "Lock display `name`. Defaults to $TEDEE_LOCK_NAME.")
	}
	if c.Flags.isSet(FlagPrivateKey) {
		flag.StringVar(&c.KeyringKeyName, "key-name", "", "System keyring `name` for the mobile key. Defaults to $TEDEE_KEY_NAME.")
		flag.StringVar(&c.KeyFilename, "key-file", "", "A `file` containing the mobile key. Defaults to $TEDEE_KEY_FILE.")
	}
	if c.Flags.isSet(FlagAccount) {
		flag.StringVar(&c.KeyringTokenName, "token-name", "", "System keyring `name` for the API token. Defaults to $TEDEE_TOKEN_NAME.")
		flag.StringVar(&c.TokenFilename, "token-file", "", "`File` containing an API token. Defaults to $TEDEE_TOKEN_FILE.")
		flag.StringVar(&c.APIBaseURL, "api-url", "", "API base `URL`. Defaults to $TEDEE_API_URL.")
	}
	if c.Flags.isSet(FlagCache) {
		flag.StringVar(&c.CacheFilename, "cache-file", "", "Load lock credentials from JSON `file`. Defaults to $TEDEE_CACHE_FILE.")
		flag.StringVar(&c.CacheDatabase, "cache-db", "", "Load lock credentials from SQLite `file`. Defaults to $TEDEE_CACHE_DB.")
		flag.BoolVar(&c.CacheInKeyring, "cache-keyring", false, "Store lock credentials in the system keyring. Defaults to $TEDEE_CACHE_KEYRING.")
	}
	if c.Flags.isSet(FlagConnector) {
		if !c.Flags.isSet(FlagLock) {
			log.Debug("FlagConnector is set but FlagLock is not. A lock identity is required to connect.")
		}
		flag.StringVar(&c.ConnectorName, "connector", "", "Lock session `backend` ("+strings.Join(connector.Backends(), "|")+"). Defaults to $TEDEE_CONNECTOR.")
		flag.StringVar(&c.MQTT.Broker, "mqtt-broker", "", "Publish lock events to MQTT broker `url`. Defaults to $TEDEE_MQTT_BROKER.")
		flag.StringVar(&c.MQTT.Prefix, "mqtt-prefix", "", "MQTT topic `prefix`. Defaults to $TEDEE_MQTT_PREFIX.")
	}
	if c.usesKeyring() {
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $TEDEE_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", "", "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

func (c *Config) usesKeyring() bool {
	return c.Flags.isSet(FlagAccount) || c.Flags.isSet(FlagPrivateKey) || c.Flags.isSet(FlagCache)
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	fill := func(field *string, env, what string) {
		if *field == "" {
			if *field = os.Getenv(env); *field != "" {
				log.Debug("Set %s to '%s'", what, *field)
			}
		}
	}
	fill(&c.ConfigFilename, EnvTedeeConfigFile, "config file")
	fill(&c.LogLevel, EnvTedeeLogLevel, "log level")
	if c.Flags.isSet(FlagLock) {
		fill(&c.SerialNumber, EnvTedeeSerialNumber, "serial number")
		fill(&c.DeviceID, EnvTedeeDeviceID, "device ID")
		fill(&c.LockName, EnvTedeeLockName, "lock name")
	}
	if c.Flags.isSet(FlagPrivateKey) {
		if c.KeyringKeyName == "" && c.KeyFilename == "" {
			fill(&c.KeyringKeyName, EnvTedeeKeyName, "key name")
			fill(&c.KeyFilename, EnvTedeeKeyFile, "key file")
		}
	}
	if c.Flags.isSet(FlagAccount) {
		if c.KeyringTokenName == "" && c.TokenFilename == "" {
			fill(&c.KeyringTokenName, EnvTedeeTokenName, "API token name")
			fill(&c.TokenFilename, EnvTedeeTokenFile, "API token file")
		}
		fill(&c.APIBaseURL, EnvTedeeAPIURL, "API URL")
	}
	if c.Flags.isSet(FlagCache) {
		if c.CacheFilename == "" && c.CacheDatabase == "" && !c.CacheInKeyring {
			fill(&c.CacheFilename, EnvTedeeCacheFile, "credential cache file")
			fill(&c.CacheDatabase, EnvTedeeCacheDB, "credential cache database")
			if v, ok := os.LookupEnv(EnvTedeeCacheKeyring); ok {
				c.CacheInKeyring = v != "false" && v != "0"
			}
		}
	}
	if c.Flags.isSet(FlagConnector) {
		fill(&c.ConnectorName, EnvTedeeConnector, "connector")
		fill(&c.MQTT.Broker, EnvTedeeMQTTBroker, "MQTT broker")
		fill(&c.MQTT.Prefix, EnvTedeeMQTTPrefix, "MQTT prefix")
	}
	if c.usesKeyring() {
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvTedeeKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvTedeeKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		fill(&c.Backend.FileDir, EnvTedeeKeyringPath, "keyring File Path")
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvTedeeKeyringDebug)
		}
	}
}

// ApplyLogLevel sets the global log level from c.LogLevel, if set.
func (c *Config) ApplyLogLevel() error {
	if c.LogLevel == "" {
		return nil
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// Identity returns the configured lock identity.
func (c *Config) Identity() (lock.Identity, error) {
	identity := lock.Identity{SerialNumber: c.SerialNumber, DeviceID: c.DeviceID, Name: c.LockName}
	if err := identity.Validate(); err != nil {
		return lock.Identity{}, err
	}
	return identity, nil
}

// MobileKey returns a provider for the configured mobile key. The file location takes priority
// over the keyring if both are set.
func (c *Config) MobileKey() (MobileKey, error) {
	if !c.Flags.isSet(FlagPrivateKey) {
		log.Debug("Skipping mobile key loading because FlagPrivateKey is not set")
		return nil, ErrNoKeySpecified
	}
	if c.KeyFilename != "" {
		return keys.NewFileProvider(c.KeyFilename), nil
	}
	if c.KeyringKeyName != "" {
		ring, err := c.openKeyring()
		if err != nil {
			return nil, err
		}
		return keys.NewKeyringProvider(ring, c.KeyringKeyName), nil
	}
	return nil, ErrNoKeySpecified
}

// CredentialStore opens the configured credential cache. Call the returned function to release
// it. The SQLite database takes priority, then the JSON file, then the keyring.
func (c *Config) CredentialStore() (provisioning.CredentialStore, func(), error) {
	switch {
	case c.CacheDatabase != "":
		log.Debug("Opening credential database %s...", c.CacheDatabase)
		store, err := cache.OpenSQLStore(c.CacheDatabase)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error("Error closing credential database: %s", err)
			}
		}, nil
	case c.CacheFilename != "":
		log.Debug("Loading credential cache from %s...", c.CacheFilename)
		store, err := cache.OpenFileStore(c.CacheFilename, defaultCacheEntries)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load credential cache: %w", err)
		}
		return store, func() {}, nil
	case c.CacheInKeyring:
		ring, err := c.openKeyring()
		if err != nil {
			return nil, nil, err
		}
		return cache.NewKeyringStore(ring), func() {}, nil
	}
	return nil, nil, ErrNoCacheSpecified
}

// Account returns a client for the remote API using the configured token. Tokens prefixed with
// "PersonalKey " are personal access keys; anything else must be an OAuth bearer token.
func (c *Config) Account() (*account.Client, error) {
	if c.acct != nil {
		return c.acct, nil
	}
	token, err := c.apiToken()
	if err != nil {
		return nil, err
	}
	var acct *account.Client
	if key, ok := strings.CutPrefix(token, personalKeyPrefix); ok {
		acct, err = account.NewWithPersonalKey(key, "", account.DefaultBreakerSettings)
	} else {
		acct, err = account.NewWithToken(token, "", account.DefaultBreakerSettings)
	}
	if err != nil {
		return nil, err
	}
	if c.APIBaseURL != "" {
		acct.BaseURL = strings.TrimRight(c.APIBaseURL, "/")
	}
	c.acct = acct
	return acct, nil
}

func (c *Config) apiToken() (string, error) {
	if c.token != "" {
		return c.token, nil
	}
	if !c.Flags.isSet(FlagAccount) {
		return "", ErrNoTokenSpecified
	}
	if c.TokenFilename != "" {
		token, err := os.ReadFile(c.TokenFilename)
		if err == nil {
			c.token = strings.TrimSpace(string(token))
			return c.token, nil
		}
		if !errors.Is(err, os.ErrNotExist) || c.KeyringTokenName == "" {
			return "", err
		}
		// If the token file doesn't exist, fall through to trying to load from the system keyring.
	}
	if c.KeyringTokenName == "" {
		return "", ErrNoTokenSpecified
	}
	token, err := c.LoadTokenFromKeyring()
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// Provisioner builds a provisioning service from the configured cache, mobile key and account.
// Call the returned function to release the cache.
func (c *Config) Provisioner() (*provisioning.Service, func(), error) {
	store, closer, err := c.CredentialStore()
	if err != nil {
		return nil, nil, err
	}
	mobileKey, err := c.MobileKey()
	if err != nil {
		closer()
		return nil, nil, err
	}
	acct, err := c.Account()
	if err != nil {
		closer()
		return nil, nil, err
	}
	return provisioning.NewService(store, mobileKey, acct), closer, nil
}

// Bridge builds a bridge for the configured connector backend. If an MQTT broker is configured,
// events are also published there. Call the returned function to close everything.
func (c *Config) Bridge(options ...bridge.Option) (*bridge.Bridge, func(), error) {
	name := c.ConnectorName
	if name == "" {
		name = defaultConnector
	}
	conn, err := connector.New(name)
	if err != nil {
		return nil, nil, err
	}
	service, closeStore, err := c.Provisioner()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if acct, err := c.Account(); err == nil {
		options = append(options, bridge.WithSignedTimeProvider(acct))
	}

	var sink *notify.Sink
	if c.MQTT.Broker != "" {
		mqttOptions := c.MQTT
		if mqttOptions.ClientID == "" {
			mqttOptions.ClientID = defaultMQTTClientName
		}
		if sink, err = notify.Connect(mqttOptions); err != nil {
			conn.Close()
			closeStore()
			return nil, nil, err
		}
		options = append(options, bridge.WithSink(sink))
	}

	b := bridge.New(conn, service, options...)
	return b, func() {
		b.Close()
		if sink != nil {
			sink.Close()
		}
		closeStore()
	}, nil
}
