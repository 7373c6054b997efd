package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type LogLevel string

const (
	ClientID          = "peblar-bridge"
	Trace    LogLevel = "trace"
	Debug    LogLevel = "debug"
	Info     LogLevel = "info"
	Warning  LogLevel = "warning"

	// Environment variables that override values from the config file.
	AccessTokenEnv = "PEBLAR_ACCESS_TOKEN"
	IPAddressEnv   = "PEBLAR_IP_ADDRESS"

	DefaultUpdateInterval     = 30
	DefaultSetupRetryInterval = 30
	DefaultRequestTimeout     = 10
)

func NewConfig(cfgFile string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(cfgFile, &config); err != nil {
		return nil, errors.Wrap(err, "decoding toml")
	}
	// A missing .env file is not an error.
	_ = godotenv.Load()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return &config, nil
}

type Config struct {
	// UpdateInterval is the number of seconds between charger polls.
	UpdateInterval uint `toml:"update_interval"`
	// SetupRetryInterval is the number of seconds we wait before retrying
	// setup when the charger is unreachable at startup.
	SetupRetryInterval uint `toml:"setup_retry_interval"`

	// LogFile is the path to the log on disk
	LogFile string `toml:"log_file"`

	// LogLevel sets the logging output to desired level.
	LogLevel LogLevel `toml:"log_level"`

	// Charger holds the config for the charger
	Charger Charger `toml:"charger"`

	// MQTT configures the Home Assistant MQTT bridge.
	MQTT MQTTBridge `toml:"mqtt"`

	// DBus configures the Venus OS evcharger service.
	DBus DBusService `toml:"dbus"`

	// API configures the local HTTP API.
	API API `toml:"api"`
}

func (c *Config) applyEnv() {
	if token := os.Getenv(AccessTokenEnv); token != "" {
		c.Charger.AccessToken = token
	}
	if addr := os.Getenv(IPAddressEnv); addr != "" {
		c.Charger.IPAddress = addr
	}
}

func (c *Config) Validate() error {
	if c.UpdateInterval == 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}

	if c.SetupRetryInterval == 0 {
		c.SetupRetryInterval = DefaultSetupRetryInterval
	}

	switch c.LogLevel {
	case "":
		c.LogLevel = Info
	case Trace, Debug, Info, Warning:
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	if err := c.Charger.Validate(); err != nil {
		return errors.Wrap(err, "validating charger")
	}

	if c.MQTT.Enabled {
		if err := c.MQTT.Validate(); err != nil {
			return errors.Wrap(err, "validating mqtt")
		}
	}

	if c.DBus.Enabled {
		if err := c.DBus.Validate(); err != nil {
			return errors.Wrap(err, "validating dbus")
		}
	}

	if c.API.Enabled {
		if err := c.API.Validate(); err != nil {
			return errors.Wrap(err, "validating api")
		}
	}
	return nil
}

func (c *Config) UpdateIntervalDuration() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Second
}

func (c *Config) SetupRetryDuration() time.Duration {
	return time.Duration(c.SetupRetryInterval) * time.Second
}

type Charger struct {
	// IPAddress is the address of the charger on the local network. A port
	// may be appended. IPv6 addresses may be given bare or in brackets.
	IPAddress string `toml:"ip_address"`
	// AccessToken is the API token generated in the charger web UI.
	AccessToken string `toml:"access_token"`
	// RequestTimeout is the timeout, in seconds, applied to every request.
	// Negative values disable the timeout.
	RequestTimeout int `toml:"request_timeout"`
}

func (c *Charger) Validate() error {
	if c.IPAddress == "" {
		return fmt.Errorf("missing charger ip_address")
	}
	if strings.ContainsAny(c.IPAddress, "/?#@") {
		return fmt.Errorf("charger ip_address must be a host, not a URL: %s", c.IPAddress)
	}

	host := c.IPAddress
	if h, _, err := net.SplitHostPort(c.IPAddress); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if net.ParseIP(host) == nil && !isHostname(host) {
		return fmt.Errorf("invalid charger address: %s", c.IPAddress)
	}

	if c.AccessToken == "" {
		return fmt.Errorf("missing charger access_token")
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return nil
}

// Timeout returns the request timeout. Zero means no timeout.
func (c *Charger) Timeout() time.Duration {
	if c.RequestTimeout < 0 {
		return 0
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

func isHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

type MQTTSettings struct {
	Broker   string `toml:"broker"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

func (m *MQTTSettings) BrokerURI() (string, error) {
	if err := m.Validate(); err != nil {
		return "", errors.Wrap(err, "fetching broker URI")
	}

	uri := fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
	return uri, nil
}

// ClientOptions returns the paho options for this broker. The client ID is
// ClientID followed by suffix.
func (m *MQTTSettings) ClientOptions(suffix string) (*mqtt.ClientOptions, error) {
	brokerURI, err := m.BrokerURI()
	if err != nil {
		return nil, errors.Wrap(err, "creating mqtt options")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURI)
	if m.Username != "" {
		opts.SetUsername(m.Username)
	}
	if m.Password != "" {
		opts.SetPassword(m.Password)
	}
	clientID := ClientID
	if suffix != "" {
		clientID = fmt.Sprintf("%s-%s", ClientID, suffix)
	}
	opts.SetClientID(clientID)
	return opts, nil
}

func (m *MQTTSettings) Validate() error {
	if m.Broker == "" {
		return fmt.Errorf("broker cannot be empty when mqtt is used")
	}

	if m.Port == 0 {
		m.Port = 1883
	}
	return nil
}

type MQTTBridge struct {
	Enabled bool `toml:"enabled"`
	MQTTSettings
	// BaseTopic is the prefix of the state, availability and command
	// topics.
	BaseTopic string `toml:"base_topic"`
	// DiscoveryPrefix is the Home Assistant discovery prefix.
	DiscoveryPrefix string `toml:"discovery_prefix"`
}

func (m *MQTTBridge) Validate() error {
	if err := m.MQTTSettings.Validate(); err != nil {
		return err
	}
	if m.BaseTopic == "" {
		m.BaseTopic = "peblar"
	}
	if m.DiscoveryPrefix == "" {
		m.DiscoveryPrefix = "homeassistant"
	}
	m.BaseTopic = strings.TrimSuffix(m.BaseTopic, "/")
	m.DiscoveryPrefix = strings.TrimSuffix(m.DiscoveryPrefix, "/")
	return nil
}

type BusType string

const (
	SystemBus  BusType = "system"
	SessionBus BusType = "session"
)

type DBusService struct {
	Enabled bool `toml:"enabled"`
	// Bus is either "system" (default) or "session".
	Bus BusType `toml:"bus"`
	// DeviceInstance is the Venus OS device instance of the charger.
	// Defaults to DefaultDeviceInstance when unset.
	DeviceInstance *uint `toml:"device_instance"`
}

const DefaultDeviceInstance uint = 40

// Instance returns the configured device instance.
func (d *DBusService) Instance() uint {
	if d.DeviceInstance == nil {
		return DefaultDeviceInstance
	}
	return *d.DeviceInstance
}

func (d *DBusService) Validate() error {
	switch d.Bus {
	case "":
		d.Bus = SystemBus
	case SystemBus, SessionBus:
	default:
		return fmt.Errorf("invalid bus type: %s", d.Bus)
	}
	if d.DeviceInstance == nil {
		instance := DefaultDeviceInstance
		d.DeviceInstance = &instance
	}
	return nil
}

type API struct {
	Enabled bool `toml:"enabled"`
	// ListenAddress is the address the HTTP API binds to.
	ListenAddress string `toml:"listen_address"`
}

func (a *API) Validate() error {
	if a.ListenAddress == "" {
		a.ListenAddress = "127.0.0.1:8089"
	}
	if _, _, err := net.SplitHostPort(a.ListenAddress); err != nil {
		return errors.Wrap(err, "parsing listen_address")
	}
	return nil
}
