package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return cfgFile
}

func TestNewConfigDefaults(t *testing.T) {
	cfgFile := writeConfig(t, `
[charger]
ip_address = "192.168.1.20"
access_token = "abc"

[mqtt]
enabled = true
broker = "localhost"

[dbus]
enabled = true

[api]
enabled = true
`)

	cfg, err := NewConfig(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.UpdateIntervalDuration() != 30*time.Second {
		t.Errorf("unexpected update interval %v", cfg.UpdateIntervalDuration())
	}
	if cfg.SetupRetryDuration() != 30*time.Second {
		t.Errorf("unexpected setup retry interval %v", cfg.SetupRetryDuration())
	}
	if cfg.LogLevel != Info {
		t.Errorf("unexpected log level %q", cfg.LogLevel)
	}
	if cfg.Charger.Timeout() != 10*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Charger.Timeout())
	}
	if cfg.MQTT.Port != 1883 || cfg.MQTT.BaseTopic != "peblar" || cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("unexpected mqtt defaults: %+v", cfg.MQTT)
	}
	if cfg.DBus.Bus != SystemBus || cfg.DBus.Instance() != 40 {
		t.Errorf("unexpected dbus defaults: %+v", cfg.DBus)
	}
	if cfg.API.ListenAddress != "127.0.0.1:8089" {
		t.Errorf("unexpected api listen address %q", cfg.API.ListenAddress)
	}
}

func TestDeviceInstanceZero(t *testing.T) {
	cfgFile := writeConfig(t, `
[charger]
ip_address = "192.168.1.20"
access_token = "abc"

[dbus]
enabled = true
device_instance = 0
`)

	cfg, err := NewConfig(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBus.Instance() != 0 {
		t.Fatalf("expected device instance 0, got %d", cfg.DBus.Instance())
	}
}

func TestNewConfigEnvOverrides(t *testing.T) {
	t.Setenv(AccessTokenEnv, "from-env")
	t.Setenv(IPAddressEnv, "charger.local")

	cfgFile := writeConfig(t, `
[charger]
ip_address = "192.168.1.20"
access_token = "from-file"
`)

	cfg, err := NewConfig(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Charger.AccessToken != "from-env" {
		t.Errorf("expected token from environment, got %q", cfg.Charger.AccessToken)
	}
	if cfg.Charger.IPAddress != "charger.local" {
		t.Errorf("expected address from environment, got %q", cfg.Charger.IPAddress)
	}
}

func TestChargerValidate(t *testing.T) {
	tests := []struct {
		name    string
		charger Charger
		valid   bool
	}{
		{name: "ip", charger: Charger{IPAddress: "10.0.0.5", AccessToken: "t"}, valid: true},
		{name: "ip and port", charger: Charger{IPAddress: "10.0.0.5:8080", AccessToken: "t"}, valid: true},
		{name: "hostname", charger: Charger{IPAddress: "peblar.local", AccessToken: "t"}, valid: true},
		{name: "ipv6", charger: Charger{IPAddress: "fe80::1", AccessToken: "t"}, valid: true},
		{name: "ipv6 in brackets", charger: Charger{IPAddress: "[fe80::1]", AccessToken: "t"}, valid: true},
		{name: "ipv6 and port", charger: Charger{IPAddress: "[fe80::1]:8080", AccessToken: "t"}, valid: true},
		{name: "ipv6 zone", charger: Charger{IPAddress: "fe80::1%eth0", AccessToken: "t"}},
		{name: "no address", charger: Charger{AccessToken: "t"}},
		{name: "url", charger: Charger{IPAddress: "http://10.0.0.5", AccessToken: "t"}},
		{name: "no token", charger: Charger{IPAddress: "10.0.0.5"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.charger.Validate()
			if tc.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestChargerTimeout(t *testing.T) {
	c := Charger{RequestTimeout: -1}
	if c.Timeout() != 0 {
		t.Fatalf("expected no timeout, got %v", c.Timeout())
	}
}

func TestInvalidValues(t *testing.T) {
	cfg := Config{
		LogLevel: "verbose",
		Charger:  Charger{IPAddress: "10.0.0.5", AccessToken: "t"},
	}
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected invalid log level to fail")
	}

	cfg.LogLevel = Debug
	cfg.MQTT = MQTTBridge{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected mqtt without broker to fail")
	}

	cfg.MQTT = MQTTBridge{}
	cfg.DBus = DBusService{Enabled: true, Bus: "user"}
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected invalid bus to fail")
	}
}

func TestClientOptions(t *testing.T) {
	m := MQTTSettings{Broker: "broker", Username: "user"}
	opts, err := m.ClientOptions("abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.ClientID != "peblar-bridge-abc" {
		t.Errorf("unexpected client id %q", opts.ClientID)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker:1883" {
		t.Errorf("unexpected servers %v", opts.Servers)
	}
}
