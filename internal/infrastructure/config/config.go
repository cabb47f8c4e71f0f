package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a garge node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Network    NetworkConfig    `yaml:"network"`
	NVStore    NVStoreConfig    `yaml:"nvstore"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Power      PowerConfig      `yaml:"power"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Portal     PortalConfig     `yaml:"portal"`
	Control    ControlConfig    `yaml:"control"`
	OTA        OTAConfig        `yaml:"ota"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Button     ButtonConfig     `yaml:"button"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// NodeConfig describes the node's identity.
type NodeConfig struct {
	// ID overrides the hardware-derived identifier (lower-case hex MAC).
	// Leave empty to derive it from Interface.
	ID string `yaml:"id"`

	// Interface is the network interface whose hardware address names the node.
	Interface string `yaml:"interface"`

	// Firmware is the firmware name matched against OTA manifest entries.
	Firmware string `yaml:"firmware"`

	// Model and Manufacturer are reported in discovery documents.
	Model        string `yaml:"model"`
	Manufacturer string `yaml:"manufacturer"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig `yaml:"broker"`
	Auth      MQTTAuthConfig   `yaml:"auth"`
	QoS       int              `yaml:"qos"`
	TopicRoot string           `yaml:"topic_root"`

	// RetryInterval is the wait between failed broker handshakes.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// CredentialPoll is how often the handshake wait re-reads credentials.
	CredentialPoll time.Duration `yaml:"credential_poll"`

	// HandshakeTimeout bounds the whole handshake loop. Zero means unbounded.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	CAFile   string `yaml:"ca_file"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains fallback MQTT credentials, used only when the
// non-volatile store holds none.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NetworkConfig contains station-mode association settings.
type NetworkConfig struct {
	// Driver selects the association backend: "nmcli" or "static".
	Driver              string        `yaml:"driver"`
	Interface           string        `yaml:"interface"`
	AssociationAttempts int           `yaml:"association_attempts"`
	AssociationDelay    time.Duration `yaml:"association_delay"`

	// CheckInterval paces link-status queries while associated.
	CheckInterval time.Duration `yaml:"check_interval"`

	// APName is the soft-AP SSID used while provisioning. Empty means the node name.
	APName string `yaml:"ap_name"`
}

// NVStoreConfig locates the non-volatile credential image.
type NVStoreConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig contains the sampling pipeline settings.
type TelemetryConfig struct {
	ReadInterval   time.Duration          `yaml:"read_interval"`
	BufferSize     int                    `yaml:"buffer_size"`
	FaultThreshold int                    `yaml:"fault_threshold"`
	Channels       []ChannelConfig        `yaml:"channels"`
	Calibration    []CalibrationEntry     `yaml:"calibration"`
	I2C            I2CConfig              `yaml:"i2c"`
	ADC            ADCConfig              `yaml:"adc"`
	Defaults       CalibrationCoefficient `yaml:"defaults"`
}

// ChannelConfig declares one sampled physical quantity.
type ChannelConfig struct {
	// Name is the channel name, e.g. "temperature".
	Name string `yaml:"name"`

	// Source selects the sensor: "shtc3", "adc" or "simulated".
	Source string `yaml:"source"`

	// Unit and DeviceClass feed the discovery document.
	Unit        string `yaml:"unit"`
	DeviceClass string `yaml:"device_class"`

	// Preset selects a calibration offset preset: "", "dht" or "bme".
	Preset string `yaml:"preset"`
}

// CalibrationEntry holds per-device coefficients keyed by node name.
type CalibrationEntry struct {
	Device string                 `yaml:"device"`
	Coeffs CalibrationCoefficient `yaml:",inline"`
}

// CalibrationCoefficient holds the correction coefficients for one device.
type CalibrationCoefficient struct {
	VoltageA          float64 `yaml:"voltage_a"`
	VoltageB          float64 `yaml:"voltage_b"`
	TemperatureOffset float64 `yaml:"temperature_offset"`
	HumidityOffset    float64 `yaml:"humidity_offset"`
}

// I2CConfig locates the I2C bus for digital sensors.
type I2CConfig struct {
	Bus     string `yaml:"bus"`
	Address int    `yaml:"address"`
}

// ADCConfig locates the analog input used for the voltage channel.
type ADCConfig struct {
	// Path is a sysfs IIO raw value file, e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
	Path      string  `yaml:"path"`
	Reference float64 `yaml:"reference"`
	Max       float64 `yaml:"max"`
	R1        float64 `yaml:"r1"`
	R2        float64 `yaml:"r2"`
}

// BridgeConfig contains the discovery and bridge engine settings.
type BridgeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Namespace         string        `yaml:"namespace"`
	BroadcastAddress  string        `yaml:"broadcast_address"`
	Port              int           `yaml:"port"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	ReplyWindow       time.Duration `yaml:"reply_window"`
	ResyncInterval    time.Duration `yaml:"resync_interval"`
	Markers           []string      `yaml:"markers"`
}

// PowerConfig contains the battery (deep sleep) settings.
type PowerConfig struct {
	DeepSleep          bool          `yaml:"deep_sleep"`
	SleepDuration      time.Duration `yaml:"sleep_duration"`
	MaxPublishFailures int           `yaml:"max_publish_failures"`
}

// DatabaseConfig contains SQLite settings for retained memory.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	Color  bool   `yaml:"color"`
}

// PortalConfig contains the provisioning web surface settings.
type PortalConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ControlConfig contains the out-of-band credential drop-in settings.
type ControlConfig struct {
	// CredentialsFile is watched for broker credential rotation. Empty disables it.
	CredentialsFile string `yaml:"credentials_file"`
}

// OTAConfig contains firmware update check settings.
type OTAConfig struct {
	ManifestURL   string        `yaml:"manifest_url"`
	CheckInterval time.Duration `yaml:"check_interval"`
	DownloadDir   string        `yaml:"download_dir"`
}

// HeartbeatConfig contains the status LED settings.
type HeartbeatConfig struct {
	// LEDPath is a sysfs LED brightness file. Empty disables the heartbeat.
	LEDPath  string        `yaml:"led_path"`
	Interval time.Duration `yaml:"interval"`
}

// ButtonConfig contains the reset button settings.
type ButtonConfig struct {
	// GPIOPath is a sysfs GPIO value file. Empty disables the button.
	GPIOPath  string        `yaml:"gpio_path"`
	ActiveLow bool          `yaml:"active_low"`
	Hold      time.Duration `yaml:"hold"`
}

// SupervisorConfig contains settings for garge-supervisor.
type SupervisorConfig struct {
	Binary             string        `yaml:"binary"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GARGE_SECTION_KEY
// For example: GARGE_MQTT_HOST, GARGE_NVSTORE_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, with environment overrides
// applied. Used when no config file exists on a freshly flashed node.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with the node's factory defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Interface:    "wlan0",
			Firmware:     "garge-node",
			Model:        "garge-node",
			Manufacturer: "garge",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 8883,
				TLS:  true,
			},
			QoS:            1,
			TopicRoot:      "garge/devices",
			RetryInterval:  5 * time.Second,
			CredentialPoll: 250 * time.Millisecond,
		},
		Network: NetworkConfig{
			Driver:              "nmcli",
			Interface:           "wlan0",
			AssociationAttempts: 15,
			AssociationDelay:    time.Second,
			CheckInterval:       5 * time.Second,
		},
		NVStore: NVStoreConfig{
			Path: "./data/nvstore.bin",
		},
		Telemetry: TelemetryConfig{
			ReadInterval:   60 * time.Second,
			BufferSize:     5,
			FaultThreshold: 10,
			I2C: I2CConfig{
				Bus:     "/dev/i2c-1",
				Address: 0x70,
			},
			ADC: ADCConfig{
				Reference: 3.32,
				Max:       4096,
				R1:        33000,
				R2:        10000,
			},
			Defaults: CalibrationCoefficient{
				VoltageA: 0.91406,
				VoltageB: 1.02092,
			},
		},
		Bridge: BridgeConfig{
			BroadcastAddress:  "255.255.255.255",
			Port:              38899,
			DiscoveryInterval: 30 * time.Second,
			ReplyWindow:       500 * time.Millisecond,
			ResyncInterval:    60 * time.Second,
			Markers:           []string{"SOCKET", "SHRGBC"},
		},
		Power: PowerConfig{
			SleepDuration:      time.Hour,
			MaxPublishFailures: 5,
		},
		Database: DatabaseConfig{
			Path:        "./data/retained.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Portal: PortalConfig{
			Host: "0.0.0.0",
			Port: 80,
		},
		OTA: OTAConfig{
			CheckInterval: 6 * time.Hour,
		},
		Heartbeat: HeartbeatConfig{
			Interval: time.Second,
		},
		Button: ButtonConfig{
			ActiveLow: true,
			Hold:      5 * time.Second,
		},
		Supervisor: SupervisorConfig{
			Binary:       "garge-node",
			RestartDelay: 2 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GARGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Node
	if v := os.Getenv("GARGE_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}

	// MQTT
	if v := os.Getenv("GARGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GARGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GARGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GARGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Storage
	if v := os.Getenv("GARGE_NVSTORE_PATH"); v != "" {
		cfg.NVStore.Path = v
	}
	if v := os.Getenv("GARGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("GARGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GARGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// validSources lists the sensor sources a channel may name.
var validSources = map[string]bool{
	"shtc3":     true,
	"adc":       true,
	"simulated": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicRoot == "" {
		errs = append(errs, "mqtt.topic_root is required")
	}
	if c.MQTT.RetryInterval <= 0 {
		errs = append(errs, "mqtt.retry_interval must be positive")
	}
	if c.MQTT.CredentialPoll <= 0 || c.MQTT.CredentialPoll > c.MQTT.RetryInterval {
		errs = append(errs, "mqtt.credential_poll must be positive and no longer than mqtt.retry_interval")
	}

	// Network validation
	switch c.Network.Driver {
	case "nmcli", "static":
	default:
		errs = append(errs, fmt.Sprintf("network.driver %q must be nmcli or static", c.Network.Driver))
	}
	if c.Network.AssociationAttempts < 1 {
		errs = append(errs, "network.association_attempts must be at least 1")
	}
	if c.Network.CheckInterval <= 0 {
		errs = append(errs, "network.check_interval must be positive")
	}

	// Storage validation
	if c.NVStore.Path == "" {
		errs = append(errs, "nvstore.path is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Telemetry validation
	if c.Telemetry.BufferSize < 1 {
		errs = append(errs, "telemetry.buffer_size must be at least 1")
	}
	if c.Telemetry.FaultThreshold < 1 {
		errs = append(errs, "telemetry.fault_threshold must be at least 1")
	}
	if c.Telemetry.ReadInterval <= 0 {
		errs = append(errs, "telemetry.read_interval must be positive")
	}
	seen := make(map[string]bool)
	for i, ch := range c.Telemetry.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Sprintf("telemetry.channels[%d].name is required", i))
			continue
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Sprintf("telemetry.channels[%d].name %q is duplicated", i, ch.Name))
		}
		seen[ch.Name] = true
		if !validSources[ch.Source] {
			errs = append(errs, fmt.Sprintf("telemetry.channels[%d].source %q is not supported", i, ch.Source))
		}
		if ch.Source == "adc" && c.Telemetry.ADC.Path == "" {
			errs = append(errs, "telemetry.adc.path is required for adc channels")
		}
	}
	if c.Telemetry.ADC.R2 == 0 {
		errs = append(errs, "telemetry.adc.r2 must be non-zero")
	}
	if c.Telemetry.ADC.Max <= 0 {
		errs = append(errs, "telemetry.adc.max must be positive")
	}

	// Bridge validation
	if c.Bridge.Enabled {
		if c.Bridge.Port < 1 || c.Bridge.Port > 65535 {
			errs = append(errs, "bridge.port must be between 1 and 65535")
		}
		if len(c.Bridge.Markers) == 0 {
			errs = append(errs, "bridge.markers must list at least one module marker")
		}
		if c.Bridge.ReplyWindow <= 0 {
			errs = append(errs, "bridge.reply_window must be positive")
		}
	}

	// Power validation
	if c.Power.DeepSleep && c.Power.SleepDuration <= 0 {
		errs = append(errs, "power.sleep_duration must be positive when deep_sleep is enabled")
	}

	// Portal validation
	if c.Portal.Port < 1 || c.Portal.Port > 65535 {
		errs = append(errs, "portal.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns the host:port of the broker.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}

// PortalAddress returns the listen address of the provisioning portal.
func (c *Config) PortalAddress() string {
	return fmt.Sprintf("%s:%d", c.Portal.Host, c.Portal.Port)
}
