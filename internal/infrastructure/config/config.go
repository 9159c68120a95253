package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the LoRaWAN/BACnet bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	ConfigDir    string                   `yaml:"config_dir"`
	TemplatesDir string                   `yaml:"templates_dir"`
	Database     DatabaseConfig           `yaml:"database"`
	MQTT         MQTTConfig               `yaml:"mqtt"`
	API          APIConfig                `yaml:"api"`
	InfluxDB     InfluxDBConfig           `yaml:"influxdb"`
	Logging      LoggingConfig            `yaml:"logging"`
	BACnet       BACnetConfig             `yaml:"bacnet"`
	Codec        CodecConfig              `yaml:"codec"`
	Datatypes    DatatypesConfig          `yaml:"datatypes"`
	Uplink       UplinkConfig             `yaml:"uplink"`
	Health       HealthConfig             `yaml:"health"`
	Profiles     map[string]ProfileConfig `yaml:"profiles"`
	Devices      map[string]DeviceConfig  `yaml:"devices"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings and the LoRaWAN
// network server topic layout.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// UplinkTopic is the subscription pattern for device uplinks.
	UplinkTopic string `yaml:"uplink_topic"`

	// DownlinkTopic is the command topic template. {application} and {eui}
	// are substituted per command.
	DownlinkTopic string `yaml:"downlink_topic"`

	// DeviceTopicIndex is the "/"-separated position of the device id in
	// uplink topics (v3/{app}/devices/{dev}/up -> 3).
	DeviceTopicIndex int `yaml:"device_topic_index"`

	// ApplicationTopicIndex is the position of the application id.
	ApplicationTopicIndex int `yaml:"application_topic_index"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the admin HTTP API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	Auth      APIAuthConfig    `yaml:"auth"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APIAuthConfig controls bearer token checks on mutating endpoints.
// An empty secret disables them.
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings for value history.
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
}

// BACnetConfig describes the local BACnet device that hosts the
// provisioned objects.
type BACnetConfig struct {
	IP          string `yaml:"ip"`
	Port        int    `yaml:"port"`
	Mask        int    `yaml:"mask"`
	DeviceID    uint32 `yaml:"devid"`
	Vendor      string `yaml:"vendor"`
	ObjectName  string `yaml:"objname"`
	Description string `yaml:"desc"`
	Model       string `yaml:"model"`
	Firmware    string `yaml:"fwver"`
}

// CodecConfig contains decoder script settings.
type CodecConfig struct {
	// ScriptsDir holds the decoder bundles, one file per script name.
	ScriptsDir string `yaml:"scripts_dir"`

	// DefaultScript is used when a device has no script of its own.
	DefaultScript string `yaml:"default_script"`

	// ProfileURL optionally points at a profile source serving per-device
	// scripts. {eui} is replaced with the device EUI.
	ProfileURL string `yaml:"profile_url"`

	// FetchTimeout bounds a profile fetch, in seconds.
	FetchTimeout int `yaml:"fetch_timeout"`

	// EvalTimeout bounds a single script evaluation, in milliseconds.
	EvalTimeout int `yaml:"eval_timeout"`
}

// DatatypesConfig points at the type tag table.
type DatatypesConfig struct {
	File string `yaml:"file"`
}

// UplinkConfig tunes the uplink pipeline.
type UplinkConfig struct {
	// Metadata appends best-gateway RSSI/SNR datapoints to every uplink.
	Metadata bool `yaml:"metadata"`

	// ForceDecode ignores payloads pre-decoded by the network server.
	ForceDecode bool `yaml:"force_decode"`
}

// HealthConfig contains health reporting settings.
type HealthConfig struct {
	Interval int `yaml:"interval"`
}

// ProfileConfig is a device profile: which fport carries downlinks for
// each channel.
type ProfileConfig struct {
	Ports map[int]int `yaml:"ports"`
}

// DeviceConfig holds per-device overrides keyed by hex EUI.
type DeviceConfig struct {
	Name        string `yaml:"name"`
	Decoder     string `yaml:"decoder"`
	Profile     string `yaml:"profile"`
	ForceDecode *bool  `yaml:"force_decode"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LW2BACNET_SECTION_KEY
// For example: LW2BACNET_DATABASE_PATH, LW2BACNET_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		ConfigDir:    "./config",
		TemplatesDir: "",
		Database: DatabaseConfig{
			Path:        "./data/lw2bacnet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lw2bacnet",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			UplinkTopic:           "v3/+/devices/+/up",
			DownlinkTopic:         "application/{application}/device/{eui}/command/down",
			DeviceTopicIndex:      3,
			ApplicationTopicIndex: 1,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		BACnet: BACnetConfig{
			Port:        47808,
			Mask:        24,
			DeviceID:    9000,
			Vendor:      "RAKwireless",
			ObjectName:  "WisGateV2",
			Description: "LoRaWAN BACnet Gateway",
			Model:       "WisGateV2 BACnet Gateway",
			Firmware:    "2.0.0",
		},
		Codec: CodecConfig{
			ScriptsDir:    "./config/decoders",
			DefaultScript: "cayenne.js",
			FetchTimeout:  10,
			EvalTimeout:   500,
		},
		Datatypes: DatatypesConfig{
			File: "./config/datatypes.yaml",
		},
		Uplink: UplinkConfig{
			Metadata: true,
		},
		Health: HealthConfig{
			Interval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LW2BACNET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("LW2BACNET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("LW2BACNET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LW2BACNET_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("LW2BACNET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LW2BACNET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("LW2BACNET_MQTT_TOPIC"); v != "" {
		cfg.MQTT.UplinkTopic = v
	}

	// API
	if v := os.Getenv("LW2BACNET_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// BACnet
	if v := os.Getenv("LW2BACNET_BACNET_IP"); v != "" {
		cfg.BACnet.IP = v
	}
	if v := os.Getenv("LW2BACNET_BACNET_DEVID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.BACnet.DeviceID = uint32(id)
		}
	}

	// Codec
	if v := os.Getenv("LW2BACNET_CODEC_PROFILE_URL"); v != "" {
		cfg.Codec.ProfileURL = v
	}

	// InfluxDB
	if v := os.Getenv("LW2BACNET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("LW2BACNET_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.UplinkTopic == "" {
		errs = append(errs, "mqtt.uplink_topic is required")
	}
	if !strings.Contains(c.MQTT.DownlinkTopic, "{eui}") {
		errs = append(errs, "mqtt.downlink_topic must contain {eui}")
	}
	if c.MQTT.DeviceTopicIndex < 0 {
		errs = append(errs, "mqtt.device_topic_index must not be negative")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	const minSecretLength = 16
	if c.API.Auth.JWTSecret != "" && len(c.API.Auth.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", minSecretLength))
	}

	if c.BACnet.Port < 1 || c.BACnet.Port > 65535 {
		errs = append(errs, "bacnet.port must be between 1 and 65535")
	}
	const maxDeviceInstance = 0x3FFFFF
	if c.BACnet.DeviceID > maxDeviceInstance {
		errs = append(errs, "bacnet.devid must fit in 22 bits")
	}

	if c.Codec.ScriptsDir == "" {
		errs = append(errs, "codec.scripts_dir is required")
	}
	if c.Codec.DefaultScript == "" {
		errs = append(errs, "codec.default_script is required")
	}

	for name, p := range c.Profiles {
		for ch, port := range p.Ports {
			if port < 1 || port > 223 {
				errs = append(errs, fmt.Sprintf("profiles.%s.ports[%d]: fport %d outside 1..223", name, ch, port))
			}
		}
	}
	for eui, d := range c.Devices {
		if !validDeviceKey(eui) {
			errs = append(errs, fmt.Sprintf("devices.%s: not a hex device EUI", eui))
		}
		if d.Profile != "" {
			if _, ok := c.Profiles[d.Profile]; !ok {
				errs = append(errs, fmt.Sprintf("devices.%s.profile: unknown profile %q", eui, d.Profile))
			}
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeviceOverride returns the configured overrides for a device, matching the
// EUI case-insensitively and ignoring an "eui-" key prefix.
func (c *Config) DeviceOverride(eui string) (DeviceConfig, bool) {
	if d, ok := c.Devices[eui]; ok {
		return d, true
	}
	for k, d := range c.Devices {
		if strings.EqualFold(trimEUIPrefix(k), trimEUIPrefix(eui)) {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

func trimEUIPrefix(s string) string {
	if len(s) > 4 && strings.EqualFold(s[:4], "eui-") {
		return s[4:]
	}
	return s
}

// validDeviceKey reports whether a devices key is an EUI: up to 16 bytes of
// hex, optionally prefixed with "eui-".
func validDeviceKey(key string) bool {
	hex := trimEUIPrefix(strings.TrimSpace(key))
	if hex == "" || len(hex)%2 != 0 || len(hex) > 32 {
		return false
	}
	for _, r := range hex {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	if c.Health.Interval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Health.Interval) * time.Second
}
