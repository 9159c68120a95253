package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lw2bacnet/bridge/internal/identity"
	"github.com/lw2bacnet/bridge/internal/infrastructure/config"
	"github.com/lw2bacnet/bridge/internal/infrastructure/database"
)

// writeConfig writes a config file rooted in a temp dir and points
// LW2BACNET_CONFIG at it.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := `
config_dir: "` + filepath.Join(dir, "config") + `"

database:
  path: "` + filepath.Join(dir, "test.db") + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

codec:
  scripts_dir: "` + filepath.Join(dir, "config", "decoders") + `"

datatypes:
  file: "` + filepath.Join(dir, "config", "datatypes.yaml") + `"

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
` + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("LW2BACNET_CONFIG", path)
	return dir
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("LW2BACNET_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MQTTUnreachable verifies startup stops at the broker connection and
// leaves the default files and database behind.
func TestRun_MQTTUnreachable(t *testing.T) {
	dir := writeConfig(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without a broker")
	}
	if !strings.Contains(err.Error(), "MQTT") {
		t.Errorf("run() error = %v, want MQTT connection failure", err)
	}

	for _, name := range []string{"datatypes.yaml", filepath.Join("decoders", "cayenne.js")} {
		if _, statErr := os.Stat(filepath.Join(dir, "config", name)); statErr != nil {
			t.Errorf("default file %s not installed: %v", name, statErr)
		}
	}
	if _, statErr := os.Stat(filepath.Join(dir, "test.db")); statErr != nil {
		t.Errorf("database not created: %v", statErr)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("LW2BACNET_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("LW2BACNET_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestTemplatesTarget(t *testing.T) {
	cfg := &config.Config{ConfigDir: "/etc/lw2bacnet"}
	if got := templatesTarget(cfg); got != "/etc/lw2bacnet" {
		t.Errorf("templatesTarget() = %q, want config dir", got)
	}
	cfg.TemplatesDir = "/srv/templates"
	if got := templatesTarget(cfg); got != "/srv/templates" {
		t.Errorf("templatesTarget() = %q, want templates dir", got)
	}
}

func TestSyncStore(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "sync.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	store := identity.NewSQLiteStore(db.DB)

	cfg := &config.Config{
		Codec:    config.CodecConfig{DefaultScript: "cayenne.js"},
		Profiles: map[string]config.ProfileConfig{"valve": {Ports: map[int]int{1: 10}}},
		Devices: map[string]config.DeviceConfig{
			"a1b2c3d4e5f60708": {Name: "Boiler", Profile: "valve"},
		},
	}
	if err := syncStore(ctx, cfg, store); err != nil {
		t.Fatalf("syncStore() error = %v", err)
	}

	devices, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(devices))
	}
	d := devices[0]
	if d.Name != "Boiler" || d.ProfileID != "valve" || d.Decoder != "cayenne.js" {
		t.Errorf("device = %+v", d)
	}

	port, err := store.DownlinkPortFor(ctx, "valve", 1)
	if err != nil || port != 10 {
		t.Errorf("DownlinkPortFor() = %d, %v; want 10", port, err)
	}
}

func TestBridgeConfig(t *testing.T) {
	force := true
	cfg := &config.Config{
		MQTT: config.MQTTConfig{
			QoS:                   1,
			UplinkTopic:           "v3/+/devices/+/up",
			DownlinkTopic:         "application/{application}/device/{eui}/command/down",
			DeviceTopicIndex:      3,
			ApplicationTopicIndex: 1,
		},
		Uplink:  config.UplinkConfig{Metadata: true},
		Health:  config.HealthConfig{Interval: 15},
		Devices: map[string]config.DeviceConfig{"a1b2": {Name: "n", Decoder: "d.js", ForceDecode: &force}},
	}

	got := bridgeConfig(cfg)
	if got.UplinkTopic != cfg.MQTT.UplinkTopic || got.DownlinkTopic != cfg.MQTT.DownlinkTopic {
		t.Errorf("topics = %q, %q", got.UplinkTopic, got.DownlinkTopic)
	}
	if got.QoS != 1 || got.DeviceTopicIndex != 3 || got.ApplicationTopicIndex != 1 {
		t.Errorf("mqtt settings = %+v", got)
	}
	if !got.Metadata || got.ForceDecode {
		t.Errorf("uplink flags = metadata %v, force %v", got.Metadata, got.ForceDecode)
	}
	if got.HealthInterval != 15*time.Second {
		t.Errorf("HealthInterval = %v", got.HealthInterval)
	}
	dev := got.Devices["a1b2"]
	if dev.Decoder != "d.js" || dev.ForceDecode == nil || !*dev.ForceDecode {
		t.Errorf("device settings = %+v", dev)
	}
}

func TestDeviceInfo(t *testing.T) {
	info := deviceInfo(config.BACnetConfig{
		IP:         "192.168.1.10",
		Port:       47808,
		Mask:       24,
		DeviceID:   9000,
		ObjectName: "WisGateV2",
		Vendor:     "RAKwireless",
	})
	if info.Instance != 9000 || info.Name != "WisGateV2" || info.Vendor != "RAKwireless" {
		t.Errorf("info = %+v", info)
	}
	if info.Address != "192.168.1.10/24:47808" {
		t.Errorf("Address = %q", info.Address)
	}
	if deviceInfo(config.BACnetConfig{Port: 47808}).Address != "" {
		t.Error("Address should be empty without an IP")
	}
}

func TestRunToken(t *testing.T) {
	writeConfig(t, `
api:
  auth:
    jwt_secret: "test-secret-for-development-only"
`)

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "ops", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}
	token := strings.TrimSpace(out.String())
	if strings.Count(token, ".") != 2 {
		t.Errorf("token %q is not a compact JWT", token)
	}
}

func TestRunToken_NoSecret(t *testing.T) {
	writeConfig(t, "")

	var out bytes.Buffer
	err := runToken(nil, &out)
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("runToken() error = %v, want missing secret", err)
	}
}

func TestRunToken_BadFlag(t *testing.T) {
	var out bytes.Buffer
	if err := runToken([]string{"-nope"}, &out); err == nil {
		t.Error("runToken() should reject unknown flags")
	}
}
