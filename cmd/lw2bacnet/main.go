// lw2bacnet - LoRaWAN to BACnet bridge
//
// This is the main entry point for the bridge. It subscribes to LoRaWAN
// network server uplinks over MQTT, decodes them with per-device codec
// scripts and exposes every decoded value as a BACnet object. Writes to
// output objects are encoded and published back as downlinks.
//
// Usage:
//
//	lw2bacnet                      run the bridge
//	lw2bacnet token [-subject s]   print an API bearer token
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lw2bacnet/bridge/migrations"

	"github.com/lw2bacnet/bridge/internal/api"
	"github.com/lw2bacnet/bridge/internal/bacnet"
	"github.com/lw2bacnet/bridge/internal/bridges/lorawan"
	"github.com/lw2bacnet/bridge/internal/codec"
	"github.com/lw2bacnet/bridge/internal/datatype"
	"github.com/lw2bacnet/bridge/internal/identity"
	"github.com/lw2bacnet/bridge/internal/infrastructure/config"
	"github.com/lw2bacnet/bridge/internal/infrastructure/database"
	"github.com/lw2bacnet/bridge/internal/infrastructure/influxdb"
	"github.com/lw2bacnet/bridge/internal/infrastructure/logging"
	"github.com/lw2bacnet/bridge/internal/infrastructure/mqtt"
	"github.com/lw2bacnet/bridge/internal/objects"
	"github.com/lw2bacnet/bridge/internal/templates"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// defaultTokenTTL is the lifetime of tokens printed by the token subcommand.
const defaultTokenTTL = 24 * time.Hour

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting lw2bacnet",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Provision default decoder and datatype files
	written, err := templates.Install(templatesTarget(cfg))
	if err != nil {
		return fmt.Errorf("installing default files: %w", err)
	}
	if len(written) > 0 {
		log.Info("default files installed", "files", written)
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := identity.NewSQLiteStore(db.DB)
	if syncErr := syncStore(ctx, cfg, store); syncErr != nil {
		return syncErr
	}

	types, err := datatype.Load(cfg.Datatypes.File)
	if err != nil {
		return fmt.Errorf("loading datatypes: %w", err)
	}
	log.Info("datatypes loaded", "path", cfg.Datatypes.File, "types", types.Len())

	gateway := buildCodec(cfg, log)

	device := bacnet.NewLocalDevice(deviceInfo(cfg.BACnet))
	table := objects.NewTable(objects.Options{
		Stack:     device,
		Store:     store,
		Datatypes: types,
		Logger:    log.Component("objects"),
	})
	if reloadErr := table.Reload(ctx); reloadErr != nil {
		return fmt.Errorf("loading objects: %w", reloadErr)
	}
	log.Info("BACnet device ready",
		"device_id", cfg.BACnet.DeviceID,
		"objects", table.Len(),
	)

	// Connect to MQTT with the bridge's offline health message as Last Will
	will, err := json.Marshal(lorawan.NewLWTMessage())
	if err != nil {
		return fmt.Errorf("encoding LWT: %w", err)
	}
	mqttClient, err := mqtt.ConnectWithWill(cfg.MQTT, mqtt.Will{
		Topic:   lorawan.HealthTopic(),
		Payload: will,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub exists before the bridge so value events reach API clients
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.WebSocket, log.Component("websocket"))
		go hub.Run(ctx)
	}

	opts := lorawan.BridgeOptions{
		Config:      bridgeConfig(cfg),
		MQTTClient:  &mqttBridgeAdapter{client: mqttClient},
		Store:       store,
		Codec:       gateway,
		Table:       table,
		Reloader:    table,
		Datatypes:   types,
		WriteSource: device,
		Logger:      log.Component("lorawan"),
	}
	// Only assign optional collaborators that exist; a nil pointer in an
	// interface field would not compare equal to nil.
	if influxClient != nil {
		opts.History = influxClient
	}
	if hub != nil {
		opts.Events = hub
	}
	bridge, err := lorawan.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, log, apiCollaborators{
			store:  store,
			table:  table,
			device: device,
			bridge: bridge,
			mqtt:   mqttClient,
			db:     db,
			influx: influxClient,
			hub:    hub,
		})
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Bridge (publishes "stopping" health)
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("lw2bacnet stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LW2BACNET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LW2BACNET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// templatesTarget returns the directory default files are installed into.
func templatesTarget(cfg *config.Config) string {
	if cfg.TemplatesDir != "" {
		return cfg.TemplatesDir
	}
	return cfg.ConfigDir
}

// syncStore applies configured profiles and device overrides to the store.
func syncStore(ctx context.Context, cfg *config.Config, store *identity.SQLiteStore) error {
	ports := make(map[string]map[int]int, len(cfg.Profiles))
	for id, profile := range cfg.Profiles {
		ports[id] = profile.Ports
	}
	if err := store.SyncProfilePorts(ctx, ports); err != nil {
		return fmt.Errorf("syncing profile ports: %w", err)
	}

	overrides := make(map[string]identity.DeviceOverride, len(cfg.Devices))
	for eui, dev := range cfg.Devices {
		overrides[eui] = identity.DeviceOverride{Name: dev.Name, ProfileID: dev.Profile}
	}
	if err := store.SyncDeviceOverrides(ctx, overrides, cfg.Codec.DefaultScript); err != nil {
		return fmt.Errorf("syncing device overrides: %w", err)
	}
	return nil
}

// buildCodec creates the codec gateway, with remote device scripts when a
// profile URL is configured.
func buildCodec(cfg *config.Config, log *logging.Logger) *codec.Gateway {
	opts := codec.Options{
		ScriptsDir:    cfg.Codec.ScriptsDir,
		DefaultScript: cfg.Codec.DefaultScript,
		EvalTimeout:   time.Duration(cfg.Codec.EvalTimeout) * time.Millisecond,
		Logger:        log.Component("codec"),
	}
	if cfg.Codec.ProfileURL != "" {
		opts.Source = codec.NewHTTPProfileSource(
			cfg.Codec.ProfileURL,
			time.Duration(cfg.Codec.FetchTimeout)*time.Second,
		)
	}
	return codec.New(opts)
}

// deviceInfo maps the bacnet config section to the local device identity.
func deviceInfo(cfg config.BACnetConfig) bacnet.DeviceInfo {
	info := bacnet.DeviceInfo{
		Instance:    cfg.DeviceID,
		Name:        cfg.ObjectName,
		Description: cfg.Description,
		Vendor:      cfg.Vendor,
		Model:       cfg.Model,
		Firmware:    cfg.Firmware,
	}
	if cfg.IP != "" {
		info.Address = fmt.Sprintf("%s/%d:%d", cfg.IP, cfg.Mask, cfg.Port)
	}
	return info
}

// bridgeConfig maps configuration to the bridge's runtime settings.
func bridgeConfig(cfg *config.Config) lorawan.Config {
	devices := make(map[string]lorawan.DeviceSettings, len(cfg.Devices))
	for eui, dev := range cfg.Devices {
		devices[eui] = lorawan.DeviceSettings{
			Name:        dev.Name,
			Decoder:     dev.Decoder,
			ForceDecode: dev.ForceDecode,
		}
	}
	return lorawan.Config{
		UplinkTopic:           cfg.MQTT.UplinkTopic,
		DownlinkTopic:         cfg.MQTT.DownlinkTopic,
		DeviceTopicIndex:      cfg.MQTT.DeviceTopicIndex,
		ApplicationTopicIndex: cfg.MQTT.ApplicationTopicIndex,
		QoS:                   byte(cfg.MQTT.QoS), //nolint:gosec // QoS validated to 0-2
		Metadata:              cfg.Uplink.Metadata,
		ForceDecode:           cfg.Uplink.ForceDecode,
		Devices:               devices,
		Version:               version,
		HealthInterval:        cfg.GetHealthInterval(),
	}
}

// apiCollaborators groups what the API server reads from.
type apiCollaborators struct {
	store  *identity.SQLiteStore
	table  *objects.Table
	device *bacnet.LocalDevice
	bridge *lorawan.Bridge
	mqtt   *mqtt.Client
	db     *database.DB
	influx *influxdb.Client
	hub    *api.Hub
}

// startAPI creates and starts the admin API server.
func startAPI(ctx context.Context, cfg *config.Config, log *logging.Logger, c apiCollaborators) (*api.Server, error) {
	deps := api.Deps{
		Config:      cfg.API,
		Logger:      log.Component("api"),
		Store:       c.store,
		Table:       c.table,
		Device:      c.device,
		Version:     version,
		Health:      c.bridge.Health(),
		Counters:    c.bridge,
		MQTT:        c.mqtt,
		DB:          c.db.DB,
		ExternalHub: c.hub,
	}
	if c.influx != nil {
		deps.History = c.influx
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return server, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// runToken prints a bearer token for the admin API, signed with the
// configured secret.
//
// Parameters:
//   - args: Subcommand arguments (-subject, -ttl)
//   - out: Where the token is written
//
// Returns:
//   - error: If the config cannot be loaded or has no secret
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "token subject recorded in API logs")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is not set")
	}

	token, err := api.IssueToken(cfg.API.Auth.JWTSecret, *subject, *ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The infrastructure client takes a named
// mqtt.MessageHandler, the bridge a plain func type.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements lorawan.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements lorawan.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, handler)
}

// Unsubscribe implements lorawan.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements lorawan.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
