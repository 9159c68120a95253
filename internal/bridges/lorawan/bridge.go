package lorawan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lw2bacnet/bridge/internal/bacnet"
	"github.com/lw2bacnet/bridge/internal/codec"
	"github.com/lw2bacnet/bridge/internal/datatype"
	"github.com/lw2bacnet/bridge/internal/identity"
	"github.com/lw2bacnet/bridge/internal/objects"
)

// Bridge translates between LoRaWAN uplinks/downlinks on MQTT and the
// BACnet object set. It is the context object both pipelines run against:
//   - HandleUplink decodes telemetry and provisions or updates objects
//   - HandleWrite encodes BACnet writes into downlink commands
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       Config
	mqtt      MQTTClient
	store     IdentityStore
	codec     Codec
	table     ObjectTable
	reloader  Reloader
	datatypes Datatypes
	writes    WriteSource
	history   HistoryWriter
	events    EventSink
	health    *HealthReporter

	metrics counters

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// IdentityStore is the subset of the identity store the pipelines use.
type IdentityStore interface {
	UpsertDevice(ctx context.Context, rec identity.DeviceRecord) (bool, error)
	SetApplication(ctx context.Context, eui identity.EUI, applicationID string) error
	UpsertDatapoint(ctx context.Context, rec identity.DatapointRecord) (bool, error)
	UpdateDatapointValue(ctx context.Context, id identity.DatapointID, value float64) (bool, error)
	DecoderFor(ctx context.Context, eui identity.EUI) (string, error)
	TypeOf(ctx context.Context, id identity.DatapointID) (int, error)
	DownlinkPortFor(ctx context.Context, profileID string, channel int) (int, error)
	ObjectIDFor(ctx context.Context, id identity.DatapointID) (uint32, error)
	ProfileIDFor(ctx context.Context, eui identity.EUI) (string, error)
	ApplicationFor(ctx context.Context, eui identity.EUI) (string, error)
	DatapointByObjectID(ctx context.Context, objectID uint32) (*identity.Datapoint, error)
}

// Codec decodes uplink payloads and encodes downlink values.
// Satisfied by *codec.Gateway.
type Codec interface {
	Decode(ctx context.Context, raw []byte, port int, eui, scriptName string) codec.Elements
	Encode(ctx context.Context, channel int, value float64, eui, scriptName string, typeHint int) (codec.Frame, error)
	DefaultScript() string
}

// ObjectTable is the in-memory object set. Satisfied by *objects.Table.
type ObjectTable interface {
	UpdateValue(id identity.DatapointID, value float64) (bool, error)
	AddOrReplace(obj objects.Object) error
	Len() int
}

// Reloader rebuilds the BACnet object set from the identity store.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Datatypes resolves type tags. Satisfied by *datatype.Registry.
type Datatypes interface {
	Lookup(tag int) (datatype.Datatype, bool)
}

// WriteSource delivers BACnet write-property notifications.
// Satisfied by bacnet.Stack implementations.
type WriteSource interface {
	OnWriteProperty(cb bacnet.WriteCallback)
}

// HistoryWriter records applied values. Optional.
type HistoryWriter interface {
	WriteDatapoint(eui, datapoint, name string, value float64, ts time.Time)
}

// EventSink receives live bridge events. Optional.
type EventSink interface {
	Broadcast(eventType string, payload any)
}

// DeviceSettings are per-device overrides from configuration.
type DeviceSettings struct {
	Name        string
	Decoder     string
	ForceDecode *bool
}

// Config holds the bridge's runtime settings.
type Config struct {
	// UplinkTopic is the subscription pattern for uplinks.
	UplinkTopic string

	// DownlinkTopic is the command topic template with {application}
	// and {eui} placeholders.
	DownlinkTopic string

	// DeviceTopicIndex and ApplicationTopicIndex locate the device and
	// application ids in uplink topics. A negative application index
	// disables application tracking.
	DeviceTopicIndex      int
	ApplicationTopicIndex int

	QoS byte

	// Metadata adds best RSSI and SNR datapoints to every uplink.
	Metadata bool

	// ForceDecode ignores payloads decoded upstream.
	ForceDecode bool

	// Devices holds per-device overrides keyed by upper-case EUI hex.
	Devices map[string]DeviceSettings

	Version        string
	HealthInterval time.Duration
}

// BridgeOptions holds the collaborators for creating a bridge.
type BridgeOptions struct {
	Config Config

	// Required collaborators.
	MQTTClient MQTTClient
	Store      IdentityStore
	Codec      Codec
	Table      ObjectTable
	Reloader   Reloader
	Datatypes  Datatypes

	// WriteSource is optional. When set, the bridge registers for its
	// write notifications on Start.
	WriteSource WriteSource

	// History is optional value history.
	History HistoryWriter

	// Events is optional live event fan-out.
	Events EventSink

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	switch {
	case opts.MQTTClient == nil:
		return nil, fmt.Errorf("MQTT client is required")
	case opts.Store == nil:
		return nil, fmt.Errorf("identity store is required")
	case opts.Codec == nil:
		return nil, fmt.Errorf("codec is required")
	case opts.Table == nil:
		return nil, fmt.Errorf("object table is required")
	case opts.Reloader == nil:
		return nil, fmt.Errorf("reloader is required")
	case opts.Datatypes == nil:
		return nil, fmt.Errorf("datatypes are required")
	}

	cfg := opts.Config
	devices := make(map[string]DeviceSettings, len(cfg.Devices))
	for k, v := range cfg.Devices {
		eui, err := identity.ParseEUI(k)
		if err != nil {
			return nil, fmt.Errorf("device settings %q: %w", k, err)
		}
		devices[eui.String()] = v
	}
	cfg.Devices = devices

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       cfg,
		mqtt:      opts.MQTTClient,
		store:     opts.Store,
		codec:     opts.Codec,
		table:     opts.Table,
		reloader:  opts.Reloader,
		datatypes: opts.Datatypes,
		writes:    opts.WriteSource,
		history:   opts.History,
		events:    opts.Events,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   cfg.Version,
		Interval:  cfg.HealthInterval,
		Publisher: opts.MQTTClient,
		Objects:   opts.Table.Len,
		Counters:  b.Metrics,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to uplinks, registers for BACnet writes and starts
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if b.writes != nil {
		b.writes.OnWriteProperty(b.handleWriteEvent)
	}

	if err := b.mqtt.Subscribe(b.cfg.UplinkTopic, b.cfg.QoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to uplinks: %w", err)
	}
	b.logInfo("subscribed to uplinks", "topic", b.cfg.UplinkTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "objects", b.table.Len())
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		if b.mqtt.IsConnected() {
			if err := b.mqtt.Unsubscribe(b.cfg.UplinkTopic); err != nil {
				b.logWarn("unsubscribe from uplinks failed", "error", err)
			}
		}

		// Cancel bridge context to abort in-flight work
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// handleMQTTMessage is the MQTT subscription handler for uplinks.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	select {
	case <-b.done:
		return nil
	default:
	}

	b.wg.Add(1)
	defer b.wg.Done()

	res := b.HandleUplink(b.ctx, topic, payload)
	if res.Err != nil && res.Dropped {
		return res.Err
	}
	return nil
}

// handleWriteEvent is the BACnet write-property callback.
func (b *Bridge) handleWriteEvent(ev bacnet.WriteEvent) {
	select {
	case <-b.done:
		return
	default:
	}

	b.wg.Add(1)
	defer b.wg.Done()

	b.HandleWrite(b.ctx, ev)
}

// device returns configured overrides for a device.
func (b *Bridge) device(eui identity.EUI) DeviceSettings {
	return b.cfg.Devices[eui.String()]
}

func (b *Bridge) broadcast(eventType string, payload any) {
	if b.events != nil {
		b.events.Broadcast(eventType, payload)
	}
}

// counters are the bridge's operational counters.
type counters struct {
	uplinksApplied     atomic.Uint64
	uplinksDropped     atomic.Uint64
	objectsCreated     atomic.Uint64
	reloads            atomic.Uint64
	reloadFailures     atomic.Uint64
	downlinksPublished atomic.Uint64
	downlinksAbandoned atomic.Uint64
}

// Metrics is a snapshot of the bridge's counters.
type Metrics struct {
	UplinksApplied     uint64 `json:"uplinks_applied"`
	UplinksDropped     uint64 `json:"uplinks_dropped"`
	ObjectsCreated     uint64 `json:"objects_created"`
	Reloads            uint64 `json:"reloads"`
	ReloadFailures     uint64 `json:"reload_failures"`
	DownlinksPublished uint64 `json:"downlinks_published"`
	DownlinksAbandoned uint64 `json:"downlinks_abandoned"`
}

// Metrics returns current bridge counters.
func (b *Bridge) Metrics() Metrics {
	return Metrics{
		UplinksApplied:     b.metrics.uplinksApplied.Load(),
		UplinksDropped:     b.metrics.uplinksDropped.Load(),
		ObjectsCreated:     b.metrics.objectsCreated.Load(),
		Reloads:            b.metrics.reloads.Load(),
		ReloadFailures:     b.metrics.reloadFailures.Load(),
		DownlinksPublished: b.metrics.downlinksPublished.Load(),
		DownlinksAbandoned: b.metrics.downlinksAbandoned.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
