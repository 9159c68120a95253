package lorawan

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthReporter manages periodic health status reporting.
// It publishes retained health messages to MQTT at regular intervals.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	objects   func() int
	counters  func() Metrics

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Objects reports the current object count. Optional.
	Objects func() int

	// Counters reports bridge counters. Optional.
	Counters func() Metrics
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		objects:   cfg.Objects,
		counters:  cfg.Counters,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.Status()
	return h.publishStatus(status, reason)
}

// Status evaluates the current bridge status.
func (h *HealthReporter) Status() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

// Snapshot builds the current health message without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.Status()
	return h.message(status, reason)
}

// GetLWTPayload returns the Last Will and Testament message payload.
// This should be set as the MQTT will message during connection.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage())
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	var (
		objects  int
		counters Metrics
	)
	if h.objects != nil {
		objects = h.objects()
	}
	if h.counters != nil {
		counters = h.counters()
	}

	msg := NewHealthMessage(h.version, status, objects, counters, h.startTime)
	msg.Reason = reason
	return msg
}

// publishStatus publishes a health status message (QoS 1, retained).
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
