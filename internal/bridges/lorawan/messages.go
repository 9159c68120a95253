package lorawan

import (
	"encoding/base64"
	"strings"
	"time"
)

// Topic placeholders in the downlink topic template.
const (
	PlaceholderApplication = "{application}"
	PlaceholderEUI         = "{eui}"
)

// healthTopic is where the bridge publishes its retained health status.
const healthTopic = "lw2bacnet/health"

// DownlinkMessage is the command published to the network server.
type DownlinkMessage struct {
	// DevEUI is the target device.
	DevEUI string `json:"devEui"`

	// Confirmed requests a confirmed downlink.
	Confirmed bool `json:"confirmed"`

	// FPort is the LoRaWAN port for the command.
	FPort int `json:"fPort"`

	// Data is the base64 frame: channel, type tag, value bytes.
	Data string `json:"data"`
}

// NewDownlinkMessage frames a confirmed downlink.
func NewDownlinkMessage(eui string, fport int, frame []byte) DownlinkMessage {
	return DownlinkMessage{
		DevEUI:    eui,
		Confirmed: true,
		FPort:     fport,
		Data:      base64.StdEncoding.EncodeToString(frame),
	}
}

// DownlinkTopic fills a downlink topic template.
func DownlinkTopic(template, application, eui string) string {
	r := strings.NewReplacer(PlaceholderApplication, application, PlaceholderEUI, eui)
	return r.Replace(template)
}

// HealthTopic returns the MQTT topic for health status.
func HealthTopic() string {
	return healthTopic
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: lw2bacnet/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge    string       `json:"bridge"`
	Timestamp time.Time    `json:"timestamp"`
	Status    HealthStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Version   string       `json:"version,omitempty"`

	// UptimeSeconds is seconds since the reporter was created.
	UptimeSeconds int64 `json:"uptime_seconds,omitempty"`

	Objects  int      `json:"objects"`
	Counters *Metrics `json:"counters,omitempty"`
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(version string, status HealthStatus, objects int, counters Metrics, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        "lw2bacnet",
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Objects:       objects,
		Counters:      &counters,
	}
}

// NewLWTMessage creates the Last Will and Testament message.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Bridge:    "lw2bacnet",
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected disconnect",
	}
}

// Event types pushed to live subscribers.
const (
	EventValue    = "value"
	EventDownlink = "downlink"
	EventReload   = "reload"
)

// ValueEvent announces a datapoint value applied from an uplink.
type ValueEvent struct {
	MessageID string  `json:"msg_id"`
	Datapoint string  `json:"datapoint"`
	Value     float64 `json:"value"`
	Created   bool    `json:"created,omitempty"`
}

// DownlinkEvent announces a published downlink.
type DownlinkEvent struct {
	ObjectID  uint32  `json:"object_id"`
	Datapoint string  `json:"datapoint"`
	Value     float64 `json:"value"`
	Topic     string  `json:"topic"`
	FPort     int     `json:"fport"`
}
