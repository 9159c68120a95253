package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement and key names for datapoint history.
const (
	MeasurementDatapoint = "datapoint_values"

	tagEUI       = "eui"
	tagDatapoint = "datapoint"
	tagName      = "name"
	fieldValue   = "value"
)

// WriteDatapoint records one decoded datapoint value.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Values written while disconnected are discarded.
//
// Parameters:
//   - eui: Device EUI (hex, upper case)
//   - datapoint: Datapoint id (e.g., "A81758FFFE0312AB-1")
//   - name: Datapoint name; omitted from the tags when empty
//   - value: Decoded numeric value
//   - ts: Time the value was received
//
// Example:
//
//	client.WriteDatapoint("A81758FFFE0312AB", "A81758FFFE0312AB-1", "temperature_1", 21.5, time.Now())
func (c *Client) WriteDatapoint(eui, datapoint, name string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		tagEUI:       eui,
		tagDatapoint: datapoint,
	}
	// Line protocol rejects empty tag values.
	if name != "" {
		tags[tagName] = name
	}

	point := write.NewPoint(
		MeasurementDatapoint,
		tags,
		map[string]interface{}{
			fieldValue: value,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
