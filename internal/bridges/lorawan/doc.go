// Package lorawan implements the LoRaWAN to BACnet bridge.
//
// The bridge sits between a LoRaWAN network server, reached over MQTT, and
// the local BACnet device. Every datapoint a sensor reports becomes a BACnet
// object, and writes to those objects become downlink commands.
//
// # Architecture
//
//	┌────────────────┐          ┌─────────────────┐          ┌──────────────┐
//	│ Network Server │   MQTT   │ LoRaWAN Bridge  │  objects │ BACnet Stack │
//	│ (TTS/ChirpStack│◄────────►│   (this pkg)    │◄────────►│              │
//	└────────────────┘          └─────────────────┘          └──────────────┘
//
// # Uplink Pipeline
//
// HandleUplink takes the device EUI from the topic, parses the envelope
// (The Things Stack or ChirpStack), decodes the payload with the device's
// script unless it arrived decoded, and applies each element:
//
//   - a datapoint with a live object has its value pushed to the object and
//     the identity store
//   - a new datapoint is registered and an object is created for it
//
// When any element created a datapoint the object set is reloaded once,
// after the whole message.
//
// # Downlink Pipeline
//
// HandleWrite receives BACnet write-property events. The object id leads to
// the datapoint, the device's profile gives the downlink port for the
// channel, and the codec frames the value as [channel, type, bytes...].
// The command is published to the device's command topic without waiting
// for delivery. Writes with no downlink port are abandoned.
//
// # Health
//
// HealthReporter publishes a retained status message to lw2bacnet/health
// and provides the Last Will payload for unexpected disconnects.
package lorawan
