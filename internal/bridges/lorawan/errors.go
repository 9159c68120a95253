package lorawan

import "errors"

// Domain errors for the LoRaWAN bridge package.
var (
	// ErrInvalidTopic is returned when the device identifier cannot be
	// taken from an uplink topic.
	ErrInvalidTopic = errors.New("lorawan: invalid uplink topic")

	// ErrInvalidEnvelope is returned when an uplink payload is not a
	// recognised network server message.
	ErrInvalidEnvelope = errors.New("lorawan: invalid uplink envelope")

	// ErrNoElements is returned when an uplink yields no values.
	ErrNoElements = errors.New("lorawan: no values decoded")

	// ErrUnknownObject is returned when a write targets an object with no
	// datapoint.
	ErrUnknownObject = errors.New("lorawan: unknown object")

	// ErrNotWritable is returned when a write targets a sub-value of an
	// object-valued channel.
	ErrNotWritable = errors.New("lorawan: datapoint not writable")

	// ErrNoDownlinkPort is returned when the device's profile has no port
	// for the channel.
	ErrNoDownlinkPort = errors.New("lorawan: no downlink port")

	// ErrNoApplication is returned when the downlink topic needs an
	// application id that has not been seen for the device.
	ErrNoApplication = errors.New("lorawan: no application for device")

	// ErrInvalidValue is returned when a written value is not numeric.
	ErrInvalidValue = errors.New("lorawan: invalid value")
)
