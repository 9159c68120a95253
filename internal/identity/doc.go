// Package identity is the persistent mapping between LoRaWAN devices and
// the datapoints (device channels) they report.
//
// It is the ground truth for object identity across restarts:
//   - a device row is created on the first uplink from an EUI and its decoder
//     assignment is sticky from then on;
//   - a datapoint row is created on the first observation of a channel and
//     receives a numeric object id at that moment, which the object table
//     reuses verbatim on every reload;
//   - datapoint ids are a pure function of (EUI, channel, field) so they can
//     be recomputed from any uplink and split back apart for downlinks.
//
// Every call is an independent short statement; callers never rely on
// atomicity across calls. Repeated upserts are idempotent, so a crash between
// registering a device and its datapoints is repaired by the next uplink.
//
// Lookups return ErrNotFound for absent rows. Callers decide whether absence
// means "not provisioned yet" or "drop this event".
package identity
