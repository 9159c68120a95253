// Package objects owns the in-memory table of provisioned BACnet objects
// and keeps the BACnet stack's object set an exact mirror of it.
//
// Objects are keyed by the numeric object id persisted with each datapoint,
// so instance numbers survive restarts. The uplink pipeline mutates the
// table through AddOrReplace and UpdateValue; Reload rebuilds it from an
// identity store snapshot and hands the whole set to the stack, unloading
// every materialised object first.
//
// Thread Safety: a single mutex guards the table and the materialised set.
// Reload holds it for its whole duration, so no caller can observe a
// partially unloaded stack.
package objects
