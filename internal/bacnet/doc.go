// Package bacnet models the BACnet side of the bridge: the supported object
// kinds, object identifiers, and the contract of the field-protocol stack
// that hosts provisioned objects.
//
// Object kinds are a closed enumeration (analog/binary input, output and
// value). Names from configuration files are resolved once through
// ParseKind; nothing looks up constructors by name at runtime.
//
// Stack is the boundary to the field-protocol implementation. LocalDevice
// is the in-process implementation used by the bridge: it keeps the object
// database of the local BACnet device, enforces that no two objects share an
// instance number or a name, and delivers write-property notifications to
// registered callbacks. Wire encoding of BACnet/IP frames is not part of
// this package.
package bacnet
