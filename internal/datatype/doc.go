// Package datatype maps the type tags reported by device codecs to the
// BACnet object kind, engineering units and COV flag used when a datapoint
// is provisioned.
//
// The registry starts from the embedded Cayenne LPP table and is overlaid,
// tag by tag, with the operator's datatypes file when one exists. Object
// kinds are resolved once at load time through bacnet.ParseKind.
package datatype
