// Package codec runs device codec scripts in a JavaScript sandbox.
//
// A codec script is a plain ES5 file exposing:
//
//	function decodeUplink(input)  // input = {bytes: [...], fPort: n}
//	                              // returns {data: [{channel, type, value, name?}]}
//	var channels = {3: 103}       // channel -> type tag, for downlinks
//	var encoders = {103: fn}      // type tag -> function(value) returning bytes
//
// Every Decode and Encode call evaluates the script in a fresh goja runtime,
// so nothing leaks between devices or calls. Evaluation is bounded by the
// gateway's evaluation timeout and by the caller's context.
//
// Script failures never escape as panics: Decode yields an empty element
// sequence and Encode returns an error wrapping ErrEncode.
//
// # Script Resolution
//
// For each call the script named for the device is looked up in the scripts
// directory. If absent, and a ProfileSource is configured, a device-specific
// script is fetched and written to that path so later calls find it on disk.
// Otherwise the default script is used.
package codec
