// Package templates embeds the default configuration files shipped with the
// bridge: the Cayenne LPP codec script and the datatype table.
//
// At startup Install copies them into the config directory without
// overwriting anything an operator has already edited.
package templates
