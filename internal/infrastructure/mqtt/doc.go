// Package mqtt provides MQTT client connectivity for the bridge.
//
// This package manages:
//   - Connection to the network server's broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Topics
//
// Uplink and downlink topics belong to the network server and come from
// configuration. The bridge's own topics live under lw2bacnet/:
//
//	lw2bacnet/status   online/offline, retained
//	lw2bacnet/health   health reports, retained
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on the same host
//   - Credentials are validated against the broker ACL
//
// # Usage
//
//	client, err := mqtt.ConnectWithWill(cfg.MQTT, mqtt.Will{Topic: topic, Payload: lwt})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.MQTT.UplinkTopic, 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
