// Package mqtt provides MQTT client connectivity for the control point.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The control point publishes attribute values (power state, observing
// state) and command lifecycle events to the broker. Downstream consumers
// (operator displays, monitoring) subscribe; the control point itself never
// consumes commands over MQTT, those arrive via the HTTP API.
//
//	Control Point → MQTT Broker → Observers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Publish an attribute value (retained, so late subscribers catch up)
//	topic := mqtt.Topics{}.ObsState("subarray-01")
//	client.PublishRetained(topic, []byte(`"IDLE"`))
package mqtt
