// Package mqtt adapts paho.mqtt.golang to a single-attempt broker session.
//
// This package manages:
//   - One connection attempt per Session, reported through callbacks
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard validation
//   - Last Will and Testament (LWT) plus retained online/offline status
//   - Classification of connect failures (credentials, reachability, other)
//
// # Architecture
//
// Paho's own reconnect loop is disabled. The connection manager dials a new
// Session for every attempt and discards the old one, so a stale session can
// never deliver into the current one.
//
//	connection.Manager → Transport → mqtt.Dial → broker
//
// # Security Considerations
//
//   - TLS 1.2+ is used when cfg.Broker.TLS=true
//   - A custom CA bundle can be supplied for self-signed home brokers
//   - Credentials are never logged
//
// # Usage
//
//	s, err := mqtt.Dial(opts, mqtt.Callbacks{
//	    OnConnected: func() { _ = s.Subscribe(mqtt.TopicSensorData, 1) },
//	    OnMessage: func(topic string, payload []byte) {
//	        log.Printf("%s = %s", topic, payload)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Disconnect()
package mqtt
