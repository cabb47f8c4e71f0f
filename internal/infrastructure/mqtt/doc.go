// Package mqtt provides the broker session used by a garge node.
//
// This package manages:
//   - One authenticated session per Connect call (no auto-reconnect)
//   - Message publishing with QoS guarantees
//   - Topic subscriptions scoped to the session
//   - Availability birth message and Last Will and Testament
//   - The garge topic layout (Topics)
//
// # Session ownership
//
// paho's own reconnect loop would keep re-authenticating with the
// credentials captured at first connect. The node instead lets the
// connectivity state machine dial a new Client after each loss, reading
// the current credentials every time, so rotated credentials take effect
// on the very next attempt.
//
// # Security Considerations
//
//   - TLS is on by default (mqtt.broker.tls); mqtt.broker.ca_file adds a
//     private CA to the system roots
//   - Credentials come from the non-volatile store, with mqtt.auth as a fallback
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT,
//	    mqtt.WithCredentials(user, pass),
//	    mqtt.WithAvailability(topics.Availability(node)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
