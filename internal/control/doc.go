// Package control applies credentials dropped into a file by an operator.
//
// A provisioning tool (or a human with scp) writes a small YAML file:
//
//	mqtt_user: node-7
//	mqtt_pass: s3cret
//	ssid: workshop      # optional
//	password: hunter22  # optional
//
// The Watcher reads it at start and again whenever it changes, and stores
// the values through the credential holder. A changed broker pair is picked
// up by the connectivity machine on its next tick: an in-progress handshake
// back-off is cut short, and an online session is re-established. A new
// network pair is only persisted; it takes effect on the next association.
package control
