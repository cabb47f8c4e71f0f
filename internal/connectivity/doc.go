// Package connectivity owns the node's path to the broker.
//
// A single Machine walks the node through
//
//	Unprovisioned -> Associating -> BrokerHandshake -> Online <-> Degraded
//	      |               |
//	      +--------> Provisioning (portal + access point, then restart)
//
// and is the only component that dials or disconnects the broker session.
// Everything else receives the Session handed to the OnOnline hooks, or
// reads it back through Machine.Session.
//
// Credentials live in a CredentialHolder. The holder is the one piece of
// shared state: the provisioning portal and the control-file watcher write
// to it from their own goroutines, the machine reads snapshots on the
// scheduler goroutine. Broker credential rotation is detected by comparing
// snapshots; there is no dirty flag.
package connectivity
