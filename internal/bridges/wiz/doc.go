// Package wiz bridges WiZ Wi-Fi sockets and switches into the node's MQTT
// namespace.
//
// WiZ devices speak a small JSON-over-UDP protocol on port 38899. The bridge:
//   - broadcasts getSystemConfig on a cadence and collects replies for a
//     short window;
//   - registers every in-scope device (module name containing one of the
//     configured markers, SOCKET and SHRGBC by default) under a deterministic
//     instance id, MODULE_MAC;
//   - publishes a retained Home Assistant switch document and subscribes to
//     the device's set topic;
//   - translates ON/OFF commands into setPilot and mirrors getPilot state back
//     to the state topic.
//
// # Topic Structure
//
//	<root>/<namespace>/<MODULE>_<MAC>/config   retained HA switch document
//	<root>/<namespace>/<MODULE>_<MAC>/state    retained ON/OFF
//	<root>/<namespace>/<MODULE>_<MAC>/set      commands from the hub
//	<root>/<node>/discovered_devices/<MODULE>_<MAC>/discovered
//
// # Threading
//
// Everything except Deliver runs on the scheduler goroutine. Deliver is the
// MQTT message handler; it only queues onto a bounded inbox which Tick
// drains.
//
// # Registry Lifetime
//
// Entries are only added while a broker session lasts. OnSessionLost empties
// the registry so the next discovery pass re-announces every device on the
// fresh session.
package wiz
