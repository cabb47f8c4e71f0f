package mqtt

import "strings"

// Topic leaf names. Every addressable thing under the root exposes the same
// three leaves, which is what Home Assistant's MQTT discovery expects.
const (
	LeafConfig = "config"
	LeafState  = "state"
	LeafSet    = "set"

	leafStatus     = "status"
	leafDiscovered = "discovered"
	discoveredDir  = "discovered_devices"
)

// Topics provides builders for garge MQTT topics under a configurable root.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Layout:
//
//	<root>/<node>/status                                   availability (LWT)
//	<root>/<node>/<node>_<channel>/{config,state}          telemetry
//	<root>/<namespace>/<instanceId>/{config,state,set}     bridged devices
//	<root>/<node>/discovered_devices/<instanceId>/discovered
//
// Example:
//
//	topics := mqtt.Topics{Root: "garge/devices"}
//	topics.ChannelState("garge_b43a4536a89c", "temperature")
//	// Returns: "garge/devices/garge_b43a4536a89c/garge_b43a4536a89c_temperature/state"
type Topics struct {
	Root string
}

// join builds a topic from the root and the given levels.
func (t Topics) join(levels ...string) string {
	root := strings.TrimRight(t.Root, "/")
	return root + "/" + strings.Join(levels, "/")
}

// Availability returns the retained online/offline topic for a node.
func (t Topics) Availability(node string) string {
	return t.join(node, leafStatus)
}

// ChannelID returns the instance id of a node's telemetry channel.
func (Topics) ChannelID(node, channel string) string {
	return node + "_" + channel
}

// ChannelConfig returns the discovery configuration topic for a telemetry channel.
func (t Topics) ChannelConfig(node, channel string) string {
	return t.join(node, t.ChannelID(node, channel), LeafConfig)
}

// ChannelState returns the state topic for a telemetry channel.
func (t Topics) ChannelState(node, channel string) string {
	return t.join(node, t.ChannelID(node, channel), LeafState)
}

// Instance returns the topic for one leaf of a bridged instance.
//
// Example: garge/devices/garge_b43a4536a89c/SOCKET_AABBCCDDEEFF/set
func (t Topics) Instance(namespace, instanceID, leaf string) string {
	return t.join(namespace, instanceID, leaf)
}

// DiscoveredEvent returns the topic announcing that a node saw a device.
func (t Topics) DiscoveredEvent(node, instanceID string) string {
	return t.join(node, discoveredDir, instanceID, leafDiscovered)
}
