package wiz

import (
	"strings"
	"time"

	"github.com/nerrad567/garge-node/internal/infrastructure/mqtt"
)

// unknownModule prefixes instance ids of devices outside the markers.
const unknownModule = "UNKNOWN"

// Device is a WiZ device seen in a discovery reply.
type Device struct {
	Address string

	// MAC is 12 upper-case hex digits.
	MAC string

	// ModuleType is the marker matched in ModuleName, or empty when the
	// device is out of scope.
	ModuleType string

	// ModuleName is the full module name reported by the device,
	// e.g. "ESP10_SOCKET_06".
	ModuleName string

	FirstSeen time.Time
}

// InstanceID returns MODULE_MAC, e.g. "SOCKET_AABBCCDDEEFF".
func (d Device) InstanceID() string {
	module := d.ModuleType
	if module == "" {
		module = unknownModule
	}
	return module + "_" + d.MAC
}

// Bridged reports whether the device matched a marker.
func (d Device) Bridged() bool {
	return d.ModuleType != ""
}

// BridgeTopics carries a device's identity together with its topics, so
// inbound commands are resolved by topic equality instead of by parsing.
type BridgeTopics struct {
	Device Device
	Config string
	State  string
	Set    string
}

// TopicsFor derives the topics of d under namespace. The result depends
// only on its inputs.
func TopicsFor(t mqtt.Topics, namespace string, d Device) BridgeTopics {
	id := d.InstanceID()
	return BridgeTopics{
		Device: d,
		Config: t.Instance(namespace, id, mqtt.LeafConfig),
		State:  t.Instance(namespace, id, mqtt.LeafState),
		Set:    t.Instance(namespace, id, mqtt.LeafSet),
	}
}

// matchMarker returns the first marker contained in moduleName.
func matchMarker(moduleName string, markers []string) string {
	upper := strings.ToUpper(moduleName)
	for _, m := range markers {
		if m != "" && strings.Contains(upper, strings.ToUpper(m)) {
			return strings.ToUpper(m)
		}
	}
	return ""
}
