package wiz

import (
	"time"

	"github.com/google/uuid"
)

const (
	manufacturer = "WiZ"
	eventSource  = "wiz"
)

// SwitchDiscovery is the retained Home Assistant MQTT discovery document for
// a bridged switch.
type SwitchDiscovery struct {
	Name              string       `json:"name"`
	CommandTopic      string       `json:"command_topic"`
	StateTopic        string       `json:"state_topic"`
	PayloadOn         string       `json:"payload_on"`
	PayloadOff        string       `json:"payload_off"`
	Optimistic        bool         `json:"optimistic"`
	QoS               int          `json:"qos"`
	Retain            bool         `json:"retain"`
	UniqueID          string       `json:"uniq_id"`
	AvailabilityTopic string       `json:"availability_topic,omitempty"`
	Device            SwitchDevice `json:"device"`
}

// SwitchDevice describes the physical WiZ device.
type SwitchDevice struct {
	Identifiers  string `json:"identifiers"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	ViaDevice    string `json:"via_device,omitempty"`
}

// switchDocument builds the discovery document for a registered device.
// availability and via may be empty.
func switchDocument(bt BridgeTopics, qos byte, availability, via string) SwitchDiscovery {
	id := bt.Device.InstanceID()
	model := bt.Device.ModuleName
	if model == "" {
		model = bt.Device.ModuleType
	}
	return SwitchDiscovery{
		Name:              id,
		CommandTopic:      bt.Set,
		StateTopic:        bt.State,
		PayloadOn:         PayloadOn,
		PayloadOff:        PayloadOff,
		Optimistic:        false,
		QoS:               int(qos),
		Retain:            true,
		UniqueID:          id,
		AvailabilityTopic: availability,
		Device: SwitchDevice{
			Identifiers:  id,
			Name:         id,
			Model:        model,
			Manufacturer: manufacturer,
			ViaDevice:    via,
		},
	}
}

// DiscoveredEvent announces that the node saw a device. The capitalised
// keys are what the hub's automation already consumes.
type DiscoveredEvent struct {
	EventID      string `json:"EventId"`
	DiscoveredBy string `json:"DiscoveredBy"`
	Target       string `json:"Target"`
	Type         string `json:"Type"`
	Module       string `json:"Module,omitempty"`
	Address      string `json:"Address,omitempty"`
	Bridged      bool   `json:"Bridged"`
	Timestamp    string `json:"Timestamp"`
}

func newDiscoveredEvent(nodeName string, d Device, now time.Time) DiscoveredEvent {
	return DiscoveredEvent{
		EventID:      uuid.NewString(),
		DiscoveredBy: nodeName,
		Target:       d.InstanceID(),
		Type:         eventSource,
		Module:       d.ModuleName,
		Address:      d.Address,
		Bridged:      d.Bridged(),
		Timestamp:    now.UTC().Format(time.RFC3339),
	}
}
