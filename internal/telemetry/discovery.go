package telemetry

import (
	"fmt"
	"strings"
)

// SensorDiscovery is the retained Home Assistant MQTT discovery document
// for one channel, using HA's abbreviated keys.
type SensorDiscovery struct {
	Name              string          `json:"name"`
	StateClass        string          `json:"stat_cla"`
	StateTopic        string          `json:"stat_t"`
	Unit              string          `json:"unit_of_meas,omitempty"`
	DeviceClass       string          `json:"dev_cla,omitempty"`
	ForceUpdate       bool            `json:"frc_upd"`
	UniqueID          string          `json:"uniq_id"`
	ValueTemplate     string          `json:"val_tpl"`
	AvailabilityTopic string          `json:"avty_t,omitempty"`
	Device            DiscoveryDevice `json:"dev"`
	ParentName        string          `json:"parent_name"`
	Version           string          `json:"version"`
}

// DiscoveryDevice groups a node's channels under one HA device.
type DiscoveryDevice struct {
	Identifiers  []string `json:"ids"`
	Name         string   `json:"name"`
	Model        string   `json:"mdl,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

// DeviceInfo is the node metadata reported in discovery documents.
type DeviceInfo struct {
	Model        string
	Manufacturer string
	Version      string
}

// ValueTemplate renders a channel's value from its state document.
func ValueTemplate(channel string) string {
	return fmt.Sprintf("{{value_json.%s | round(3) | default(0)}}", channel)
}

// displayName turns "garge_b43a4536a89c" into "garge b43a4536a89c".
func displayName(nodeName string) string {
	return strings.ReplaceAll(nodeName, "_", " ")
}
