package wiz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// WiZ UDP methods.
const (
	MethodGetSystemConfig = "getSystemConfig"
	MethodGetPilot        = "getPilot"
	MethodSetPilot        = "setPilot"
)

// Switch payloads on the set and state topics.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

const macHexLen = 12

type request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	Method string          `json:"method"`
	Env    string          `json:"env,omitempty"`
	Result json.RawMessage `json:"result"`
	Error  *replyError     `json:"error,omitempty"`
}

type replyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SystemConfig is the result of getSystemConfig.
type SystemConfig struct {
	MAC        string `json:"mac"`
	HomeID     int    `json:"homeId"`
	RoomID     int    `json:"roomId"`
	ModuleName string `json:"moduleName"`
	FwVersion  string `json:"fwVersion"`
}

// Pilot is the result of getPilot.
type Pilot struct {
	MAC   string `json:"mac"`
	RSSI  int    `json:"rssi"`
	State bool   `json:"state"`
}

type setPilotParams struct {
	State bool `json:"state"`
}

type setPilotResult struct {
	Success bool `json:"success"`
}

// SystemConfigRequest is the discovery broadcast payload.
func SystemConfigRequest() []byte {
	return mustEncode(request{Method: MethodGetSystemConfig, Params: struct{}{}})
}

// PilotRequest asks a device for its current state.
func PilotRequest() []byte {
	return mustEncode(request{Method: MethodGetPilot})
}

// SetPilotRequest switches a device on or off.
func SetPilotRequest(on bool) []byte {
	return mustEncode(request{Method: MethodSetPilot, Params: setPilotParams{State: on}})
}

func mustEncode(r request) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		panic(fmt.Sprintf("wiz: encoding %s: %v", r.Method, err))
	}
	return b
}

// decodeReply checks the envelope of a reply to method and unmarshals its
// result into v.
func decodeReply(payload []byte, method string, v any) error {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: %s (code %d)", ErrDeviceError, resp.Error.Message, resp.Error.Code)
	}
	if resp.Method != method {
		return fmt.Errorf("%w: method %q, want %q", ErrMalformedReply, resp.Method, method)
	}
	if len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null")) {
		return fmt.Errorf("%w: missing result", ErrMalformedReply)
	}
	if err := json.Unmarshal(resp.Result, v); err != nil {
		return fmt.Errorf("%w: result: %w", ErrMalformedReply, err)
	}
	return nil
}

// ParseSystemConfig decodes a getSystemConfig reply and normalises its MAC.
func ParseSystemConfig(payload []byte) (SystemConfig, error) {
	var sc SystemConfig
	if err := decodeReply(payload, MethodGetSystemConfig, &sc); err != nil {
		return SystemConfig{}, err
	}
	mac, err := NormalizeMAC(sc.MAC)
	if err != nil {
		return SystemConfig{}, err
	}
	sc.MAC = mac
	return sc, nil
}

// ParsePilot decodes a getPilot reply.
func ParsePilot(payload []byte) (Pilot, error) {
	var p Pilot
	if err := decodeReply(payload, MethodGetPilot, &p); err != nil {
		return Pilot{}, err
	}
	return p, nil
}

// parseSetPilot checks a setPilot acknowledgement.
func parseSetPilot(payload []byte) error {
	var r setPilotResult
	if err := decodeReply(payload, MethodSetPilot, &r); err != nil {
		return err
	}
	if !r.Success {
		return fmt.Errorf("%w: setPilot not acknowledged", ErrDeviceError)
	}
	return nil
}

// NormalizeMAC returns mac as 12 upper-case hex digits with separators
// removed.
//
// Example: "aa:bb:cc:dd:ee:ff" -> "AABBCCDDEEFF"
func NormalizeMAC(mac string) (string, error) {
	m := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(mac)))
	if len(m) != macHexLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	for _, r := range m {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
		}
	}
	return m, nil
}

// ParseCommand interprets a set payload. ON/OFF are matched without regard
// to case; a JSON object {"state": bool} is also accepted.
func ParseCommand(payload []byte) (bool, error) {
	s := strings.TrimSpace(string(payload))
	switch {
	case strings.EqualFold(s, PayloadOn):
		return true, nil
	case strings.EqualFold(s, PayloadOff):
		return false, nil
	}

	var obj struct {
		State *bool `json:"state"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj.State != nil {
		return *obj.State, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
}

// StatePayload renders a switch state.
func StatePayload(on bool) []byte {
	if on {
		return []byte(PayloadOn)
	}
	return []byte(PayloadOff)
}
