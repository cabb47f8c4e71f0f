package connectivity

import "fmt"

// State is the connectivity state of the node.
type State int

const (
	Unprovisioned State = iota
	Provisioning
	Associating
	BrokerHandshake
	Online

	// Degraded: the session claims to be connected but the last publish
	// failed. The session is kept; the next successful publish restores
	// Online.
	Degraded
)

var stateNames = [...]string{
	Unprovisioned:   "unprovisioned",
	Provisioning:    "provisioning",
	Associating:     "associating",
	BrokerHandshake: "broker_handshake",
	Online:          "online",
	Degraded:        "degraded",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HasSession reports whether a broker session exists in this state.
func (s State) HasSession() bool {
	return s == Online || s == Degraded
}
