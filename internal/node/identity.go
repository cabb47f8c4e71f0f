package node

import (
	"fmt"
	"net"
	"strings"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
)

// namePrefix is prepended to the hardware id to form the node name.
const namePrefix = "garge_"

// Identity is fixed for the life of the process. ID is the lower-case hex
// hardware address without separators; Name roots every published topic.
type Identity struct {
	ID   string
	Name string
}

// NewIdentity normalises id and derives the node name from it.
func NewIdentity(id string) Identity {
	id = strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "").Replace(id))
	return Identity{ID: id, Name: namePrefix + id}
}

// ResolveIdentity uses node.id when configured, otherwise the hardware
// address of node.interface.
func ResolveIdentity(cfg config.NodeConfig) (Identity, error) {
	if cfg.ID != "" {
		return NewIdentity(cfg.ID), nil
	}

	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return Identity{}, fmt.Errorf("resolving identity from %s: %w", cfg.Interface, err)
	}
	if len(iface.HardwareAddr) == 0 {
		return Identity{}, fmt.Errorf("resolving identity: %s has no hardware address", cfg.Interface)
	}
	return NewIdentity(iface.HardwareAddr.String()), nil
}
