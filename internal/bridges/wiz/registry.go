package wiz

import (
	"sort"
	"sync"
)

// Registry holds the bridged devices of the current broker session, keyed
// by MAC. Entries are only added; Clear empties it when the session ends.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byMAC map[string]BridgeTopics
	bySet map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byMAC: make(map[string]BridgeTopics),
		bySet: make(map[string]string),
	}
}

// Add registers bt. It returns false, leaving the registry unchanged, when
// the MAC is already present.
func (r *Registry) Add(bt BridgeTopics) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byMAC[bt.Device.MAC]; ok {
		return false
	}
	r.byMAC[bt.Device.MAC] = bt
	r.bySet[bt.Set] = bt.Device.MAC
	return true
}

// UpdateAddress records a new IP for a registered device, e.g. after a DHCP
// renewal. It reports whether the address changed.
func (r *Registry) UpdateAddress(mac, addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bt, ok := r.byMAC[mac]
	if !ok || bt.Device.Address == addr {
		return false
	}
	bt.Device.Address = addr
	r.byMAC[mac] = bt
	return true
}

// Get looks a device up by MAC.
func (r *Registry) Get(mac string) (BridgeTopics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bt, ok := r.byMAC[mac]
	return bt, ok
}

// BySetTopic resolves an inbound command topic.
func (r *Registry) BySetTopic(topic string) (BridgeTopics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mac, ok := r.bySet[topic]
	if !ok {
		return BridgeTopics{}, false
	}
	return r.byMAC[mac], true
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byMAC)
}

// Entries returns all registered devices ordered by MAC.
func (r *Registry) Entries() []BridgeTopics {
	r.mu.RLock()
	out := make([]BridgeTopics, 0, len(r.byMAC))
	for _, bt := range r.byMAC {
		out = append(out, bt)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Device.MAC < out[j].Device.MAC })
	return out
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byMAC)
	clear(r.bySet)
}
