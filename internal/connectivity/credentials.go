package connectivity

import (
	"fmt"
	"sync"

	"github.com/nerrad567/garge-node/internal/nvstore"
)

// CredentialStore persists credentials. *nvstore.Store satisfies it.
type CredentialStore interface {
	Load() (nvstore.Credentials, error)
	SaveNetwork(c nvstore.NetworkCredentials) error
	SaveBroker(c nvstore.BrokerCredentials) error
	ClearNetwork() error
}

// CredentialHolder is the in-memory copy of the node's credentials, written
// through to a CredentialStore.
//
// Thread Safety: all methods are safe for concurrent use.
type CredentialHolder struct {
	mu    sync.RWMutex
	store CredentialStore
	creds nvstore.Credentials
}

// NewCredentialHolder loads the current credentials from store. A nil
// store keeps credentials in memory only.
func NewCredentialHolder(store CredentialStore) (*CredentialHolder, error) {
	h := &CredentialHolder{store: store}
	if store == nil {
		return h, nil
	}
	creds, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	h.creds = creds
	return h, nil
}

// NewMemoryHolder returns a holder seeded with creds and no backing store.
func NewMemoryHolder(creds nvstore.Credentials) *CredentialHolder {
	return &CredentialHolder{creds: creds}
}

// Snapshot returns a copy of both credential pairs.
func (h *CredentialHolder) Snapshot() nvstore.Credentials {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.creds
}

// Network returns the network pair.
func (h *CredentialHolder) Network() nvstore.NetworkCredentials {
	return h.Snapshot().Network
}

// Broker returns the broker pair.
func (h *CredentialHolder) Broker() nvstore.BrokerCredentials {
	return h.Snapshot().Broker
}

// SetNetwork persists and adopts a new network pair.
func (h *CredentialHolder) SetNetwork(c nvstore.NetworkCredentials) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store != nil {
		if err := h.store.SaveNetwork(c); err != nil {
			return fmt.Errorf("saving network credentials: %w", err)
		}
	}
	h.creds.Network = c
	return nil
}

// SetBroker persists and adopts a new broker pair. It reports whether the
// value changed.
func (h *CredentialHolder) SetBroker(c nvstore.BrokerCredentials) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.creds.Broker.Equal(c) {
		return false, nil
	}
	if h.store != nil {
		if err := h.store.SaveBroker(c); err != nil {
			return false, fmt.Errorf("saving broker credentials: %w", err)
		}
	}
	h.creds.Broker = c
	return true, nil
}

// ClearNetwork erases the network pair so the next start provisions.
func (h *CredentialHolder) ClearNetwork() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store != nil {
		if err := h.store.ClearNetwork(); err != nil {
			return fmt.Errorf("clearing network credentials: %w", err)
		}
	}
	h.creds.Network = nvstore.NetworkCredentials{}
	return nil
}
