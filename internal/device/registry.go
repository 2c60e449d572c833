// Package device holds the trusted-device table. It is the single source of
// truth for "is this device currently authorized" — the broker and both
// transfer directions consult it on every operation.
package device

import "sync"

// Identity is one paired device's trust record.
type Identity struct {
	ID        string `json:"device_id"`
	Name      string `json:"device_name"`
	PublicKey string `json:"public_key"` // PEM-encoded
}

// Registry is a mutex-guarded device table. A Remove is observed by every
// Contains issued after it returns.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Identity
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]Identity)}
}

// Add inserts or overwrites the record for id. Re-pairing the same device
// updates its record rather than erroring.
func (r *Registry) Add(identity Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[identity.ID] = identity
}

// Remove deletes the record for id and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	return ok
}

func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

func (r *Registry) Get(id string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.devices[id]
	return identity, ok
}

// List returns a snapshot of all paired devices, in no particular order.
func (r *Registry) List() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Identity, 0, len(r.devices))
	for _, identity := range r.devices {
		out = append(out, identity)
	}
	return out
}
