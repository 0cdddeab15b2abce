package monitor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/channelpass/backend/internal/queue"
)

// WatchedAddress is a deposit address the monitor is waiting on.
type WatchedAddress struct {
	Address        string
	OrderID        uuid.UUID
	Currency       string
	Network        string
	ExpectedAmount float64
	Callback       func(queue.PaymentEvent)
}

// WatchRegistry is the shared set of watched addresses, keyed by address
// string. Re-watching an address overwrites the prior entry: last writer
// wins, no duplicate entries per address.
type WatchRegistry struct {
	mu      sync.RWMutex
	entries map[string]WatchedAddress
}

func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{entries: make(map[string]WatchedAddress)}
}

func (r *WatchRegistry) Watch(w WatchedAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[w.Address] = w
}

func (r *WatchRegistry) Unwatch(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, address)
}

func (r *WatchRegistry) Get(address string) (WatchedAddress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.entries[address]
	return w, ok
}

// Snapshot returns a defensive copy of every watch entry.
func (r *WatchRegistry) Snapshot() []WatchedAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WatchedAddress, 0, len(r.entries))
	for _, w := range r.entries {
		out = append(out, w)
	}
	return out
}

// ByNetwork returns the watched addresses routed to one network.
func (r *WatchRegistry) ByNetwork(network string) []WatchedAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WatchedAddress
	for _, w := range r.entries {
		if w.Network == network {
			out = append(out, w)
		}
	}
	return out
}

func (r *WatchRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
