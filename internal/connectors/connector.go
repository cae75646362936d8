// Package connectors defines the boundary to the per-source scraping
// adapters. Real connectors live outside this engine; the stub connectors
// here replay recorded fixtures for scheduler runs and tests.
package connectors

import (
	"sort"
	"sync"

	"github.com/parcelwatch/parcelwatch/internal/classify"
)

// Connector produces candidate raw events for one source. Returning an empty
// slice is a valid empty batch, not an error.
type Connector interface {
	// Key returns the connector key (e.g., "official_records_stub")
	Key() string

	// ListCandidateEvents returns up to limit raw events for a county.
	// limit <= 0 means no limit.
	ListCandidateEvents(county string, limit int) ([]classify.RawEvent, error)
}

// Registry holds the registered connectors
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector, replacing any prior connector with the same key
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Key()] = c
}

// Get returns the connector for a key
func (r *Registry) Get(key string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[key]
	return c, ok
}

// Keys returns the registered connector keys, sorted
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.connectors))
	for k := range r.connectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
