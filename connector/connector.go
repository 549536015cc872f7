// Package connector defines the source-acquisition boundary of the ingest
// pipeline. A Connector turns one source family (video platform, web page,
// document set) into a uniform stream of items and fetched content; the
// pipeline depends only on this interface, never on a concrete source.
package connector

import (
	"context"
	"sort"
	"sync"
)

// Order fixes the direction discovery results are sorted in before the
// item cap is applied.
type Order string

const (
	OrderOldest Order = "oldest"
	OrderNewest Order = "newest"
)

// Valid reports whether o is a recognized sort order.
func (o Order) Valid() bool {
	return o == OrderOldest || o == OrderNewest
}

// Item is one discoverable unit of content within a source.
type Item struct {
	ID    string
	Title string
	URL   string

	// UploadDate is YYYYMMDD where the source provides one; empty
	// otherwise. Lexical order equals chronological order.
	UploadDate string
}

// Segment is an anchored slice of an item's text. Start is the anchor:
// capture-time milliseconds for transcripts, ordinal position for paginated
// or flowing text. Within one item every segment carries a distinct Start.
type Segment struct {
	Text    string
	StartMS int64
}

// Content is the fetched payload of a single item.
type Content struct {
	ItemID   string
	URL      string
	Segments []Segment
}

// Connector discovers and fetches items from one source family.
// Implementations must be safe for concurrent use; the worker pool calls
// them from multiple jobs at once.
type Connector interface {
	// Name identifies the connector in requests (e.g. "youtube", "web").
	Name() string

	// Discover lists up to limit items for a target, sorted per order.
	// An unreachable target is an error; a reachable target with nothing
	// behind it is an empty slice.
	Discover(ctx context.Context, target string, limit int, order Order) ([]Item, error)

	// Fetch retrieves the content of one discovered item. Empty-text
	// segments are dropped here, not downstream.
	Fetch(ctx context.Context, itemID string) (*Content, error)
}

// DepthLimited is an optional capability: connectors that expand a target
// into linked targets accept a per-run depth. The pipeline derives a
// depth-bound copy per request and leaves the registered instance untouched.
type DepthLimited interface {
	WithDepth(depth int) Connector
}

// Registry manages connectors by name.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	connectors map[string]Connector
	mu         sync.RWMutex
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// Register adds a connector using its name.
// Panics if a connector is already registered with that name.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.connectors[name]; exists {
		panic("connector already registered for name: " + name)
	}
	r.connectors[name] = c
}

// Get retrieves the connector for a name.
// Returns nil if no connector is registered.
func (r *Registry) Get(name string) Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectors[name]
}

// Has checks if a connector is registered for a name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.connectors[name]
	return exists
}

// Names returns all registered connector names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortItems orders items by upload date with id as the tie-break, then
// reverses for newest-first. Items without dates sort before dated ones,
// matching string comparison against empty.
func SortItems(items []Item, order Order) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].UploadDate != items[j].UploadDate {
			return items[i].UploadDate < items[j].UploadDate
		}
		return items[i].ID < items[j].ID
	})
	if order == OrderNewest {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
}

// CapItems truncates items to limit when limit is positive.
func CapItems(items []Item, limit int) []Item {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
