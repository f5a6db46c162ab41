package trucksbus

import "sync"

// DedupWindow remembers recently seen message ids. When adding an id would
// exceed capacity the whole window is cleared, so memory stays bounded and
// duplicates spanning a clear may be delivered again.
type DedupWindow struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
}

func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = 1000
	}
	return &DedupWindow{capacity: capacity, seen: make(map[string]struct{}, capacity)}
}

// Add records id and reports whether it was new.
func (d *DedupWindow) Add(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	if len(d.seen) >= d.capacity {
		d.seen = make(map[string]struct{}, d.capacity)
	}
	d.seen[id] = struct{}{}
	return true
}

// Seen reports whether id is in the window.
func (d *DedupWindow) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

func (d *DedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset empties the window.
func (d *DedupWindow) Reset() {
	d.mu.Lock()
	d.seen = make(map[string]struct{}, d.capacity)
	d.mu.Unlock()
}
