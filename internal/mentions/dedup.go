package mentions

import "sync"

// dedupCapacity bounds the per-agent seen-mention set
const dedupCapacity = 10000

// dedup is a fixed-capacity seen set with FIFO eviction. Poll and
// stream feed the same set, so a mention arriving on both paths is
// still handled once.
type dedup struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
	cap   int
}

func newDedup(capacity int) *dedup {
	return &dedup{
		seen: make(map[string]bool, capacity),
		cap:  capacity,
	}
}

// MarkSeen records an id, reporting whether it was already present
func (d *dedup) MarkSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[id] {
		return true
	}

	d.seen[id] = true
	d.order = append(d.order, id)
	if len(d.order) > d.cap {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return false
}
