package thread

import (
	"fmt"
	"math"

	"github.com/me/kthreads/pkg/model"
)

// Registry holds every live thread. A thread is registered from creation
// until it is reaped after exit.
type Registry struct {
	byID   map[ID]*Thread
	order  []*Thread // creation order
	nextID ID
	limit  int
	maxID  ID
}

// NewRegistry creates a registry admitting at most limit live threads.
// limit <= 0 means unlimited.
func NewRegistry(limit int) *Registry {
	return &Registry{
		byID:   make(map[ID]*Thread),
		nextID: 1,
		limit:  limit,
		maxID:  math.MaxInt32,
	}
}

// Allocate creates and registers a BLOCKED thread control block.
// The caller makes it READY. It fails with model.ErrNoMemory when the
// registry is full and model.ErrNoID when ids are exhausted.
func (r *Registry) Allocate(name string, priority int) (*Thread, error) {
	if !model.ValidPriority(priority) {
		return nil, fmt.Errorf("allocate %q: %w: %d", name, model.ErrInvalidPriority, priority)
	}
	if r.limit > 0 && len(r.order) >= r.limit {
		return nil, fmt.Errorf("allocate %q: %w", name, model.ErrNoMemory)
	}
	if r.nextID > r.maxID {
		return nil, fmt.Errorf("allocate %q: %w", name, model.ErrNoID)
	}

	t := &Thread{
		ID:           r.nextID,
		Name:         name,
		Magic:        Magic,
		Status:       model.ThreadBlocked,
		BasePriority: priority,
		Priority:     priority,
		Nice:         model.NiceDefault,
		Member:       Membership{Index: -1},
	}
	r.nextID++
	r.byID[t.ID] = t
	r.order = append(r.order, t)
	return t, nil
}

// Remove unregisters t. It reports whether t was registered.
func (r *Registry) Remove(t *Thread) bool {
	if _, ok := r.byID[t.ID]; !ok {
		return false
	}
	delete(r.byID, t.ID)
	for i, x := range r.order {
		if x == t {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the live thread with the given id.
func (r *Registry) Lookup(id ID) (*Thread, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// Len returns the number of live threads.
func (r *Registry) Len() int {
	return len(r.order)
}

// Each calls fn for every live thread in creation order.
func (r *Registry) Each(fn func(*Thread)) {
	for _, t := range r.order {
		fn(t)
	}
}

// Snapshot returns info for every live thread in creation order.
func (r *Registry) Snapshot() []model.ThreadInfo {
	out := make([]model.ThreadInfo, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, t.Info())
	}
	return out
}
