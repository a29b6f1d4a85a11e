package subscription

import (
	"sort"
	"sync"
)

// Registry は稼働中の購読IDとCoordinatorの対応を保持する。
type Registry struct {
	mu     sync.RWMutex
	coords map[string]*Coordinator
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{coords: make(map[string]*Coordinator)}
}

// Put はCoordinatorを登録する。同じIDの登録は置き換える。
func (r *Registry) Put(c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coords[c.ID()] = c
}

// Get は購読IDのCoordinatorを返す。
func (r *Registry) Get(id string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coords[id]
	return c, ok
}

// Remove は購読IDの登録を外し、外したCoordinatorを返す。
func (r *Registry) Remove(id string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coords[id]
	if ok {
		delete(r.coords, id)
	}
	return c, ok
}

// List は登録中のCoordinatorを購読の作成日時順で返す。
func (r *Registry) List() []*Coordinator {
	r.mu.RLock()
	out := make([]*Coordinator, 0, len(r.coords))
	for _, c := range r.coords {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Subscription(), out[j].Subscription()
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}

// Len は登録数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.coords)
}
