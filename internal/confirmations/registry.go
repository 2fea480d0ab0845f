package confirmations

import (
	"sort"
	"sync"
)

// registry is the set of confirmations the poller has already dispatched,
// keyed by id. It keeps the most recently observed copy of each confirmation
// since the nonce may be reissued between polls.
type registry struct {
	mutex sync.Mutex
	known map[string]Confirmation
}

func newRegistry() *registry {
	return &registry{known: map[string]Confirmation{}}
}

// observe records conf and returns true if its id was not known before.
func (r *registry) observe(conf Confirmation) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	_, exists := r.known[conf.ID]
	r.known[conf.ID] = conf
	return !exists
}

func (r *registry) get(id string) (Confirmation, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	conf, ok := r.known[id]
	return conf, ok
}

func (r *registry) remove(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.known, id)
}

func (r *registry) ids() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ids := make([]string, 0, len(r.known))
	for id := range r.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
