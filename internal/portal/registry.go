package portal

import "sync"

// registry serializes reconciliation attempts per document id. The persisted
// in-flight flag only reports progress to readers; this keyed lock is what
// actually prevents two attempts from interleaving their uploads and state
// writes.
type registry struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func newRegistry() *registry {
	return &registry{locks: make(map[string]*docLock)}
}

// lock blocks until the document's slot is free and returns the release
// func. Entries are dropped once the last holder releases, so the map only
// carries documents with active or queued attempts.
func (r *registry) lock(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &docLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}
