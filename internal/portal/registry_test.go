package portal

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestRegistryBlocksSameKey(t *testing.T) {
	r := newRegistry()
	unlock := r.lock("doc_1")

	acquired := make(chan struct{})
	go func() {
		u := r.lock("doc_1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("expected second lock on the same key to block")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock was never granted after release")
	}
}

func TestRegistryAllowsDistinctKeys(t *testing.T) {
	r := newRegistry()
	unlock := r.lock("doc_1")
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := r.lock("doc_2")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
}

func TestRegistryDropsReleasedEntries(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := r.lock("doc_" + strconv.Itoa(i%4))
			u()
		}()
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.locks) != 0 {
		t.Fatalf("expected no entries after all releases, got %d", len(r.locks))
	}
}
