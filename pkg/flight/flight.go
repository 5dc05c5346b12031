package flight

import (
	"sync"
	"time"
)

// Cache coalesces concurrent calls for the same key into a single call of
// work and keeps successful results until they expire.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	finished map[K]entry[V]
	pending  map[K]*job[V]

	work func(K) (V, error)
	ttl  time.Duration
	now  func() time.Time
}

type entry[V any] struct {
	val      V
	deadline time.Time // zero => never expires
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

type job[V any] struct {
	val  V
	err  error
	done chan struct{}
}

func NewCache[K comparable, V any](ttl time.Duration, work func(K) (V, error)) *Cache[K, V] {
	return &Cache[K, V]{
		finished: make(map[K]entry[V]),
		pending:  make(map[K]*job[V]),
		work:     work,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the cached value for k, joining an in-flight call if one exists.
// Errors are never cached.
func (p *Cache[K, V]) Get(k K) (V, error) {
	p.mu.Lock()
	if e, ok := p.finished[k]; ok {
		if !e.expired(p.now()) {
			p.mu.Unlock()
			return e.val, nil
		}
		delete(p.finished, k)
	}

	if j, ok := p.pending[k]; ok {
		p.mu.Unlock()
		<-j.done
		return j.val, j.err
	}

	j := &job[V]{done: make(chan struct{})}
	p.pending[k] = j
	p.mu.Unlock()

	j.val, j.err = p.work(k)

	p.mu.Lock()
	if j.err == nil {
		e := entry[V]{val: j.val}
		if p.ttl > 0 {
			e.deadline = p.now().Add(p.ttl)
		}
		p.finished[k] = e
	}
	delete(p.pending, k)
	p.mu.Unlock()
	close(j.done)

	return j.val, j.err
}

// Forget drops the cached value for k. An in-flight call is not interrupted.
func (p *Cache[K, V]) Forget(k K) {
	p.mu.Lock()
	delete(p.finished, k)
	p.mu.Unlock()
}

// ForgetFunc drops every cached value whose key matches, along with any
// value that has already expired.
func (p *Cache[K, V]) ForgetFunc(match func(K) bool) {
	p.mu.Lock()
	now := p.now()
	for k, e := range p.finished {
		if match(k) || e.expired(now) {
			delete(p.finished, k)
		}
	}
	p.mu.Unlock()
}

func (p *Cache[K, V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.finished)
}
