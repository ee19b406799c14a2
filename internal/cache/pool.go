package cache

import (
	"fmt"
	"sync"
)

// Pool keeps idle values grouped by key for reuse.
//
// Pool is safe for concurrent use.
// Pool must not be copied after creation (has mutex).
type Pool[K comparable, V any] struct {
	mu      sync.Mutex
	idle    map[K][]*lruNode[K, V]
	lru     lruList[K, V]
	limit   int
	onEvict func(V)

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewPool creates a pool that keeps at most limit idle values. A limit of 0
// keeps nothing: every Put evicts immediately. onEvict may be nil.
func NewPool[K comparable, V any](limit int, onEvict func(V)) *Pool[K, V] {
	return &Pool[K, V]{
		idle:    make(map[K][]*lruNode[K, V]),
		limit:   max(limit, 0),
		onEvict: onEvict,
	}
}

// Put returns v to the pool under key. If the pool exceeds its limit, the
// least recently returned values are evicted.
func (p *Pool[K, V]) Put(key K, v V) {
	p.mu.Lock()
	node := p.lru.PushFront(key, v)
	p.idle[key] = append(p.idle[key], node)
	evicted := p.trimLocked(p.limit)
	p.mu.Unlock()

	p.evict(evicted)
}

// Take removes and returns the most recently returned value for key.
func (p *Pool[K, V]) Take(key K) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nodes := p.idle[key]
	if len(nodes) == 0 {
		p.misses++
		var zero V
		return zero, false
	}
	node := nodes[len(nodes)-1]
	p.dropLocked(key, len(nodes)-1)
	p.lru.Remove(node)
	p.hits++
	return node.value, true
}

// Len returns the number of idle values.
func (p *Pool[K, V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// Clear evicts every idle value.
func (p *Pool[K, V]) Clear() {
	p.mu.Lock()
	evicted := p.trimLocked(0)
	p.mu.Unlock()

	p.evict(evicted)
}

// Stats returns pool statistics.
func (p *Pool[K, V]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Idle:      p.lru.Len(),
		Limit:     p.limit,
		Hits:      p.hits,
		Misses:    p.misses,
		Evictions: p.evictions,
	}
	if total := p.hits + p.misses; total > 0 {
		s.HitRate = float64(p.hits) / float64(total)
	}
	return s
}

// trimLocked removes the oldest values until at most n remain and returns
// them. Caller must hold p.mu.
func (p *Pool[K, V]) trimLocked(n int) []V {
	var out []V
	for p.lru.Len() > n {
		node := p.lru.Oldest()
		p.lru.Remove(node)
		// The oldest node overall is the oldest of its key.
		p.dropLocked(node.key, 0)
		p.evictions++
		out = append(out, node.value)
	}
	return out
}

// dropLocked removes the i-th idle node of key. Caller must hold p.mu.
func (p *Pool[K, V]) dropLocked(key K, i int) {
	nodes := p.idle[key]
	nodes = append(nodes[:i], nodes[i+1:]...)
	if len(nodes) == 0 {
		delete(p.idle, key)
		return
	}
	p.idle[key] = nodes
}

func (p *Pool[K, V]) evict(values []V) {
	if p.onEvict == nil {
		return
	}
	for _, v := range values {
		p.onEvict(v)
	}
}

// Stats contains pool statistics.
type Stats struct {
	// Idle is the current number of idle values.
	Idle int
	// Limit is the maximum number of idle values.
	Limit int
	// Hits is the number of Take calls that found a value.
	Hits uint64
	// Misses is the number of Take calls that found nothing.
	Misses uint64
	// HitRate is Hits over all Take calls, 0.0 to 1.0.
	HitRate float64
	// Evictions is the number of values handed to the eviction callback.
	Evictions uint64
}

// String returns a readable form of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Pool[%d/%d idle, %d hits, %d misses, %d evicted]",
		s.Idle, s.Limit, s.Hits, s.Misses, s.Evictions)
}
