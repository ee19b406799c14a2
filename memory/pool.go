package memory

import (
	"fmt"
	"sync"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/internal/logging"
)

// HeapAllocator creates and destroys device heaps. backend.Device
// satisfies it.
type HeapAllocator interface {
	CreateHeap(size uint64, label string) (backend.Heap, error)
	DestroyHeap(h backend.Heap)
}

// Arena is a set of device heaps, one per allocation block. An arena is
// leased by exactly one frame at a time.
type Arena struct {
	index  int
	heaps  []backend.Heap
	leased bool
}

// Index returns the arena's position in the pool ring.
func (a *Arena) Index() int { return a.index }

// Heap returns the heap backing block, or nil.
func (a *Arena) Heap(block int) backend.Heap {
	if block < 0 || block >= len(a.heaps) {
		return nil
	}
	return a.heaps[block]
}

// bytes returns the total heap size of the arena.
func (a *Arena) bytes() uint64 {
	var n uint64
	for _, h := range a.heaps {
		if h != nil {
			n += h.Size()
		}
	}
	return n
}

// PoolStats contains pool usage statistics.
type PoolStats struct {
	// Arenas is the number of arenas in the ring.
	Arenas int

	// Leased is the number of arenas held by in-flight frames.
	Leased int

	// HeapBytes is the total size of all heaps.
	HeapBytes uint64

	// Grown is the number of arenas added beyond FramesInFlight.
	Grown int
}

// String returns a human-readable string of pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("Pool[%d/%d leased, %d MB heaps, %d grown]",
		s.Leased, s.Arenas, s.HeapBytes/(1024*1024), s.Grown)
}

// Pool is a ring of arenas shared by consecutive frames. A frame leases an
// arena when it starts executing and releases it when its GPU work is
// known complete.
//
// Pool is safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	cfg    Config
	dev    HeapAllocator
	arenas []*Arena
	grown  int
	closed bool
}

// NewPool creates a pool that allocates heaps from dev.
func NewPool(dev HeapAllocator, cfg Config) *Pool {
	return &Pool{cfg: cfg.withDefaults(), dev: dev}
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Lease is an arena held by one frame.
type Lease struct {
	pool  *Pool
	arena *Arena
	once  sync.Once
}

// Arena returns the leased arena.
func (l *Lease) Arena() *Arena { return l.arena }

// Release returns the arena to the pool. Calling Release more than once
// is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.mu.Lock()
		defer l.pool.mu.Unlock()
		l.arena.leased = false
	})
}

// Acquire leases a free arena with heaps of at least the given block sizes.
// When every arena is leased, the pool grows under PolicyGrow and fails
// with ErrArenaExhausted under PolicyFail.
func (p *Pool) Acquire(blocks []uint64) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	var a *Arena
	for _, cand := range p.arenas {
		if !cand.leased {
			a = cand
			break
		}
	}
	if a == nil {
		if len(p.arenas) >= p.cfg.FramesInFlight {
			if p.cfg.Policy == PolicyFail {
				return nil, fmt.Errorf("%w: all %d arenas in flight", ErrArenaExhausted, len(p.arenas))
			}
			p.grown++
			logging.Logger().Warn("memory: arena ring grown", "arenas", len(p.arenas)+1, "framesInFlight", p.cfg.FramesInFlight)
		}
		a = &Arena{index: len(p.arenas)}
		p.arenas = append(p.arenas, a)
	}

	if err := p.ensureHeapsLocked(a, blocks); err != nil {
		return nil, err
	}
	a.leased = true
	return &Lease{pool: p, arena: a}, nil
}

// ensureHeapsLocked makes heap i of a at least blocks[i] bytes. Caller
// must hold mu.
func (p *Pool) ensureHeapsLocked(a *Arena, blocks []uint64) error {
	for i, size := range blocks {
		if i < len(a.heaps) && a.heaps[i] != nil && a.heaps[i].Size() >= size {
			continue
		}
		if i < len(a.heaps) && a.heaps[i] != nil {
			p.dev.DestroyHeap(a.heaps[i])
			a.heaps[i] = nil
		}
		h, err := p.dev.CreateHeap(size, fmt.Sprintf("arena%d/block%d", a.index, i))
		if err != nil {
			return fmt.Errorf("memory: create heap %d of arena %d: %w", i, a.index, err)
		}
		if i >= len(a.heaps) {
			a.heaps = append(a.heaps, make([]backend.Heap, i+1-len(a.heaps))...)
		}
		a.heaps[i] = h
		logging.Logger().Debug("memory: heap created", "arena", a.index, "block", i, "size", size)
	}
	return nil
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PoolStats{Arenas: len(p.arenas), Grown: p.grown}
	for _, a := range p.arenas {
		if a.leased {
			s.Leased++
		}
		s.HeapBytes += a.bytes()
	}
	return s
}

// Trim destroys the heaps of idle arenas beyond FramesInFlight.
func (p *Pool) Trim() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := p.cfg.FramesInFlight; i < len(p.arenas); i++ {
		a := p.arenas[i]
		if a.leased {
			continue
		}
		p.destroyHeapsLocked(a)
	}
}

// Close destroys every heap. Outstanding leases must be released first;
// heaps of arenas still leased are destroyed regardless.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, a := range p.arenas {
		p.destroyHeapsLocked(a)
	}
	p.arenas = nil
	p.closed = true
}

func (p *Pool) destroyHeapsLocked(a *Arena) {
	for i, h := range a.heaps {
		if h != nil {
			p.dev.DestroyHeap(h)
			a.heaps[i] = nil
		}
	}
	a.heaps = a.heaps[:0]
}
