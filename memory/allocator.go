package memory

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/internal/logging"
)

// Request asks for memory for one resource alive over the inclusive pass
// interval [First, Last].
type Request struct {
	ID        int
	Label     string
	Size      uint64
	Alignment uint64
	First     int
	Last      int
}

// Overlaps reports whether the lifetimes of r and o intersect.
func (r Request) Overlaps(o Request) bool {
	return r.First <= o.Last && o.First <= r.Last
}

// Placement is the byte range a request was assigned.
type Placement struct {
	Block  int
	Offset uint64
	Size   uint64
}

// Overlaps reports whether p and o share bytes.
func (p Placement) Overlaps(o Placement) bool {
	return p.Block == o.Block && p.Offset < o.Offset+o.Size && o.Offset < p.Offset+p.Size
}

// Assignment is the result of Allocate.
type Assignment struct {
	// Requests are the inputs, in input order.
	Requests []Request

	// Placements[i] is the placement of Requests[i].
	Placements []Placement

	// Blocks holds the size of every arena block used.
	Blocks []uint64

	Stats Stats
}

// Verify checks every pair of placements: requests sharing bytes must have
// disjoint lifetimes.
func (a *Assignment) Verify() error {
	for i := range a.Placements {
		for j := i + 1; j < len(a.Placements); j++ {
			if !a.Placements[i].Overlaps(a.Placements[j]) {
				continue
			}
			ri, rj := a.Requests[i], a.Requests[j]
			if ri.Overlaps(rj) {
				return fmt.Errorf("%w: %q [%d,%d] and %q [%d,%d] share block %d",
					ErrAliasingViolation, ri.Label, ri.First, ri.Last, rj.Label, rj.First, rj.Last, a.Placements[i].Block)
			}
		}
	}
	return nil
}

// freeRange is a range of a block that no live resource occupies.
type freeRange struct {
	block  int
	offset uint64
	size   uint64
}

func (r freeRange) end() uint64 { return r.offset + r.size }

// blockState tracks the bump pointer of one block.
type blockState struct {
	size uint64
	top  uint64
	high uint64
}

// liveRange is a placed request whose lifetime has not yet ended.
type liveRange struct {
	last int
	r    freeRange
}

// allocator is the state of one Allocate call.
type allocator struct {
	cfg     Config
	blocks  []blockState
	buckets [65][]freeRange
	live    []liveRange
	inUse   uint64
	stats   Stats
}

// sizeClass returns the free-list bucket for size: ranges in bucket c
// have sizes in [2^(c-1), 2^c).
func sizeClass(size uint64) int { return bits.Len64(size) }

// Allocate assigns a placement to every request. Requests are processed in
// order of lifetime start (ties keep input order). A request first reuses
// a free range left by a resource whose lifetime ended, choosing the
// smallest fitting range in its size class and otherwise the first fitting
// range of a larger class; failing that, it is bumped onto the end of a
// block, and a new block is opened when no block has room.
func Allocate(cfg Config, reqs []Request) (*Assignment, error) {
	cfg = cfg.withDefaults()
	for _, r := range reqs {
		if r.Size == 0 || r.First < 0 || r.First > r.Last {
			return nil, fmt.Errorf("%w: %q size %d lifetime [%d,%d]", ErrInvalidRequest, r.Label, r.Size, r.First, r.Last)
		}
		if r.Alignment&(r.Alignment-1) != 0 {
			return nil, fmt.Errorf("%w: %q alignment %d is not a power of two", ErrInvalidRequest, r.Label, r.Alignment)
		}
	}

	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return reqs[order[a]].First < reqs[order[b]].First })

	al := &allocator{cfg: cfg}
	out := &Assignment{
		Requests:   append([]Request(nil), reqs...),
		Placements: make([]Placement, len(reqs)),
	}
	for _, i := range order {
		r := reqs[i]
		al.retire(r.First)

		align := max(r.Alignment, 1)
		size := backend.AlignUp(r.Size, align)
		p, reused, ok := al.takeFree(size, align)
		if !ok {
			var err error
			if p, reused, err = al.bump(size, align, r.Label); err != nil {
				return nil, err
			}
		}
		out.Placements[i] = p
		al.live = append(al.live, liveRange{last: r.Last, r: freeRange{block: p.Block, offset: p.Offset, size: p.Size}})
		al.inUse += size
		al.stats.PeakBytes = max(al.stats.PeakBytes, al.inUse)
		al.stats.RequestedBytes += size
		if reused {
			al.stats.Reused++
		}
	}

	out.Blocks = make([]uint64, len(al.blocks))
	for i, b := range al.blocks {
		out.Blocks[i] = b.size
		al.stats.ReservedBytes += b.size
		al.stats.UsedBytes += b.high
	}
	al.stats.Resources = len(reqs)
	al.stats.Blocks = len(al.blocks)
	out.Stats = al.stats
	return out, nil
}

// retire frees the ranges of every live resource whose lifetime ended
// before pass position first.
func (al *allocator) retire(first int) {
	kept := al.live[:0]
	for _, l := range al.live {
		if l.last < first {
			al.inUse -= l.r.size
			al.release(l.r)
			continue
		}
		kept = append(kept, l)
	}
	al.live = kept
}

// release returns r to the free list, merging it with adjacent free ranges
// and lowering the block's bump pointer when r ends at it.
func (al *allocator) release(r freeRange) {
	for merged := true; merged; {
		merged = false
		for c := range al.buckets {
			for k, n := range al.buckets[c] {
				if n.block != r.block || (n.end() != r.offset && r.end() != n.offset) {
					continue
				}
				al.removeFree(c, k)
				r.offset = min(r.offset, n.offset)
				r.size += n.size
				merged = true
				break
			}
			if merged {
				break
			}
		}
	}
	b := &al.blocks[r.block]
	if r.end() == b.top {
		b.top = r.offset
		return
	}
	c := sizeClass(r.size)
	al.buckets[c] = append(al.buckets[c], r)
}

func (al *allocator) removeFree(class, k int) {
	al.buckets[class] = append(al.buckets[class][:k], al.buckets[class][k+1:]...)
}

// fits returns the aligned start of size bytes inside r.
func fits(r freeRange, size, align uint64) (uint64, bool) {
	start := backend.AlignUp(r.offset, align)
	return start, start+size <= r.end()
}

// takeFree places size bytes into the free list. Best-fit within the
// request's own size class, then first-fit in larger classes.
func (al *allocator) takeFree(size, align uint64) (Placement, bool, bool) {
	c := sizeClass(size)
	best := -1
	for k, r := range al.buckets[c] {
		if _, ok := fits(r, size, align); !ok {
			continue
		}
		if best < 0 || r.size < al.buckets[c][best].size {
			best = k
		}
	}
	if best >= 0 {
		return al.split(c, best, size, align), true, true
	}
	for cc := c + 1; cc < len(al.buckets); cc++ {
		for k, r := range al.buckets[cc] {
			if _, ok := fits(r, size, align); ok {
				return al.split(cc, k, size, align), true, true
			}
		}
	}
	return Placement{}, false, false
}

// split takes size bytes out of free range k of class c and returns the
// leftovers on both sides to the free list.
func (al *allocator) split(c, k int, size, align uint64) Placement {
	r := al.buckets[c][k]
	al.removeFree(c, k)
	start, _ := fits(r, size, align)
	if start > r.offset {
		head := freeRange{block: r.block, offset: r.offset, size: start - r.offset}
		al.buckets[sizeClass(head.size)] = append(al.buckets[sizeClass(head.size)], head)
	}
	if tail := r.end() - (start + size); tail > 0 {
		t := freeRange{block: r.block, offset: start + size, size: tail}
		al.buckets[sizeClass(tail)] = append(al.buckets[sizeClass(tail)], t)
	}
	return Placement{Block: r.block, Offset: start, Size: size}
}

// bump places size bytes at the top of the first block with room, opening
// a new block when none has room. The placement counts as reused when it
// lies below the block's high-water mark.
func (al *allocator) bump(size, align uint64, label string) (Placement, bool, error) {
	for i := range al.blocks {
		b := &al.blocks[i]
		start := backend.AlignUp(b.top, align)
		if start+size > b.size {
			continue
		}
		if start > b.top {
			pad := freeRange{block: i, offset: b.top, size: start - b.top}
			al.buckets[sizeClass(pad.size)] = append(al.buckets[sizeClass(pad.size)], pad)
		}
		reused := start < b.high
		b.top = start + size
		b.high = max(b.high, b.top)
		return Placement{Block: i, Offset: start, Size: size}, reused, nil
	}

	if len(al.blocks) >= al.cfg.MaxBlocks {
		if al.cfg.Policy == PolicyFail {
			return Placement{}, false, fmt.Errorf("%w: %q needs %d bytes, %d blocks of %d bytes in use",
				ErrArenaExhausted, label, size, len(al.blocks), al.cfg.BlockSize)
		}
		al.stats.OverBudget++
		logging.Logger().Warn("memory: arena growth budget exceeded",
			"resource", label, "size", size, "blocks", len(al.blocks)+1, "budget", al.cfg.MaxBlocks)
	}
	bsize := max(al.cfg.BlockSize, size)
	al.blocks = append(al.blocks, blockState{size: bsize, top: size, high: size})
	return Placement{Block: len(al.blocks) - 1, Offset: 0, Size: size}, false, nil
}
