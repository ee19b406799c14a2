package graph

import (
	"container/heap"
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/memory"
)

// compiler turns a builder's declarations into a Plan.
type compiler struct {
	b      *Builder
	nodes  []*resourceNode
	passes []*passNode

	succ    [][]int // all ordering edges, by declaration index
	pred    [][]int
	useful  [][]int // producer edges that carry data, for culling
	edgeSet map[[2]int]bool

	kept  []bool
	order []int // declaration indices in resolved order
	pos   []int // position of each declaration index, -1 when culled
	queue []backend.QueueType

	used  []bool
	first []int
	last  []int
	usage []backend.Usage
}

func newCompiler(b *Builder) *compiler {
	n := len(b.passes)
	return &compiler{
		b:       b,
		nodes:   b.resources,
		passes:  b.passes,
		succ:    make([][]int, n),
		pred:    make([][]int, n),
		useful:  make([][]int, n),
		edgeSet: make(map[[2]int]bool),
	}
}

func (c *compiler) compile() (*Plan, error) {
	if err := c.bind(); err != nil {
		return nil, err
	}
	order, err := c.sort()
	if err != nil {
		return nil, err
	}
	c.cull()
	for _, i := range order {
		if c.kept[i] {
			c.order = append(c.order, i)
		}
	}
	c.pos = make([]int, len(c.passes))
	for i := range c.pos {
		c.pos[i] = -1
	}
	c.queue = make([]backend.QueueType, len(c.passes))
	for p, i := range c.order {
		c.pos[i] = p
		c.queue[i] = c.passes[i].hint.queue(c.b.opts.caps)
	}

	dropped, err := c.lifetimes()
	if err != nil {
		return nil, err
	}

	plan := c.newPlan(dropped)
	c.planBarriers(plan)
	if err := c.allocate(plan); err != nil {
		return nil, err
	}
	c.aliasWaits(plan)
	c.formBatches(plan)
	if c.b.opts.validation {
		if err := plan.validate(); err != nil {
			return nil, err
		}
	}

	log := logging.Logger()
	log.Debug("graph: compiled",
		"build", c.b.build,
		"passes", len(plan.passes),
		"culled", len(plan.culled),
		"barriers", plan.BarrierCount(),
		"batches", len(plan.batches))
	return plan, nil
}

// addEdge records that pass from must run before pass to.
func (c *compiler) addEdge(from, to int, carriesData bool) {
	if carriesData {
		c.useful[to] = append(c.useful[to], from)
	}
	key := [2]int{from, to}
	if c.edgeSet[key] {
		return
	}
	c.edgeSet[key] = true
	c.succ[from] = append(c.succ[from], to)
	c.pred[to] = append(c.pred[to], from)
}

// bind walks passes in declaration order, binding every read to the most
// recent writer declared before the reader and deriving hazard edges.
func (c *compiler) bind() error {
	lastWriter := make([]int, len(c.nodes))
	for i := range lastWriter {
		lastWriter[i] = -1
	}
	readers := make([][]int, len(c.nodes))

	for _, p := range c.passes {
		for _, a := range p.accesses {
			r := a.res.index
			n := c.nodes[r]
			w := lastWriter[r]
			if a.mode.reads() {
				if w < 0 && !n.hasContents {
					return fmt.Errorf("%w: pass %q reads %s %q before any pass writes it",
						ErrReadBeforeWrite, p.name, n.kind, n.name)
				}
				if w >= 0 {
					c.addEdge(w, p.index, true) // read after write
				}
			}
			if a.mode.writes() {
				if w >= 0 {
					c.addEdge(w, p.index, false) // write after write
				}
				for _, rd := range readers[r] {
					if rd != p.index {
						c.addEdge(rd, p.index, false) // write after read
					}
				}
				lastWriter[r] = p.index
				readers[r] = nil
			}
			if a.mode == Read {
				readers[r] = append(readers[r], p.index)
			}
		}
	}

	for _, p := range c.passes {
		for _, dep := range p.dependsOn {
			h, ok := c.b.bb.passes[dep]
			if !ok {
				return fmt.Errorf("%w: pass %q depends on %q", ErrUnknownPass, p.name, dep)
			}
			c.addEdge(h.index, p.index, true)
		}
	}
	return nil
}

// indexHeap is a min-heap of declaration indices.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// sort returns a topological order of all passes. Among ready passes the
// one declared first runs first.
func (c *compiler) sort() ([]int, error) {
	indeg := make([]int, len(c.passes))
	for i := range c.passes {
		indeg[i] = len(c.pred[i])
	}
	ready := &indexHeap{}
	for i, d := range indeg {
		if d == 0 {
			*ready = append(*ready, i)
		}
	}
	heap.Init(ready)

	order := make([]int, 0, len(c.passes))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, s := range c.succ[i] {
			indeg[s]--
			if indeg[s] == 0 {
				heap.Push(ready, s)
			}
		}
	}
	if len(order) < len(c.passes) {
		return nil, c.cycle(indeg)
	}
	return order, nil
}

// cycle extracts one cycle among the passes left with a nonzero in-degree.
func (c *compiler) cycle(indeg []int) error {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(c.passes))
	var stack []int
	var found []int

	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = grey
		stack = append(stack, i)
		for _, s := range c.succ[i] {
			if indeg[s] == 0 {
				continue
			}
			if color[s] == grey {
				for k, v := range stack {
					if v == s {
						found = append(append([]int(nil), stack[k:]...), s)
						return true
					}
				}
			}
			if color[s] == white && visit(s) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return false
	}
	for i := range c.passes {
		if indeg[i] > 0 && color[i] == white && visit(i) {
			break
		}
	}

	names := make([]string, len(found))
	for k, i := range found {
		names[k] = c.passes[i].name
	}
	return &CycleError{Passes: names}
}

// cull marks the passes to keep. Without culling every pass is kept.
func (c *compiler) cull() {
	c.kept = make([]bool, len(c.passes))
	if !c.b.opts.culling {
		for i := range c.kept {
			c.kept[i] = true
		}
		return
	}

	var work []int
	for i, p := range c.passes {
		root := p.sideEffect
		for _, a := range p.accesses {
			if a.mode.writes() && c.nodes[a.res.index].residency != Transient {
				root = true
			}
		}
		if root {
			c.kept[i] = true
			work = append(work, i)
		}
	}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		for _, p := range c.useful[i] {
			if !c.kept[p] {
				c.kept[p] = true
				work = append(work, p)
			}
		}
	}
}

// lifetimes computes accumulated usage and the [first, last] interval of
// every resource touched by a kept pass, and handles unused resources.
func (c *compiler) lifetimes() ([]string, error) {
	c.used = make([]bool, len(c.nodes))
	c.first = make([]int, len(c.nodes))
	c.last = make([]int, len(c.nodes))
	c.usage = make([]backend.Usage, len(c.nodes))
	touched := make([]bool, len(c.nodes))
	for i := range c.nodes {
		c.first[i], c.last[i] = -1, -1
	}

	for _, p := range c.passes {
		for _, a := range p.accesses {
			touched[a.res.index] = true
		}
	}
	for p, i := range c.order {
		for _, a := range c.passes[i].accesses {
			r := a.res.index
			if !c.used[r] {
				c.used[r] = true
				c.first[r] = p
			}
			c.last[r] = p
			c.usage[r] |= a.usage
		}
	}

	var unused []string
	for r, n := range c.nodes {
		if c.used[r] || n.dead || n.retained {
			continue
		}
		if touched[r] {
			logging.Logger().Debug("graph: resource only used by culled passes", "resource", n.name)
			continue
		}
		unused = append(unused, n.name)
	}
	if len(unused) == 0 {
		return nil, nil
	}
	if c.b.opts.strict {
		return nil, fmt.Errorf("%w: %s", ErrUnusedResource, strings.Join(unused, ", "))
	}
	logging.Logger().Warn("graph: dropping unused resources", "resources", unused)
	return unused, nil
}

// allocate assigns aliased placements to transient resources.
func (c *compiler) allocate(plan *Plan) error {
	var reqs []memory.Request
	for r, n := range c.nodes {
		if !c.used[r] || n.residency != Transient {
			continue
		}
		info := c.allocationInfo(&plan.resources[r])
		reqs = append(reqs, memory.Request{
			ID:        r,
			Label:     n.name,
			Size:      info.Size,
			Alignment: info.Alignment,
			First:     c.first[r],
			Last:      c.last[r],
		})
	}

	a, err := memory.Allocate(c.b.opts.memory, reqs)
	if err != nil {
		return fmt.Errorf("graph: allocate transient memory: %w", err)
	}
	if c.b.opts.validation {
		if err := a.Verify(); err != nil {
			return err
		}
	}
	for i, req := range a.Requests {
		res := &plan.resources[req.ID]
		res.Placement = a.Placements[i]
		res.Placed = true
	}
	plan.memory = a
	return nil
}

// allocationInfo returns the heap footprint of a resource.
func (c *compiler) allocationInfo(res *ResourceInfo) backend.AllocationInfo {
	if p := c.b.opts.allocInfo; p != nil {
		if res.Kind == KindBuffer {
			return p.BufferAllocationInfo(res.Buffer)
		}
		return p.TextureAllocationInfo(res.Texture)
	}
	if res.Kind == KindBuffer {
		return backend.AllocationInfo{Size: backend.AlignUp(res.Buffer.Size, backend.BufferAlignment), Alignment: backend.BufferAlignment}
	}
	return backend.AllocationInfo{Size: backend.AlignUp(res.Texture.ByteSize(), backend.TextureAlignment), Alignment: backend.TextureAlignment}
}

// IsCycle reports whether err is a dependency cycle and returns the chain.
func IsCycle(err error) ([]string, bool) {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Passes, true
	}
	return nil, false
}
