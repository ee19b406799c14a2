package graph

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/memory"
)

// ScheduledPass is a pass in resolved order with its queue, barriers and
// cross-queue waits.
type ScheduledPass struct {
	Name       string
	Index      int // declaration index
	Position   int // resolved position
	Hint       QueueHint
	Queue      backend.QueueType
	SideEffect bool
	Accesses   []Access

	// Before is recorded ahead of the pass: activations, acquires,
	// transitions and ordering barriers.
	Before []Barrier

	// After is recorded behind the pass: releases to other queues and the
	// final transition of the backbuffer.
	After []Barrier

	// Waits lists positions of passes on other queues that must complete
	// before this pass starts.
	Waits []int

	// Batch is the index of the submission batch holding the pass.
	Batch int

	fn            PassFunc
	prologueWaits []backend.QueueType
}

// BarrierCount returns the number of barriers around the pass, not counting
// activations.
func (p *ScheduledPass) BarrierCount() int {
	n := 0
	for _, b := range p.Before {
		if b.Kind != backend.BarrierActivate {
			n++
		}
	}
	return n + len(p.After)
}

// Batch is a run of consecutive passes on one queue submitted together.
type Batch struct {
	Queue backend.QueueType

	// Passes are positions in resolved order.
	Passes []int

	// Barriers are recorded before the first pass. Only prologue and
	// epilogue batches, which hold no passes, carry them.
	Barriers []Barrier

	// Waits are indices of earlier batches on other queues.
	Waits []int

	// Signal is set when a later batch waits on this one.
	Signal bool
}

// ResourceInfo describes one resource of a plan.
type ResourceInfo struct {
	Name      string
	Kind      ResourceKind
	Residency Residency

	// Texture or Buffer holds the descriptor with Usage set to every usage
	// any kept pass needs.
	Texture backend.TextureDesc
	Buffer  backend.BufferDesc

	// Used is false for resources no kept pass touches.
	Used bool

	// First and Last bound the lifetime in resolved positions; -1 when unused.
	First int
	Last  int

	// Initial and InitialQueue are the state on entry; UsageNone for
	// undefined contents.
	Initial      backend.Usage
	InitialQueue backend.QueueType

	// Final and FinalQueue are the state the frame leaves behind.
	Final      backend.Usage
	FinalQueue backend.QueueType

	// Placement is the aliased arena range of a transient resource.
	Placement memory.Placement
	Placed    bool

	ImportedTexture backend.Texture
	ImportedBuffer  backend.Buffer
	Export          *Export
}

const (
	planReady uint32 = iota
	planExecuted
	planDiscarded
)

// Plan is the immutable result of compiling one frame.
type Plan struct {
	graph      *Graph
	build      uint64
	generation uint64

	passes    []ScheduledPass
	resources []ResourceInfo
	batches   []Batch
	culled    []string
	dropped   []string
	memory    *memory.Assignment

	backbuffer   int
	prologue     [backend.NumQueueTypes][]Barrier
	epilogue     []Barrier
	epilogueWait int

	state atomic.Uint32
}

// newPlan creates the plan skeleton from resolved passes and lifetimes.
func (c *compiler) newPlan(dropped []string) *Plan {
	plan := &Plan{
		graph:        c.b.graph,
		build:        c.b.build,
		generation:   c.b.generation,
		dropped:      dropped,
		backbuffer:   c.b.backbuffer - 1,
		epilogueWait: -1,
		memory:       &memory.Assignment{},
	}

	for i, p := range c.passes {
		if !c.kept[i] {
			plan.culled = append(plan.culled, p.name)
		}
	}
	plan.passes = make([]ScheduledPass, len(c.order))
	for pos, i := range c.order {
		p := c.passes[i]
		plan.passes[pos] = ScheduledPass{
			Name:       p.name,
			Index:      p.index,
			Position:   pos,
			Hint:       p.hint,
			Queue:      c.queue[i],
			SideEffect: p.sideEffect,
			Accesses:   p.accesses,
			fn:         p.fn,
		}
	}

	plan.resources = make([]ResourceInfo, len(c.nodes))
	for r, n := range c.nodes {
		res := ResourceInfo{
			Name:            n.name,
			Kind:            n.kind,
			Residency:       n.residency,
			Texture:         n.texture,
			Buffer:          n.buffer,
			Used:            c.used[r],
			First:           c.first[r],
			Last:            c.last[r],
			Initial:         n.initial,
			InitialQueue:    n.initialQueue,
			Final:           n.initial,
			FinalQueue:      n.initialQueue,
			ImportedTexture: n.importedTexture,
			ImportedBuffer:  n.importedBuffer,
			Export:          n.export,
		}
		if n.kind == KindBuffer {
			res.Buffer.Usage |= c.usage[r]
		} else {
			res.Texture.Usage |= c.usage[r]
		}
		plan.resources[r] = res
	}
	return plan
}

// Graph returns the graph the plan was compiled from.
func (p *Plan) Graph() *Graph { return p.graph }

// Build returns the build number of the plan.
func (p *Plan) Build() uint64 { return p.build }

// Stale reports whether the graph was invalidated after compilation.
func (p *Plan) Stale() bool { return p.generation != p.graph.Generation() }

// Order returns the pass names in resolved order.
func (p *Plan) Order() []string {
	names := make([]string, len(p.passes))
	for i := range p.passes {
		names[i] = p.passes[i].Name
	}
	return names
}

// Passes returns the scheduled passes in resolved order. The slice must
// not be modified.
func (p *Plan) Passes() []ScheduledPass { return p.passes }

// Pass returns the scheduled pass with the given name.
func (p *Plan) Pass(name string) (*ScheduledPass, bool) {
	for i := range p.passes {
		if p.passes[i].Name == name {
			return &p.passes[i], true
		}
	}
	return nil, false
}

// Resources returns every declared resource, indexed by handle index. The
// slice must not be modified.
func (p *Plan) Resources() []ResourceInfo { return p.resources }

// Batches returns the submission batches in submission order.
func (p *Plan) Batches() []Batch { return p.batches }

// Culled returns the names of culled passes in declaration order.
func (p *Plan) Culled() []string { return p.culled }

// Dropped returns the names of unused resources dropped in permissive mode.
func (p *Plan) Dropped() []string { return p.dropped }

// Memory returns the transient memory assignment.
func (p *Plan) Memory() *memory.Assignment { return p.memory }

// Backbuffer returns the resource index of the backbuffer.
func (p *Plan) Backbuffer() (int, bool) {
	if p.backbuffer < 0 || !p.resources[p.backbuffer].Used {
		return 0, false
	}
	return p.backbuffer, true
}

// BarrierCount returns the number of planned barriers, not counting
// activations. A release/acquire pair counts twice.
func (p *Plan) BarrierCount() int {
	n := 0
	for i := range p.passes {
		n += p.passes[i].BarrierCount()
	}
	for _, b := range p.batches {
		n += len(b.Barriers)
	}
	return n
}

// TextureIndex returns the resource index of h, checking that h belongs to
// the plan's build.
func (p *Plan) TextureIndex(h TextureHandle) (int, error) {
	return p.index(h.r, KindTexture)
}

// BufferIndex returns the resource index of h, checking that h belongs to
// the plan's build.
func (p *Plan) BufferIndex(h BufferHandle) (int, error) {
	return p.index(h.r, KindBuffer)
}

func (p *Plan) index(r ref, kind ResourceKind) (int, error) {
	if r.build != p.build || r.index < 0 || r.index >= len(p.resources) || p.resources[r.index].Kind != kind {
		return 0, fmt.Errorf("%w: %s handle not from build %d", ErrInvalidHandle, kind, p.build)
	}
	return r.index, nil
}

// Run invokes the callback of the pass at position pos.
func (p *Plan) Run(pos int, ctx PassContext) error {
	fn := p.passes[pos].fn
	if fn == nil {
		return nil
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("graph: pass %q: %w", p.passes[pos].Name, err)
	}
	return nil
}

// Acquire marks the plan as executing. A plan executes at most once and
// never after Graph.Invalidate.
func (p *Plan) Acquire() error {
	if p.Stale() {
		return ErrPlanInvalidated
	}
	if !p.state.CompareAndSwap(planReady, planExecuted) {
		if p.state.Load() == planDiscarded {
			return ErrPlanDiscarded
		}
		return ErrPlanExecuted
	}
	return nil
}

// Discard abandons the plan. Discarding an executed plan has no effect.
func (p *Plan) Discard() {
	p.state.CompareAndSwap(planReady, planDiscarded)
}

// Commit records the final state of exported resources. The executor calls
// it once the frame has been submitted.
func (p *Plan) Commit() {
	written := make([]bool, len(p.resources))
	for i := range p.passes {
		for _, a := range p.passes[i].Accesses {
			if a.mode.writes() {
				written[a.res.index] = true
			}
		}
	}
	for r, res := range p.resources {
		if res.Export != nil && res.Used {
			res.Export.commit(res.Final, res.FinalQueue, written[r])
		}
	}
}

// validate checks structural invariants of the plan.
func (p *Plan) validate() error {
	lastWrite := make([]int, len(p.resources))
	for i := range lastWrite {
		lastWrite[i] = -1
	}
	for pos := range p.passes {
		sp := &p.passes[pos]
		for _, a := range sp.Accesses {
			r := a.res.index
			res := p.resources[r]
			if a.mode.reads() && lastWrite[r] < 0 && (res.Residency == Transient || res.Residency == Backbuffer) {
				return fmt.Errorf("%w: %q read at %d without a preceding write", ErrInvalidPlan, res.Name, pos)
			}
			if a.mode.writes() {
				lastWrite[r] = pos
			}
			if pos < res.First || pos > res.Last {
				return fmt.Errorf("%w: %q accessed at %d outside lifetime [%d,%d]", ErrInvalidPlan, res.Name, pos, res.First, res.Last)
			}
		}
		for _, w := range sp.Waits {
			if w >= pos || p.passes[w].Queue == sp.Queue {
				return fmt.Errorf("%w: pass %q waits on %d", ErrInvalidPlan, sp.Name, w)
			}
		}
	}
	if a := p.memory; a != nil {
		for i, prev := range a.Requests {
			for j, next := range a.Requests {
				if prev.Last >= next.First || !a.Placements[i].Overlaps(a.Placements[j]) {
					continue
				}
				if to := &p.passes[next.First]; to.Queue != p.passes[prev.Last].Queue && !slices.Contains(to.Waits, prev.Last) {
					return fmt.Errorf("%w: %q on %s reuses the memory of %q without waiting on %s",
						ErrInvalidPlan, next.Label, to.Queue, prev.Label, p.passes[prev.Last].Queue)
				}
			}
		}
	}
	for i, b := range p.batches {
		for _, w := range b.Waits {
			if w >= i {
				return fmt.Errorf("%w: batch %d waits on later batch %d", ErrInvalidPlan, i, w)
			}
		}
	}
	return nil
}

// String returns a readable dump of the plan.
func (p *Plan) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "plan build=%d passes=%d batches=%d barriers=%d\n",
		p.build, len(p.passes), len(p.batches), p.BarrierCount())
	writeBarriers := func(label string, bs []Barrier) {
		for _, b := range bs {
			fmt.Fprintf(&sb, "      %s %s %q %s -> %s", label, b.Kind, p.resources[b.Resource].Name, b.Before, b.After)
			if b.SrcQueue != b.DstQueue {
				fmt.Fprintf(&sb, " (%s -> %s #%d)", b.SrcQueue, b.DstQueue, b.Transfer)
			}
			sb.WriteByte('\n')
		}
	}
	for i, b := range p.batches {
		fmt.Fprintf(&sb, "  batch %d %s waits=%v signal=%v\n", i, b.Queue, b.Waits, b.Signal)
		writeBarriers("batch", b.Barriers)
		for _, pos := range b.Passes {
			sp := &p.passes[pos]
			fmt.Fprintf(&sb, "    [%d] %s\n", pos, sp.Name)
			writeBarriers("before", sp.Before)
			writeBarriers("after", sp.After)
		}
	}
	sb.WriteString("resources:\n")
	for _, r := range p.resources {
		if !r.Used {
			continue
		}
		fmt.Fprintf(&sb, "  %-16s %s %s [%d,%d] final=%s", r.Name, r.Kind, r.Residency, r.First, r.Last, r.Final)
		if r.Placed {
			fmt.Fprintf(&sb, " block=%d offset=%d size=%d", r.Placement.Block, r.Placement.Offset, r.Placement.Size)
		}
		sb.WriteByte('\n')
	}
	if len(p.culled) > 0 {
		fmt.Fprintf(&sb, "culled: %s\n", strings.Join(p.culled, ", "))
	}
	if len(p.dropped) > 0 {
		fmt.Fprintf(&sb, "dropped: %s\n", strings.Join(p.dropped, ", "))
	}
	fmt.Fprintf(&sb, "memory: %s\n", p.memory.Stats)
	return sb.String()
}
