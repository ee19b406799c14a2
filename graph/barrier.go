package graph

import (
	"slices"

	"github.com/gogpu/framegraph/backend"
)

// Barrier is a planned synchronization instruction on one resource.
type Barrier struct {
	Kind     backend.BarrierKind
	Resource int
	Before   backend.Usage
	After    backend.Usage
	SrcQueue backend.QueueType
	DstQueue backend.QueueType

	// Transfer pairs a release with its acquire. Zero for other kinds.
	Transfer int
}

// resourceState is the resolver's view of a resource between passes.
type resourceState struct {
	valid   bool
	queue   backend.QueueType
	usage   backend.Usage
	pos     int
	written bool
}

// planBarriers walks passes in resolved order with a per-resource state
// table. A barrier is planned only where an access needs a different usage
// or queue than the recorded state, so N readers sharing a state cost one
// barrier. The first use of memory with undefined contents is an
// activation, not a barrier.
func (c *compiler) planBarriers(plan *Plan) {
	state := make([]resourceState, len(c.nodes))
	for r, n := range c.nodes {
		if n.hasContents {
			state[r] = resourceState{valid: true, queue: n.initialQueue, usage: n.initial, pos: -1}
		}
	}

	transfer := 0
	waits := make([]map[int]bool, len(plan.passes))
	for p := range waits {
		waits[p] = make(map[int]bool)
	}

	for p, i := range c.order {
		q := c.queue[i]
		sp := &plan.passes[p]
		for _, a := range c.passes[i].accesses {
			r := a.res.index
			st := &state[r]
			b := Barrier{Resource: r, Before: st.usage, After: a.usage, SrcQueue: st.queue, DstQueue: q}
			switch {
			case !st.valid:
				b.Kind, b.Before, b.SrcQueue = backend.BarrierActivate, backend.UsageNone, q
				sp.Before = append(sp.Before, b)
			case st.queue != q:
				transfer++
				b.Transfer = transfer
				rel, acq := b, b
				rel.Kind, acq.Kind = backend.BarrierRelease, backend.BarrierAcquire
				if st.pos >= 0 {
					plan.passes[st.pos].After = append(plan.passes[st.pos].After, rel)
					waits[p][st.pos] = true
				} else {
					plan.prologue[st.queue] = append(plan.prologue[st.queue], rel)
					sp.prologueWaits = appendQueue(sp.prologueWaits, st.queue)
				}
				sp.Before = append(sp.Before, acq)
			case st.usage != a.usage:
				b.Kind = backend.BarrierTransition
				sp.Before = append(sp.Before, b)
			case st.written || a.mode.writes():
				b.Kind = backend.BarrierOrdering
				sp.Before = append(sp.Before, b)
			}
			*st = resourceState{valid: true, queue: q, usage: a.usage, pos: p, written: a.mode.writes()}
		}
	}

	// Data and explicit edges between queues need a queue wait even when
	// no resource changes hands.
	for p, i := range c.order {
		for _, from := range c.pred[i] {
			if fp := c.pos[from]; fp >= 0 && c.queue[from] != c.queue[i] {
				waits[p][fp] = true
			}
		}
	}

	if bb := plan.backbuffer; bb >= 0 && c.used[bb] {
		st := &state[bb]
		b := Barrier{Resource: bb, Before: st.usage, After: backend.UsagePresent, SrcQueue: st.queue, DstQueue: backend.QueueGraphics}
		if st.queue == backend.QueueGraphics {
			b.Kind = backend.BarrierTransition
			plan.passes[st.pos].After = append(plan.passes[st.pos].After, b)
		} else {
			transfer++
			b.Transfer = transfer
			rel, acq := b, b
			rel.Kind, acq.Kind = backend.BarrierRelease, backend.BarrierAcquire
			plan.passes[st.pos].After = append(plan.passes[st.pos].After, rel)
			plan.epilogue = append(plan.epilogue, acq)
			plan.epilogueWait = st.pos
		}
		st.queue, st.usage = backend.QueueGraphics, backend.UsagePresent
	}

	for p := range plan.passes {
		for w := range waits[p] {
			plan.passes[p].Waits = append(plan.passes[p].Waits, w)
		}
		slices.Sort(plan.passes[p].Waits)
	}
	for r := range plan.resources {
		if c.used[r] {
			plan.resources[r].Final = state[r].usage
			plan.resources[r].FinalQueue = state[r].queue
		}
	}
}

// aliasWaits orders transient resources that share bytes across queues.
// When the first pass of a resource runs on another queue than the last
// pass of an earlier resource placed in the same bytes, it waits on that
// pass. Same-queue reuse is ordered by submission and its activation.
func (c *compiler) aliasWaits(plan *Plan) {
	a := plan.memory
	if a == nil {
		return
	}
	for i := range a.Requests {
		for j := range a.Requests {
			prev, next := a.Requests[i], a.Requests[j]
			if i == j || prev.Last >= next.First || !a.Placements[i].Overlaps(a.Placements[j]) {
				continue
			}
			from, to := &plan.passes[prev.Last], &plan.passes[next.First]
			if from.Queue == to.Queue || slices.Contains(to.Waits, prev.Last) {
				continue
			}
			to.Waits = append(to.Waits, prev.Last)
			slices.Sort(to.Waits)
		}
	}
}

// formBatches splits each queue's passes into submission batches. A batch
// ends after a pass another queue waits on and a new batch starts at a
// pass that waits, so every wait refers to an earlier batch. Batches are
// created in resolved order, which is a valid submission order whether
// queues run in parallel or are serialized.
func (c *compiler) formBatches(plan *Plan) {
	signals := make([]bool, len(plan.passes))
	for _, sp := range plan.passes {
		for _, w := range sp.Waits {
			signals[w] = true
		}
	}
	if plan.epilogueWait >= 0 {
		signals[plan.epilogueWait] = true
	}

	var prologueBatch [backend.NumQueueTypes]int
	for q := range prologueBatch {
		prologueBatch[q] = -1
		if len(plan.prologue[q]) > 0 {
			prologueBatch[q] = len(plan.batches)
			plan.batches = append(plan.batches, Batch{Queue: backend.QueueType(q), Barriers: plan.prologue[q]})
		}
	}

	var open [backend.NumQueueTypes]int
	for q := range open {
		open[q] = -1
	}
	for p := range plan.passes {
		sp := &plan.passes[p]
		q := sp.Queue
		if open[q] < 0 || len(sp.Waits) > 0 || len(sp.prologueWaits) > 0 {
			open[q] = len(plan.batches)
			plan.batches = append(plan.batches, Batch{Queue: q})
		}
		bi := open[q]
		sp.Batch = bi
		plan.batches[bi].Passes = append(plan.batches[bi].Passes, p)
		for _, w := range sp.Waits {
			plan.batches[bi].addWait(plan.passes[w].Batch)
			plan.batches[plan.passes[w].Batch].Signal = true
		}
		for _, wq := range sp.prologueWaits {
			plan.batches[bi].addWait(prologueBatch[wq])
			plan.batches[prologueBatch[wq]].Signal = true
		}
		if signals[p] {
			open[q] = -1
		}
	}

	if len(plan.epilogue) > 0 {
		src := plan.passes[plan.epilogueWait].Batch
		plan.batches[src].Signal = true
		plan.batches = append(plan.batches, Batch{
			Queue:    backend.QueueGraphics,
			Barriers: plan.epilogue,
			Waits:    []int{src},
		})
	}
}

// addWait adds a batch dependency once.
func (b *Batch) addWait(batch int) {
	for _, w := range b.Waits {
		if w == batch {
			return
		}
	}
	b.Waits = append(b.Waits, batch)
}

func appendQueue(qs []backend.QueueType, q backend.QueueType) []backend.QueueType {
	for _, have := range qs {
		if have == q {
			return qs
		}
	}
	return append(qs, q)
}
