package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/memory"
)

// DefaultPollInterval is the Drain polling period.
const DefaultPollInterval = 200 * time.Microsecond

type options struct {
	serial       bool
	pool         *memory.Pool
	pollInterval time.Duration
}

// Option configures an Executor.
type Option func(*options)

// WithSerialRecording records queues one after another on the calling
// goroutine instead of concurrently.
func WithSerialRecording() Option {
	return func(o *options) {
		o.serial = true
	}
}

// WithPool makes the executor lease arenas from pool instead of creating
// its own. The executor does not close a pool it did not create.
func WithPool(pool *memory.Pool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// WithPollInterval sets the Drain polling period.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// Stats contains executor statistics.
type Stats struct {
	// Frames is the number of frames submitted.
	Frames uint64

	// InFlight is the number of frames not yet retired.
	InFlight int

	// Pool is the arena pool state.
	Pool memory.PoolStats
}

// String returns a human-readable string of executor stats.
func (s Stats) String() string {
	return fmt.Sprintf("Executor[%d frames, %d in flight, %s]", s.Frames, s.InFlight, s.Pool)
}

// Executor executes plans of one graph on one device.
//
// Executor is safe for concurrent use, but pass callbacks run while
// Execute holds the executor and must not call back into it.
type Executor struct {
	mu sync.Mutex

	dev     backend.Device
	graph   *graph.Graph
	caps    backend.Capabilities
	queues  [backend.NumQueueTypes]backend.Queue
	pool    *memory.Pool
	ownPool bool
	opts    options

	frames []*Frame
	graves []graveyard
	last   [backend.NumQueueTypes]backend.Token
	count  uint64
	closed bool
}

// New creates an executor for plans compiled by g.
func New(dev backend.Device, g *graph.Graph, opts ...Option) (*Executor, error) {
	o := options{pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Executor{dev: dev, graph: g, caps: dev.Capabilities(), opts: o}
	if !e.caps.HasQueue(backend.QueueGraphics) {
		return nil, fmt.Errorf("%w: device has no graphics queue", backend.ErrUnsupported)
	}
	for q := range e.queues {
		if !e.caps.HasQueue(backend.QueueType(q)) {
			continue
		}
		queue, err := dev.Queue(backend.QueueType(q))
		if err != nil {
			return nil, fmt.Errorf("executor: %s queue: %w", backend.QueueType(q), err)
		}
		e.queues[q] = queue
	}

	e.pool = o.pool
	if e.pool == nil {
		e.pool = memory.NewPool(dev, g.MemoryConfig())
		e.ownPool = true
	}
	return e, nil
}

// Graph returns the graph whose plans the executor runs.
func (e *Executor) Graph() *graph.Graph { return e.graph }

// Device returns the device.
func (e *Executor) Device() backend.Device { return e.dev }

// Execute runs plan. On success the frame is in flight; call Poll to
// retire it. Errors before submission abandon the frame without touching
// the device queues. Fatal device and surface errors invalidate the
// graph so the next frame is rebuilt.
//
// A present failure after successful submission returns both the frame
// and the error.
func (e *Executor) Execute(ctx context.Context, plan *graph.Plan) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if plan.Graph() != e.graph {
		return nil, ErrForeignPlan
	}
	e.pollLocked()
	if err := plan.Acquire(); err != nil {
		return nil, err
	}

	e.count++
	f := &Frame{number: e.count, plan: plan}
	if err := e.prepare(f); err != nil {
		e.abandon(f)
		return nil, e.fail(err)
	}
	if err := e.record(ctx, f); err != nil {
		e.abandon(f)
		return nil, e.fail(err)
	}
	if n, err := e.submit(f); err != nil {
		e.abandonUnsubmitted(f, n)
		return nil, e.fail(fmt.Errorf("executor: submit batch %d: %w", n, err))
	}

	presentErr := e.present(f)
	plan.Commit()
	e.frames = append(e.frames, f)
	if texs, bufs := e.graph.TakeRetired(); len(texs)+len(bufs) > 0 {
		e.graves = append(e.graves, graveyard{tokens: e.last, textures: texs, buffers: bufs})
	}

	logging.Logger().Debug("executor: frame submitted",
		"frame", f.number, "batches", len(plan.Batches()), "passes", len(plan.Passes()),
		"tokens", f.Tokens(), "inFlight", len(e.frames))
	return f, presentErr
}

// prepare binds every used plan resource to a physical one.
func (e *Executor) prepare(f *Frame) error {
	plan := f.plan
	res := plan.Resources()
	f.phys = make([]physical, len(res))

	for _, sp := range plan.Passes() {
		if e.queues[sp.Queue] == nil {
			return fmt.Errorf("%w: pass %q needs a %s queue", backend.ErrUnsupported, sp.Name, sp.Queue)
		}
	}

	if idx, ok := plan.Backbuffer(); ok && res[idx].Used {
		sc := e.dev.Swapchain()
		if sc == nil {
			return ErrNoSwapchain
		}
		img, err := sc.Acquire()
		if err != nil {
			return fmt.Errorf("executor: acquire swapchain image: %w", err)
		}
		f.image = img
		f.phys[idx].texture = img.Texture()
	}

	if a := plan.Memory(); a != nil && len(a.Blocks) > 0 && e.caps.PlacedResources {
		if limit := e.caps.MaxHeapSize; limit > 0 {
			for i, size := range a.Blocks {
				if size > limit {
					return fmt.Errorf("%w: arena block %d needs %d bytes, heap limit %d",
						backend.ErrOutOfDeviceMemory, i, size, limit)
				}
			}
		}
		lease, err := e.pool.Acquire(a.Blocks)
		if err != nil {
			return err
		}
		f.lease = lease
	}

	for i := range res {
		r := &res[i]
		if !r.Used {
			continue
		}
		var err error
		switch r.Residency {
		case graph.Transient:
			err = e.createTransient(f, r, &f.phys[i])
		case graph.Imported:
			f.phys[i] = physical{texture: r.ImportedTexture, buffer: r.ImportedBuffer}
		case graph.Exported:
			err = e.bindExport(r, &f.phys[i])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) createTransient(f *Frame, r *graph.ResourceInfo, p *physical) error {
	var placement *backend.Placement
	if r.Placed && f.lease != nil {
		placement = &backend.Placement{Heap: f.lease.Arena().Heap(r.Placement.Block), Offset: r.Placement.Offset}
	}
	if r.Kind == graph.KindBuffer {
		b, err := e.dev.CreateBuffer(r.Buffer, placement)
		if err != nil {
			return fmt.Errorf("executor: create buffer %q: %w", r.Name, err)
		}
		f.buffers = append(f.buffers, b)
		p.buffer = b
		return nil
	}
	t, err := e.dev.CreateTexture(r.Texture, placement)
	if err != nil {
		return fmt.Errorf("executor: create texture %q: %w", r.Name, err)
	}
	f.textures = append(f.textures, t)
	p.texture = t
	return nil
}

// bindExport returns the dedicated allocation of an export, creating it on
// first use. An allocation lacking a usage the frame needs is recreated
// when it holds no contents yet.
func (e *Executor) bindExport(r *graph.ResourceInfo, p *physical) error {
	ex := r.Export
	if ex == nil {
		return fmt.Errorf("executor: export %q has no registration", r.Name)
	}
	_, _, written := ex.State()

	if r.Kind == graph.KindBuffer {
		need := r.Buffer.Usage
		b := ex.Buffer()
		if b != nil && b.Desc().Usage&need != need {
			if written {
				return fmt.Errorf("%w: buffer %q needs %s, allocated with %s", ErrExportUsage, r.Name, need, b.Desc().Usage)
			}
			e.bury(nil, b)
			b = nil
		}
		if b == nil {
			desc := ex.BufferDesc()
			desc.Usage |= need
			var err error
			if b, err = e.dev.CreateBuffer(desc, nil); err != nil {
				return fmt.Errorf("executor: create export %q: %w", r.Name, err)
			}
			ex.BindBuffer(b)
		}
		p.buffer = b
		return nil
	}

	need := r.Texture.Usage
	t := ex.Texture()
	if t != nil && t.Desc().Usage&need != need {
		if written {
			return fmt.Errorf("%w: texture %q needs %s, allocated with %s", ErrExportUsage, r.Name, need, t.Desc().Usage)
		}
		e.bury(t, nil)
		t = nil
	}
	if t == nil {
		desc := ex.TextureDesc()
		desc.Usage |= need
		var err error
		if t, err = e.dev.CreateTexture(desc, nil); err != nil {
			return fmt.Errorf("executor: create export %q: %w", r.Name, err)
		}
		ex.BindTexture(t)
	}
	p.texture = t
	return nil
}

// bury defers destruction until all work submitted so far completes.
func (e *Executor) bury(t backend.Texture, b backend.Buffer) {
	g := graveyard{tokens: e.last}
	if t != nil {
		g.textures = append(g.textures, t)
	}
	if b != nil {
		g.buffers = append(g.buffers, b)
	}
	e.graves = append(e.graves, g)
}

// record records every batch into its own command buffer. Queues record
// concurrently; batches of one queue record in plan order.
func (e *Executor) record(ctx context.Context, f *Frame) error {
	batches := f.plan.Batches()
	f.cmds = make([]backend.CommandBuffer, len(batches))
	var perQueue [backend.NumQueueTypes][]int
	for i, b := range batches {
		cb, err := e.dev.CreateCommandBuffer(b.Queue, fmt.Sprintf("frame%d/batch%d", f.number, i))
		if err != nil {
			return fmt.Errorf("executor: create command buffer: %w", err)
		}
		f.cmds[i] = cb
		perQueue[b.Queue] = append(perQueue[b.Queue], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, list := range perQueue {
		if len(list) == 0 {
			continue
		}
		run := func() error {
			for _, bi := range list {
				if err := e.recordBatch(gctx, f, bi); err != nil {
					return err
				}
			}
			return nil
		}
		if e.opts.serial {
			if err := run(); err != nil {
				return err
			}
			continue
		}
		g.Go(run)
	}
	return g.Wait()
}

func (e *Executor) recordBatch(ctx context.Context, f *Frame, bi int) error {
	batch := f.plan.Batches()[bi]
	passes := f.plan.Passes()
	return backend.Record(f.cmds[bi], func(cb backend.CommandBuffer) error {
		if len(batch.Barriers) > 0 {
			cb.Barriers(translate(batch.Barriers, f.phys))
		}
		for _, pos := range batch.Passes {
			if err := ctx.Err(); err != nil {
				return err
			}
			sp := &passes[pos]
			if len(sp.Before) > 0 {
				cb.Barriers(translate(sp.Before, f.phys))
			}
			pc := &passContext{pass: sp, plan: f.plan, cb: cb, phys: f.phys}
			if err := runPass(f.plan, pos, pc); err != nil {
				return err
			}
			if len(sp.After) > 0 {
				cb.Barriers(translate(sp.After, f.phys))
			}
		}
		return nil
	})
}

// runPass invokes a pass callback, turning a panic into an error.
func runPass(plan *graph.Plan, pos int, pc *passContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %q: %v", ErrPassPanic, pc.pass.Name, r)
		}
	}()
	return plan.Run(pos, pc)
}

// submit submits batches in plan order. It returns the number of batches
// submitted.
func (e *Executor) submit(f *Frame) (int, error) {
	batches := f.plan.Batches()
	tokens := make([]backend.Token, len(batches))
	for i, b := range batches {
		waits := make([]backend.Token, 0, len(b.Waits))
		for _, w := range b.Waits {
			waits = append(waits, tokens[w])
		}
		tok, err := e.queues[b.Queue].Submit([]backend.CommandBuffer{f.cmds[i]}, waits)
		if err != nil {
			return i, err
		}
		tokens[i] = tok
		f.tokens[b.Queue] = tok
		e.last[b.Queue] = tok
	}
	return len(batches), nil
}

// present presents the frame's swapchain image.
func (e *Executor) present(f *Frame) error {
	if f.image == nil {
		return nil
	}
	if err := e.queues[backend.QueueGraphics].Present(f.image); err != nil {
		f.image.Discard()
		return e.fail(fmt.Errorf("executor: present: %w", err))
	}
	f.presented = true
	if f.image.Suboptimal() {
		logging.Logger().Info("executor: swapchain suboptimal, invalidating plans", "frame", f.number)
		e.graph.Invalidate()
	}
	return nil
}

// fail invalidates the graph on device and surface errors.
func (e *Executor) fail(err error) error {
	if backend.IsFatal(err) {
		logging.Logger().Warn("executor: fatal error, invalidating plans", "error", err)
		e.graph.Invalidate()
	}
	return err
}

// abandon releases everything a frame created before any submission.
func (e *Executor) abandon(f *Frame) {
	for _, cb := range f.cmds {
		if cb != nil {
			e.dev.FreeCommandBuffer(cb)
		}
	}
	f.cmds = nil
	e.release(f)
	if f.image != nil {
		f.image.Discard()
	}
	f.done = true
}

// abandonUnsubmitted handles a submission failure after n batches were
// submitted. The submitted part stays in flight until it completes.
func (e *Executor) abandonUnsubmitted(f *Frame, n int) {
	if n == 0 {
		e.abandon(f)
		return
	}
	for _, cb := range f.cmds[n:] {
		e.dev.FreeCommandBuffer(cb)
	}
	f.cmds = f.cmds[:n]
	if f.image != nil {
		f.image.Discard()
		f.image = nil
	}
	e.frames = append(e.frames, f)
}

// release destroys a frame's transient resources and returns its lease.
func (e *Executor) release(f *Frame) {
	for _, t := range f.textures {
		e.dev.DestroyTexture(t)
	}
	for _, b := range f.buffers {
		e.dev.DestroyBuffer(b)
	}
	f.textures, f.buffers = nil, nil
	if f.lease != nil {
		f.lease.Release()
		f.lease = nil
	}
}

// retire frees a completed frame.
func (e *Executor) retire(f *Frame) {
	e.release(f)
	for _, cb := range f.cmds {
		e.dev.FreeCommandBuffer(cb)
	}
	f.cmds = nil
	f.phys = nil
	f.done = true
}

// Poll retires every frame whose submissions have completed and destroys
// released exports nothing in flight uses. It never blocks and returns
// the number of frames retired.
func (e *Executor) Poll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pollLocked()
}

func (e *Executor) pollLocked() int {
	n := 0
	kept := e.frames[:0]
	for _, f := range e.frames {
		if completed(&e.queues, &f.tokens) {
			e.retire(f)
			n++
			continue
		}
		kept = append(kept, f)
	}
	clear(e.frames[len(kept):])
	e.frames = kept

	graves := e.graves[:0]
	for _, g := range e.graves {
		if completed(&e.queues, &g.tokens) {
			e.destroy(g)
			continue
		}
		graves = append(graves, g)
	}
	clear(e.graves[len(graves):])
	e.graves = graves
	return n
}

func (e *Executor) destroy(g graveyard) {
	for _, t := range g.textures {
		e.dev.DestroyTexture(t)
	}
	for _, b := range g.buffers {
		e.dev.DestroyBuffer(b)
	}
}

// InFlight returns the number of frames not yet retired.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.frames)
}

// Stats returns executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Frames: e.count, InFlight: len(e.frames), Pool: e.pool.Stats()}
}

// Drain polls until every frame has retired or ctx is done.
func (e *Executor) Drain(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.pollInterval)
	defer ticker.Stop()
	for {
		e.mu.Lock()
		e.pollLocked()
		idle := len(e.frames) == 0 && len(e.graves) == 0
		e.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close waits for the device to go idle, retires every frame, destroys
// all exports of the graph and closes the pool if the executor owns it.
// A wait error such as a lost device is returned after cleanup.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.dev.WaitIdle()
	if err != nil {
		err = fmt.Errorf("executor: wait idle: %w", err)
	}
	e.pollLocked()
	for _, f := range e.frames {
		e.retire(f)
	}
	e.frames = nil
	for _, g := range e.graves {
		e.destroy(g)
	}
	e.graves = nil

	e.graph.Close()
	texs, bufs := e.graph.TakeRetired()
	e.destroy(graveyard{textures: texs, buffers: bufs})
	if e.ownPool {
		e.pool.Close()
	}
	return err
}
