package graph

import (
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/memory"
)

// AllocationInfoProvider reports heap footprints. backend.Device satisfies it.
type AllocationInfoProvider interface {
	TextureAllocationInfo(desc backend.TextureDesc) backend.AllocationInfo
	BufferAllocationInfo(desc backend.BufferDesc) backend.AllocationInfo
}

// options holds Graph configuration.
type options struct {
	strict     bool
	culling    bool
	validation bool
	memory     memory.Config
	caps       backend.Capabilities
	allocInfo  AllocationInfoProvider

	backbufferFormat gputypes.TextureFormat
	backbufferWidth  uint32
	backbufferHeight uint32
}

func defaultOptions() options {
	return options{
		caps:             backend.Capabilities{Queues: [backend.NumQueueTypes]bool{backend.QueueGraphics: true}},
		backbufferFormat: gputypes.TextureFormatBGRA8Unorm,
	}
}

// Option configures a Graph.
type Option func(*options)

// WithStrict makes unused resources a compile error instead of a warning.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithCulling removes passes whose results reach no side-effect pass and
// no imported, exported or presented resource.
func WithCulling(culling bool) Option {
	return func(o *options) { o.culling = culling }
}

// WithValidation enables exhaustive self-checks during compile, including
// the pairwise aliasing scan.
func WithValidation(validation bool) Option {
	return func(o *options) { o.validation = validation }
}

// WithMemory configures transient memory allocation.
func WithMemory(cfg memory.Config) Option {
	return func(o *options) { o.memory = cfg }
}

// WithCapabilities sets the device capabilities used for queue assignment.
func WithCapabilities(caps backend.Capabilities) Option {
	return func(o *options) { o.caps = caps }
}

// WithAllocationInfo sets the provider of resource heap footprints.
// Without one, sizes are derived from descriptors.
func WithAllocationInfo(p AllocationInfoProvider) Option {
	return func(o *options) { o.allocInfo = p }
}

// WithBackbuffer sets the format and extent of the presentable image.
func WithBackbuffer(format gputypes.TextureFormat, width, height uint32) Option {
	return func(o *options) {
		o.backbufferFormat = format
		o.backbufferWidth = width
		o.backbufferHeight = height
	}
}

// Graph is the persistent owner of everything that outlives one frame:
// configuration, exported resources and the swapchain generation.
//
// Graph is safe for concurrent use; the Builders it creates are not.
type Graph struct {
	mu          sync.Mutex
	opts        options
	builds      uint64
	generation  uint64
	exports     map[string]*Export
	exportOrder []string
	retired     []*Export
}

// New creates a graph.
func New(opts ...Option) *Graph {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Graph{opts: o, exports: make(map[string]*Export)}
}

// Capabilities returns the configured device capabilities.
func (g *Graph) Capabilities() backend.Capabilities {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opts.caps
}

// MemoryConfig returns the transient memory configuration.
func (g *Graph) MemoryConfig() memory.Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opts.memory
}

// Begin starts declaring a new frame. Retained exports are pre-registered
// in the builder's blackboard.
func (g *Graph) Begin() *Builder {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.builds++
	b := &Builder{
		graph:      g,
		build:      g.builds,
		generation: g.generation,
		opts:       g.opts,
		bb:         newBlackboard(),
	}
	for _, name := range g.exportOrder {
		b.addRetained(g.exports[name])
	}
	return b
}

// Generation returns the swapchain generation. Plans compiled under an
// older generation are stale.
func (g *Graph) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// Invalidate discards every compiled plan. Call it after swapchain
// invalidation or device loss; the next frame must be rebuilt.
func (g *Graph) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
}

// Resize sets the backbuffer extent and invalidates compiled plans.
func (g *Graph) Resize(width, height uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opts.backbufferWidth = width
	g.opts.backbufferHeight = height
	g.generation++
}

// Exports returns the retained exports in registration order.
func (g *Graph) Exports() []*Export {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Export, 0, len(g.exportOrder))
	for _, name := range g.exportOrder {
		out = append(out, g.exports[name])
	}
	return out
}

// ReleaseExport stops retaining the named export. Its physical resource is
// handed to the executor through TakeRetired.
func (g *Graph) ReleaseExport(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releaseExportLocked(name)
}

func (g *Graph) releaseExportLocked(name string) bool {
	e, ok := g.exports[name]
	if !ok {
		return false
	}
	delete(g.exports, name)
	for i, n := range g.exportOrder {
		if n == name {
			g.exportOrder = append(g.exportOrder[:i], g.exportOrder[i+1:]...)
			break
		}
	}
	g.retired = append(g.retired, e)
	return true
}

// TakeRetired returns the physical resources of released exports and
// forgets them. The caller destroys them once no in-flight frame uses them.
func (g *Graph) TakeRetired() ([]backend.Texture, []backend.Buffer) {
	g.mu.Lock()
	retired := g.retired
	g.retired = nil
	g.mu.Unlock()

	var texs []backend.Texture
	var bufs []backend.Buffer
	for _, e := range retired {
		t, b := e.unbind()
		if t != nil {
			texs = append(texs, t)
		}
		if b != nil {
			bufs = append(bufs, b)
		}
	}
	return texs, bufs
}

// Close releases every export. The physical resources are returned by the
// following TakeRetired call.
func (g *Graph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.exportOrder) > 0 {
		g.releaseExportLocked(g.exportOrder[0])
	}
	g.generation++
}

// retain registers exports declared by a compiled build. An export whose
// descriptor changed replaces the retained one.
func (g *Graph) retain(nodes []*resourceNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range nodes {
		if n.residency != Exported || n.dead {
			continue
		}
		if old, ok := g.exports[n.name]; ok {
			if old == n.export {
				continue
			}
			g.releaseExportLocked(n.name)
		}
		g.exports[n.name] = n.export
		g.exportOrder = append(g.exportOrder, n.name)
	}
}
