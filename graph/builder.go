package graph

import (
	"fmt"

	"github.com/gogpu/framegraph/backend"
)

// Builder accumulates one frame's resources and passes. All declarations
// happen before Compile; Compile may be called once.
//
// Builder is not safe for concurrent use.
type Builder struct {
	graph      *Graph
	build      uint64
	generation uint64
	opts       options
	bb         *Blackboard
	resources  []*resourceNode
	passes     []*passNode
	backbuffer int
	compiled   bool
}

// ResourceOption configures a declared resource.
type ResourceOption func(*resourceNode)

// AsExport keeps the resource alive across frames in a dedicated allocation.
// The next builder of the same Graph finds it in its blackboard with the
// contents and state the last submitted frame left. The descriptor's Usage
// should list every usage later frames need, since the allocation cannot
// grow once it holds contents.
func AsExport() ResourceOption {
	return func(n *resourceNode) { n.residency = Exported }
}

// Blackboard returns the builder's name lookup table. After Compile only
// exported entries remain.
func (b *Builder) Blackboard() *Blackboard { return b.bb }

// Graph returns the graph that created the builder.
func (b *Builder) Graph() *Graph { return b.graph }

// addRetained registers an export carried over from a previous build.
func (b *Builder) addRetained(e *Export) {
	state, queue, written := e.State()
	n := &resourceNode{
		name:         e.name,
		kind:         e.kind,
		texture:      e.texture,
		buffer:       e.buffer,
		residency:    Exported,
		initial:      state,
		initialQueue: queue,
		hasContents:  written,
		export:       e,
		retained:     true,
	}
	r := ref{build: b.build, index: len(b.resources)}
	b.resources = append(b.resources, n)
	if n.kind == KindBuffer {
		b.bb.buffers[n.name] = BufferHandle{r}
	} else {
		b.bb.textures[n.name] = TextureHandle{r}
	}
}

// DeclareTexture declares a virtual texture. Zero descriptor fields take
// their defaults and an empty label takes the name.
func (b *Builder) DeclareTexture(desc backend.TextureDesc, name string, opts ...ResourceOption) (TextureHandle, error) {
	desc = desc.Normalize()
	if desc.Label == "" {
		desc.Label = name
	}
	n := &resourceNode{name: name, kind: KindTexture, texture: desc}
	for _, opt := range opts {
		opt(n)
	}
	r, err := b.declare(n, func() error { return desc.Validate() })
	return TextureHandle{r}, err
}

// DeclareBuffer declares a virtual buffer. An empty label takes the name.
func (b *Builder) DeclareBuffer(desc backend.BufferDesc, name string, opts ...ResourceOption) (BufferHandle, error) {
	if desc.Label == "" {
		desc.Label = name
	}
	n := &resourceNode{name: name, kind: KindBuffer, buffer: desc}
	for _, opt := range opts {
		opt(n)
	}
	r, err := b.declare(n, func() error { return desc.Validate() })
	return BufferHandle{r}, err
}

// ImportTexture brings a caller-owned texture into the frame. Its contents
// are valid and it is currently in state on queue. A queue the device does
// not expose is taken as graphics.
func (b *Builder) ImportTexture(name string, tex backend.Texture, state backend.Usage, queue backend.QueueType) (TextureHandle, error) {
	if tex == nil {
		return TextureHandle{}, fmt.Errorf("%w: imported texture %q is nil", ErrInvalidHandle, name)
	}
	n := &resourceNode{
		name:            name,
		kind:            KindTexture,
		texture:         tex.Desc(),
		residency:       Imported,
		initial:         state,
		initialQueue:    b.importQueue(queue),
		hasContents:     true,
		importedTexture: tex,
	}
	r, err := b.declare(n, nil)
	return TextureHandle{r}, err
}

// ImportBuffer brings a caller-owned buffer into the frame.
func (b *Builder) ImportBuffer(name string, buf backend.Buffer, state backend.Usage, queue backend.QueueType) (BufferHandle, error) {
	if buf == nil {
		return BufferHandle{}, fmt.Errorf("%w: imported buffer %q is nil", ErrInvalidHandle, name)
	}
	n := &resourceNode{
		name:           name,
		kind:           KindBuffer,
		buffer:         buf.Desc(),
		residency:      Imported,
		initial:        state,
		initialQueue:   b.importQueue(queue),
		hasContents:    true,
		importedBuffer: buf,
	}
	r, err := b.declare(n, nil)
	return BufferHandle{r}, err
}

// importQueue folds the queue of an imported resource onto the device.
func (b *Builder) importQueue(q backend.QueueType) backend.QueueType {
	if !b.opts.caps.HasQueue(q) {
		return backend.QueueGraphics
	}
	return q
}

// DeclareBackbuffer declares the presentable image. The executor binds the
// acquired swapchain image to it and the plan leaves it in UsagePresent.
// A build has at most one backbuffer.
func (b *Builder) DeclareBackbuffer(name string) (TextureHandle, error) {
	if b.backbuffer > 0 {
		prev := b.resources[b.backbuffer-1].name
		return TextureHandle{}, fmt.Errorf("%w: backbuffer already declared as %q", ErrDuplicateName, prev)
	}
	if b.opts.backbufferWidth == 0 || b.opts.backbufferHeight == 0 {
		return TextureHandle{}, ErrNoBackbuffer
	}
	n := &resourceNode{
		name: name,
		kind: KindTexture,
		texture: backend.TextureDesc{
			Label:  name,
			Width:  b.opts.backbufferWidth,
			Height: b.opts.backbufferHeight,
			Format: b.opts.backbufferFormat,
			Usage:  backend.UsagePresent,
		}.Normalize(),
		residency: Backbuffer,
	}
	r, err := b.declare(n, nil)
	if err == nil {
		b.backbuffer = r.index + 1
	}
	return TextureHandle{r}, err
}

// declare validates and registers a resource node.
func (b *Builder) declare(n *resourceNode, validate func() error) (ref, error) {
	if b.compiled {
		return ref{}, fmt.Errorf("%w: declare %s %q", ErrCompiled, n.kind, n.name)
	}
	if n.name == "" {
		return ref{}, fmt.Errorf("%w: %s with empty name", ErrInvalidName, n.kind)
	}
	if validate != nil {
		if err := validate(); err != nil {
			return ref{}, err
		}
	}

	var existing ref
	var found bool
	if n.kind == KindBuffer {
		var h BufferHandle
		h, found = b.bb.buffers[n.name]
		existing = h.r
	} else {
		var h TextureHandle
		h, found = b.bb.textures[n.name]
		existing = h.r
	}
	if found {
		old := b.resources[existing.index]
		if !old.retained || n.residency != Exported {
			return ref{}, fmt.Errorf("%w: %s %q", ErrDuplicateName, n.kind, n.name)
		}
		if old.export.matches(n) {
			old.retained = false
			return existing, nil
		}
		old.dead = true
	}

	if n.residency == Exported {
		n.export = &Export{name: n.name, kind: n.kind, texture: n.texture, buffer: n.buffer}
	}
	r := ref{build: b.build, index: len(b.resources)}
	b.resources = append(b.resources, n)
	if n.kind == KindBuffer {
		b.bb.buffers[n.name] = BufferHandle{r}
	} else {
		b.bb.textures[n.name] = TextureHandle{r}
	}
	return r, nil
}

// AddPass declares a pass. accesses lists every resource the pass touches,
// at most once per resource; fn is invoked during execution and may be nil.
func (b *Builder) AddPass(name string, hint QueueHint, accesses []Access, fn PassFunc, opts ...PassOption) (PassHandle, error) {
	if b.compiled {
		return PassHandle{}, fmt.Errorf("%w: add pass %q", ErrCompiled, name)
	}
	if name == "" {
		return PassHandle{}, fmt.Errorf("%w: pass with empty name", ErrInvalidName)
	}
	if hint > QueueCopy {
		return PassHandle{}, fmt.Errorf("%w: pass %q has queue hint %d", ErrInvalidAccess, name, hint)
	}
	seen := make(map[int]bool, len(accesses))
	for _, a := range accesses {
		if err := b.checkAccess(name, hint, a); err != nil {
			return PassHandle{}, err
		}
		if seen[a.res.index] {
			return PassHandle{}, fmt.Errorf("%w: pass %q accesses %q more than once",
				ErrInvalidAccess, name, b.resources[a.res.index].name)
		}
		seen[a.res.index] = true
	}

	h := PassHandle{build: b.build, index: len(b.passes)}
	if err := b.bb.putPass(name, h); err != nil {
		return PassHandle{}, err
	}
	p := &passNode{
		name:     name,
		index:    h.index,
		hint:     hint,
		accesses: append([]Access(nil), accesses...),
		fn:       fn,
	}
	for _, opt := range opts {
		opt(p)
	}
	b.passes = append(b.passes, p)
	return h, nil
}

// checkAccess validates one access of pass name.
func (b *Builder) checkAccess(name string, hint QueueHint, a Access) error {
	if a.res.build != b.build || a.res.index < 0 || a.res.index >= len(b.resources) {
		return fmt.Errorf("%w: pass %q uses a %s handle from another build", ErrInvalidHandle, name, a.kind)
	}
	n := b.resources[a.res.index]
	if n.kind != a.kind || n.dead {
		return fmt.Errorf("%w: pass %q uses stale handle for %q", ErrInvalidHandle, name, n.name)
	}

	allowed := backend.TextureUsages
	if a.kind == KindBuffer {
		allowed = backend.BufferUsages
	}
	allowed &^= backend.UsagePresent
	switch {
	case a.usage == backend.UsageNone || a.usage&^allowed != 0:
		return fmt.Errorf("%w: pass %q uses %s %q as %s", ErrInvalidAccess, name, a.kind, n.name, a.usage)
	case a.mode == Read && a.usage.IsWrite():
		return fmt.Errorf("%w: pass %q reads %q with write usage %s", ErrInvalidAccess, name, n.name, a.usage)
	case a.mode != Read && !a.usage.IsWrite():
		return fmt.Errorf("%w: pass %q writes %q with read-only usage %s", ErrInvalidAccess, name, n.name, a.usage)
	}

	var queueUsages backend.Usage
	switch hint {
	case QueueCompute:
		queueUsages = backend.UsageSampled | backend.UsageStorageRead | backend.UsageStorageWrite |
			backend.UsageCopySrc | backend.UsageCopyDst | backend.UsageUniform | backend.UsageIndirect
	case QueueCopy:
		queueUsages = backend.UsageCopySrc | backend.UsageCopyDst
	default:
		return nil
	}
	if a.usage&^queueUsages != 0 {
		return fmt.Errorf("%w: pass %q on %s queue cannot use %q as %s", ErrInvalidAccess, name, hint, n.name, a.usage)
	}
	return nil
}

// Compile resolves the declared frame into an immutable plan. It performs
// no GPU calls. After Compile, further declarations and a second Compile
// fail, the blackboard keeps only exported entries, and exports are
// retained by the Graph for the next builder.
func (b *Builder) Compile() (*Plan, error) {
	if b.compiled {
		return nil, ErrAlreadyCompiled
	}
	b.compiled = true

	plan, err := newCompiler(b).compile()
	if err != nil {
		return nil, err
	}

	b.graph.retain(b.resources)
	keepTex, keepBuf := make(map[string]bool), make(map[string]bool)
	for _, n := range b.resources {
		if n.residency == Exported && !n.dead {
			if n.kind == KindBuffer {
				keepBuf[n.name] = true
			} else {
				keepTex[n.name] = true
			}
		}
	}
	b.bb.clearTransient(keepTex, keepBuf)
	return plan, nil
}
