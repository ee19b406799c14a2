package graph

import (
	"fmt"
	"sync"

	"github.com/gogpu/framegraph/backend"
)

// ResourceKind distinguishes textures from buffers.
type ResourceKind uint8

const (
	KindTexture ResourceKind = iota
	KindBuffer
)

// String returns the kind name.
func (k ResourceKind) String() string {
	if k == KindBuffer {
		return "buffer"
	}
	return "texture"
}

// Residency tells where a resource's memory comes from and how long it lives.
type Residency uint8

const (
	// Transient resources live for one frame in aliased arena memory.
	Transient Residency = iota

	// Imported resources are owned by the caller and arrive with known
	// contents and state.
	Imported

	// Exported resources persist across frames in dedicated memory.
	Exported

	// Backbuffer is the presentable swapchain image, bound at execution.
	Backbuffer
)

// String returns the residency name.
func (r Residency) String() string {
	switch r {
	case Transient:
		return "transient"
	case Imported:
		return "imported"
	case Exported:
		return "exported"
	case Backbuffer:
		return "backbuffer"
	default:
		return fmt.Sprintf("Residency(%d)", uint8(r))
	}
}

// ref identifies a resource inside one build. build is never zero for a
// valid handle.
type ref struct {
	build uint64
	index int
}

// TextureHandle refers to a virtual texture of one build.
type TextureHandle struct{ r ref }

// IsValid reports whether h was returned by a builder.
func (h TextureHandle) IsValid() bool { return h.r.build != 0 }

// Index returns the resource index inside its build.
func (h TextureHandle) Index() int { return h.r.index }

// BufferHandle refers to a virtual buffer of one build.
type BufferHandle struct{ r ref }

// IsValid reports whether h was returned by a builder.
func (h BufferHandle) IsValid() bool { return h.r.build != 0 }

// Index returns the resource index inside its build.
func (h BufferHandle) Index() int { return h.r.index }

// resourceNode is the builder's record of one virtual resource.
type resourceNode struct {
	name      string
	kind      ResourceKind
	texture   backend.TextureDesc
	buffer    backend.BufferDesc
	residency Residency

	// initial state for imported and retained exported resources.
	initial      backend.Usage
	initialQueue backend.QueueType
	hasContents  bool

	importedTexture backend.Texture
	importedBuffer  backend.Buffer
	export          *Export

	// retained marks exports carried over from a previous build and not
	// redeclared; they may go unused without a warning.
	retained bool

	// dead marks a retained export replaced by a redeclaration.
	dead bool
}

// label returns the debug label of the resource.
func (n *resourceNode) label() string {
	if n.kind == KindBuffer {
		if n.buffer.Label != "" {
			return n.buffer.Label
		}
	} else if n.texture.Label != "" {
		return n.texture.Label
	}
	return n.name
}

// Export is a resource retained by a Graph across frames. Its physical
// resource is created by the executor on first use and its state is
// committed after every successfully submitted frame.
//
// Export is safe for concurrent use.
type Export struct {
	name    string
	kind    ResourceKind
	texture backend.TextureDesc
	buffer  backend.BufferDesc

	mu      sync.Mutex
	state   backend.Usage
	queue   backend.QueueType
	written bool
	physTex backend.Texture
	physBuf backend.Buffer
}

// Name returns the export name.
func (e *Export) Name() string { return e.name }

// Kind returns the resource kind.
func (e *Export) Kind() ResourceKind { return e.kind }

// TextureDesc returns the texture descriptor of a texture export.
func (e *Export) TextureDesc() backend.TextureDesc { return e.texture }

// BufferDesc returns the buffer descriptor of a buffer export.
func (e *Export) BufferDesc() backend.BufferDesc { return e.buffer }

// State returns the usage and queue the resource was left in by the last
// submitted frame, and whether any frame has written it.
func (e *Export) State() (backend.Usage, backend.QueueType, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.queue, e.written
}

// Texture returns the bound physical texture, or nil.
func (e *Export) Texture() backend.Texture {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.physTex
}

// Buffer returns the bound physical buffer, or nil.
func (e *Export) Buffer() backend.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.physBuf
}

// BindTexture attaches the physical texture backing the export.
func (e *Export) BindTexture(t backend.Texture) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.physTex = t
}

// BindBuffer attaches the physical buffer backing the export.
func (e *Export) BindBuffer(b backend.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.physBuf = b
}

// commit records the state a submitted frame left the resource in.
func (e *Export) commit(state backend.Usage, queue backend.QueueType, written bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.queue = queue
	e.written = e.written || written
}

// unbind detaches and returns the physical resources.
func (e *Export) unbind() (backend.Texture, backend.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, b := e.physTex, e.physBuf
	e.physTex, e.physBuf = nil, nil
	return t, b
}

// matches reports whether a redeclaration describes the same resource.
func (e *Export) matches(n *resourceNode) bool {
	if e.kind != n.kind {
		return false
	}
	if e.kind == KindBuffer {
		return e.buffer == n.buffer
	}
	return e.texture == n.texture
}
