package backend

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Capabilities describes what a device offers the frame graph.
type Capabilities struct {
	// Queues reports which queue types exist as independent submission streams.
	Queues [NumQueueTypes]bool

	// PlacedResources reports whether resources can be created at an
	// offset inside a heap. Without it every transient resource gets a
	// dedicated allocation and aliasing is bookkeeping only.
	PlacedResources bool

	// MaxHeapSize bounds a single heap. Zero means unbounded.
	MaxHeapSize uint64
}

// HasQueue reports whether queue q exists.
func (c Capabilities) HasQueue(q QueueType) bool {
	return q < NumQueueTypes && c.Queues[q]
}

// Device is an opened GPU device. Implementations are safe for concurrent
// use except where a method documents otherwise.
type Device interface {
	// Backend returns the backend name the device was opened with.
	Backend() string

	// Capabilities returns the device capabilities.
	Capabilities() Capabilities

	// Queue returns the queue of type q, or ErrUnsupported.
	Queue(q QueueType) (Queue, error)

	// TextureAllocationInfo returns the heap footprint of a texture.
	TextureAllocationInfo(desc TextureDesc) AllocationInfo

	// BufferAllocationInfo returns the heap footprint of a buffer.
	BufferAllocationInfo(desc BufferDesc) AllocationInfo

	// CreateHeap allocates a block of device memory for placed resources.
	CreateHeap(size uint64, label string) (Heap, error)

	// DestroyHeap releases a heap. Resources placed in it must be destroyed first.
	DestroyHeap(h Heap)

	// CreateTexture creates a texture. A nil placement requests a
	// dedicated allocation.
	CreateTexture(desc TextureDesc, placement *Placement) (Texture, error)

	// DestroyTexture destroys a texture.
	DestroyTexture(t Texture)

	// CreateBuffer creates a buffer. A nil placement requests a dedicated
	// allocation.
	CreateBuffer(desc BufferDesc, placement *Placement) (Buffer, error)

	// DestroyBuffer destroys a buffer.
	DestroyBuffer(b Buffer)

	// CreateCommandBuffer creates a command buffer for queue q.
	CreateCommandBuffer(q QueueType, label string) (CommandBuffer, error)

	// FreeCommandBuffer releases a command buffer whose work has completed.
	FreeCommandBuffer(cb CommandBuffer)

	// Swapchain returns the presentation swapchain, or nil when headless.
	Swapchain() Swapchain

	// WaitIdle blocks until all submitted work completes. Only used at
	// shutdown and after device loss.
	WaitIdle() error

	// Native returns the backend's native device for extensions.
	Native() any

	// Destroy releases the device.
	Destroy()
}

// Queue submits recorded work. Submission returns a completion token that
// is polled with Completed.
type Queue interface {
	// Type returns the queue type.
	Type() QueueType

	// Submit submits command buffers in order. The work starts only after
	// every token in waits has signaled. Waits express queue-to-queue
	// synchronization and never block the CPU.
	Submit(cmds []CommandBuffer, waits []Token) (Token, error)

	// Completed reports whether the work behind t has finished. It never blocks.
	Completed(t Token) bool

	// Present queues img for presentation.
	Present(img SwapchainImage) error
}

// Token is an opaque completion token returned by Queue.Submit.
type Token struct {
	queue QueueType
	value uint64
}

// NewToken creates a token. Only backends create tokens.
func NewToken(q QueueType, value uint64) Token {
	return Token{queue: q, value: value}
}

// Queue returns the queue that issued the token.
func (t Token) Queue() QueueType { return t.queue }

// Value returns the backend's submission value.
func (t Token) Value() uint64 { return t.value }

// IsZero reports whether t was never issued.
func (t Token) IsZero() bool { return t.value == 0 }

// String returns a readable form of the token.
func (t Token) String() string { return fmt.Sprintf("%s#%d", t.queue, t.value) }

// Resource is the common part of textures and buffers.
type Resource interface {
	// Label returns the debug label.
	Label() string

	// Native returns the backend's native handle.
	Native() any
}

// Texture is a physical texture.
type Texture interface {
	Resource
	Desc() TextureDesc
}

// Buffer is a physical buffer.
type Buffer interface {
	Resource
	Desc() BufferDesc
}

// Heap is a block of device memory that placed resources live in.
type Heap interface {
	Size() uint64
	Label() string
	Native() any
}

// Placement locates a resource inside a heap.
type Placement struct {
	Heap   Heap
	Offset uint64
}

// BarrierKind classifies a barrier.
type BarrierKind uint8

const (
	// BarrierTransition changes the usage of a resource on one queue.
	BarrierTransition BarrierKind = iota

	// BarrierOrdering orders two accesses with the same usage where at
	// least one of them writes.
	BarrierOrdering

	// BarrierRelease gives up ownership on the source queue. It is always
	// paired with a BarrierAcquire on the destination queue, ordered by a
	// queue-to-queue wait.
	BarrierRelease

	// BarrierAcquire takes ownership on the destination queue.
	BarrierAcquire

	// BarrierActivate marks the first use of a resource in aliased memory.
	// Previous contents are discarded.
	BarrierActivate
)

// String returns the barrier kind name.
func (k BarrierKind) String() string {
	switch k {
	case BarrierTransition:
		return "transition"
	case BarrierOrdering:
		return "ordering"
	case BarrierRelease:
		return "release"
	case BarrierAcquire:
		return "acquire"
	case BarrierActivate:
		return "activate"
	default:
		return "unknown"
	}
}

// Barrier is one synchronization instruction on one resource. Exactly one
// of Texture and Buffer is set.
type Barrier struct {
	Kind     BarrierKind
	Texture  Texture
	Buffer   Buffer
	Before   Usage
	After    Usage
	SrcQueue QueueType
	DstQueue QueueType
}

// CommandBuffer records commands for one queue. Recording happens between
// Begin and End; Discard abandons a recording. A command buffer is used
// from one goroutine at a time.
type CommandBuffer interface {
	// Queue returns the queue type the buffer records for.
	Queue() QueueType

	// Label returns the debug label.
	Label() string

	// Begin starts recording.
	Begin() error

	// Barriers records synchronization instructions.
	Barriers(barriers []Barrier)

	// ClearBuffer zeroes size bytes of buf starting at offset.
	ClearBuffer(buf Buffer, offset, size uint64)

	// CopyBuffer copies size bytes between buffers.
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64)

	// CopyTexture copies the first mip level of src to dst.
	CopyTexture(src, dst Texture)

	// BeginRenderPass starts a render pass. Only valid on graphics queues.
	BeginRenderPass(desc RenderPassDesc) (RenderPassEncoder, error)

	// BeginComputePass starts a compute pass. Not valid on copy queues.
	BeginComputePass(label string) (ComputePassEncoder, error)

	// End finishes recording.
	End() error

	// Discard abandons the recording.
	Discard()

	// Native returns the backend's native encoder for extensions.
	Native() any
}

// ColorAttachment is a render pass color target.
type ColorAttachment struct {
	Texture Texture
	Load    gputypes.LoadOp
	Clear   gputypes.Color
}

// DepthAttachment is a render pass depth target.
type DepthAttachment struct {
	Texture    Texture
	Load       gputypes.LoadOp
	ClearDepth float32
	ReadOnly   bool
}

// RenderPassDesc describes a render pass.
type RenderPassDesc struct {
	Label string
	Color []ColorAttachment
	Depth *DepthAttachment
}

// RenderPassEncoder records draws. Pipelines and bindings are set through
// Native since they are backend-specific blobs.
type RenderPassEncoder interface {
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	Native() any
	End()
}

// ComputePassEncoder records dispatches.
type ComputePassEncoder interface {
	Dispatch(x, y, z uint32)
	Native() any
	End()
}

// Swapchain provides presentable images.
type Swapchain interface {
	// Configure resizes the swapchain. Previously acquired images are invalid.
	Configure(width, height uint32) error

	// Acquire returns the next presentable image. ErrSurfaceOutdated means
	// the swapchain must be reconfigured.
	Acquire() (SwapchainImage, error)

	// Format returns the image format.
	Format() gputypes.TextureFormat

	// Extent returns the image size.
	Extent() (width, height uint32)
}

// SwapchainImage is an acquired presentable image.
type SwapchainImage interface {
	Texture() Texture
	Suboptimal() bool

	// Discard returns the image without presenting it.
	Discard()
}

// Record runs fn between cb.Begin and cb.End. When fn fails, End fails or
// fn panics, the buffer is discarded.
func Record(cb CommandBuffer, fn func(CommandBuffer) error) (err error) {
	if err = cb.Begin(); err != nil {
		return err
	}
	ended := false
	defer func() {
		if !ended {
			cb.Discard()
		}
	}()
	if err = fn(cb); err != nil {
		return err
	}
	if err = cb.End(); err != nil {
		return err
	}
	ended = true
	return nil
}
