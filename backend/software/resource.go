package software

import (
	"fmt"

	"github.com/gogpu/framegraph/backend"
)

// submissionRef identifies one queue submission. The zero value is never
// submitted and always complete.
type submissionRef struct {
	queue backend.QueueType
	value uint64
}

func (s submissionRef) String() string {
	return fmt.Sprintf("%s#%d", s.queue, s.value)
}

// trackedState is the validation view of a resource.
type trackedState struct {
	valid bool
	usage backend.Usage
	queue backend.QueueType

	inTransit     bool
	transferTo    backend.QueueType
	transferUsage backend.Usage
	released      submissionRef
}

// resource is the common part of textures and buffers.
type resource struct {
	dev       *Device
	label     string
	size      uint64
	data      []byte
	dedicated uint64

	heap   *Heap
	offset uint64

	state     trackedState
	lastUse   submissionRef
	destroyed bool
}

// Label returns the debug label.
func (r *resource) Label() string { return r.label }

// bytes returns the resource contents. Placed resources view their heap.
func (r *resource) bytes() []byte {
	if r.heap != nil {
		return r.heap.span(r.offset, r.size)
	}
	return r.data
}

// overlaps reports whether r and o share heap bytes.
func (r *resource) overlaps(o *resource) bool {
	return r.heap != nil && r.heap == o.heap &&
		r.offset < o.offset+o.size && o.offset < r.offset+r.size
}

// Texture is a software texture.
type Texture struct {
	resource
	desc backend.TextureDesc
}

// Desc returns the texture descriptor.
func (t *Texture) Desc() backend.TextureDesc { return t.desc }

// Native returns the texture itself.
func (t *Texture) Native() any { return t }

// Buffer is a software buffer.
type Buffer struct {
	resource
	desc backend.BufferDesc
}

// Desc returns the buffer descriptor.
func (b *Buffer) Desc() backend.BufferDesc { return b.desc }

// Native returns the buffer itself.
func (b *Buffer) Native() any { return b }

// Heap is a block of software memory. Bytes are allocated on first access
// up to the highest byte touched.
type Heap struct {
	dev    *Device
	size   uint64
	label  string
	data   []byte
	placed []*resource
}

// Size returns the heap size.
func (h *Heap) Size() uint64 { return h.size }

// Label returns the debug label.
func (h *Heap) Label() string { return h.label }

// Native returns the heap itself.
func (h *Heap) Native() any { return h }

// span returns size bytes at offset, growing the backing store in place.
func (h *Heap) span(offset, size uint64) []byte {
	end := offset + size
	if uint64(len(h.data)) < end {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	return h.data[offset:end:end]
}

func (h *Heap) unplace(r *resource) {
	for i, p := range h.placed {
		if p == r {
			h.placed = append(h.placed[:i], h.placed[i+1:]...)
			return
		}
	}
}

var (
	_ backend.Texture = (*Texture)(nil)
	_ backend.Buffer  = (*Buffer)(nil)
	_ backend.Heap    = (*Heap)(nil)
)
