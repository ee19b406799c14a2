package graph

import (
	"fmt"

	"github.com/gogpu/framegraph/backend"
)

// QueueHint is a pass's queue preference.
type QueueHint uint8

const (
	// QueueAny lets the resolver choose; it selects graphics.
	QueueAny QueueHint = iota
	QueueGraphics
	QueueCompute
	QueueCopy
)

// String returns the hint name.
func (h QueueHint) String() string {
	switch h {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueCopy:
		return "copy"
	default:
		return "any"
	}
}

// ParseQueueHint converts "any", "graphics", "compute" or "copy" to a hint.
func ParseQueueHint(s string) (QueueHint, error) {
	for h := QueueAny; h <= QueueCopy; h++ {
		if h.String() == s {
			return h, nil
		}
	}
	if s == "" {
		return QueueAny, nil
	}
	return QueueAny, fmt.Errorf("graph: unknown queue %q", s)
}

// queue returns the queue for the hint on a device with caps.
func (h QueueHint) queue(caps backend.Capabilities) backend.QueueType {
	var q backend.QueueType
	switch h {
	case QueueCompute:
		q = backend.QueueCompute
	case QueueCopy:
		q = backend.QueueCopy
	default:
		return backend.QueueGraphics
	}
	if !caps.HasQueue(q) {
		return backend.QueueGraphics
	}
	return q
}

// AccessMode is how a pass touches a resource.
type AccessMode uint8

const (
	Read AccessMode = iota
	Write
	ReadWrite
)

// String returns the mode name.
func (m AccessMode) String() string {
	switch m {
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	default:
		return "read"
	}
}

func (m AccessMode) reads() bool  { return m != Write }
func (m AccessMode) writes() bool { return m != Read }

// Access is one resource access of a pass.
type Access struct {
	mode  AccessMode
	kind  ResourceKind
	res   ref
	usage backend.Usage
}

// Mode returns the access mode.
func (a Access) Mode() AccessMode { return a.mode }

// Usage returns the access usage.
func (a Access) Usage() backend.Usage { return a.usage }

// Kind returns the kind of the accessed resource.
func (a Access) Kind() ResourceKind { return a.kind }

// Resource returns the index of the accessed resource in Plan.Resources.
func (a Access) Resource() int { return a.res.index }

// ReadTexture declares a read of t with a read-only usage such as UsageSampled.
func ReadTexture(t TextureHandle, u backend.Usage) Access {
	return Access{mode: Read, kind: KindTexture, res: t.r, usage: u}
}

// WriteTexture declares a write of t that replaces its contents.
func WriteTexture(t TextureHandle, u backend.Usage) Access {
	return Access{mode: Write, kind: KindTexture, res: t.r, usage: u}
}

// ReadWriteTexture declares a read-modify-write of t.
func ReadWriteTexture(t TextureHandle, u backend.Usage) Access {
	return Access{mode: ReadWrite, kind: KindTexture, res: t.r, usage: u}
}

// ReadBuffer declares a read of b with a read-only usage.
func ReadBuffer(b BufferHandle, u backend.Usage) Access {
	return Access{mode: Read, kind: KindBuffer, res: b.r, usage: u}
}

// WriteBuffer declares a write of b that replaces its contents.
func WriteBuffer(b BufferHandle, u backend.Usage) Access {
	return Access{mode: Write, kind: KindBuffer, res: b.r, usage: u}
}

// ReadWriteBuffer declares a read-modify-write of b.
func ReadWriteBuffer(b BufferHandle, u backend.Usage) Access {
	return Access{mode: ReadWrite, kind: KindBuffer, res: b.r, usage: u}
}

// PassContext is handed to a pass callback during execution. It exposes
// the physical resources bound to the pass and the command buffer of the
// pass's queue.
type PassContext interface {
	// Pass returns the pass name.
	Pass() string

	// Queue returns the queue the pass was assigned to.
	Queue() backend.QueueType

	// CommandBuffer returns the recording command buffer.
	CommandBuffer() backend.CommandBuffer

	// Texture returns the physical texture bound to h.
	Texture(h TextureHandle) backend.Texture

	// Buffer returns the physical buffer bound to h.
	Buffer(h BufferHandle) backend.Buffer
}

// PassFunc records a pass's commands. The frame graph never inspects what
// the callback captures.
type PassFunc func(ctx PassContext) error

// PassHandle refers to a pass of one build.
type PassHandle struct {
	build uint64
	index int
}

// IsValid reports whether h was returned by a builder.
func (h PassHandle) IsValid() bool { return h.build != 0 }

// Index returns the declaration index of the pass.
func (h PassHandle) Index() int { return h.index }

// PassOption configures a pass.
type PassOption func(*passNode)

// SideEffect marks a pass as having effects outside the graph. Such
// passes are never culled.
func SideEffect() PassOption {
	return func(p *passNode) { p.sideEffect = true }
}

// DependsOn orders the pass after the named passes, in addition to its
// data dependencies. Names are resolved at compile time and may refer to
// passes declared later.
func DependsOn(passes ...string) PassOption {
	return func(p *passNode) { p.dependsOn = append(p.dependsOn, passes...) }
}

// passNode is the builder's record of one pass.
type passNode struct {
	name       string
	index      int
	hint       QueueHint
	accesses   []Access
	fn         PassFunc
	sideEffect bool
	dependsOn  []string
}
