package executor

import (
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/graph"
)

// physical is the resource bound to one plan entry.
type physical struct {
	texture backend.Texture
	buffer  backend.Buffer
}

// passContext implements graph.PassContext for one pass.
type passContext struct {
	pass *graph.ScheduledPass
	plan *graph.Plan
	cb   backend.CommandBuffer
	phys []physical
}

var _ graph.PassContext = (*passContext)(nil)

func (c *passContext) Pass() string                         { return c.pass.Name }
func (c *passContext) Queue() backend.QueueType             { return c.pass.Queue }
func (c *passContext) CommandBuffer() backend.CommandBuffer { return c.cb }

// Texture returns the physical texture bound to h, or nil when h is not
// from this frame or not used by it.
func (c *passContext) Texture(h graph.TextureHandle) backend.Texture {
	i, err := c.plan.TextureIndex(h)
	if err != nil {
		return nil
	}
	return c.phys[i].texture
}

// Buffer returns the physical buffer bound to h.
func (c *passContext) Buffer(h graph.BufferHandle) backend.Buffer {
	i, err := c.plan.BufferIndex(h)
	if err != nil {
		return nil
	}
	return c.phys[i].buffer
}

// translate binds planned barriers to physical resources.
func translate(bs []graph.Barrier, phys []physical) []backend.Barrier {
	if len(bs) == 0 {
		return nil
	}
	out := make([]backend.Barrier, len(bs))
	for i, b := range bs {
		out[i] = backend.Barrier{
			Kind:     b.Kind,
			Texture:  phys[b.Resource].texture,
			Buffer:   phys[b.Resource].buffer,
			Before:   b.Before,
			After:    b.After,
			SrcQueue: b.SrcQueue,
			DstQueue: b.DstQueue,
		}
	}
	return out
}
