package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
)

type cbState uint8

const (
	stateIdle cbState = iota
	stateRecording
	stateEnded
	stateSubmitted
	stateFreed
)

func (s cbState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRecording:
		return "recording"
	case stateEnded:
		return "ended"
	case stateSubmitted:
		return "submitted"
	case stateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// CommandBuffer records into a HAL command encoder.
type CommandBuffer struct {
	dev   *Device
	queue backend.QueueType
	label string
	enc   hal.CommandEncoder
	raw   hal.CommandBuffer
	state cbState

	// err is the first recording error; End returns it.
	err error
}

var _ backend.CommandBuffer = (*CommandBuffer)(nil)

// Queue returns the queue type the buffer records for.
func (c *CommandBuffer) Queue() backend.QueueType { return c.queue }

// Label returns the debug label.
func (c *CommandBuffer) Label() string { return c.label }

// Begin starts encoding.
func (c *CommandBuffer) Begin() error {
	if c.state != stateIdle {
		return fmt.Errorf("%w: begin %q while %s", backend.ErrInvalidDescriptor, c.label, c.state)
	}
	if err := c.enc.BeginEncoding(c.label); err != nil {
		return fmt.Errorf("native: begin %q: %w", c.label, mapError(err))
	}
	c.state = stateRecording
	c.err = nil
	return nil
}

// record reports whether a command may be recorded, remembering the
// first failure.
func (c *CommandBuffer) record(op string) bool {
	if c.state == stateRecording {
		return true
	}
	c.fail(fmt.Errorf("%w: %s on %q while %s", backend.ErrNotRecording, op, c.label, c.state))
	return false
}

func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *CommandBuffer) texture(t backend.Texture) (*Texture, bool) {
	tex, ok := t.(*Texture)
	if !ok || tex.dev != c.dev {
		c.fail(fmt.Errorf("%w: foreign texture %T in %q", backend.ErrInvalidDescriptor, t, c.label))
		return nil, false
	}
	return tex, true
}

func (c *CommandBuffer) buffer(b backend.Buffer) (*Buffer, bool) {
	buf, ok := b.(*Buffer)
	if !ok || buf.dev != c.dev {
		c.fail(fmt.Errorf("%w: foreign buffer %T in %q", backend.ErrInvalidDescriptor, b, c.label))
		return nil, false
	}
	return buf, true
}

// Barriers records usage transitions. Releases are dropped and acquires
// become transitions, since every logical queue shares one HAL queue.
// Activations transition from undefined contents.
func (c *CommandBuffer) Barriers(barriers []backend.Barrier) {
	if !c.record("barriers") {
		return
	}
	var texs []hal.TextureBarrier
	var bufs []hal.BufferBarrier
	for _, b := range barriers {
		before := b.Before
		switch b.Kind {
		case backend.BarrierRelease:
			continue
		case backend.BarrierActivate:
			before = backend.UsageNone
		}

		if b.Texture != nil {
			t, ok := c.texture(b.Texture)
			if !ok {
				continue
			}
			after := textureUsage(b.After)
			if after == 0 {
				// Present: the HAL transitions the image itself.
				continue
			}
			texs = append(texs, hal.TextureBarrier{
				Texture: t.raw,
				Range:   fullRange(t.desc),
				Usage:   hal.TextureUsageTransition{OldUsage: textureUsage(before), NewUsage: after},
			})
			continue
		}
		if b.Buffer != nil {
			buf, ok := c.buffer(b.Buffer)
			if !ok {
				continue
			}
			bufs = append(bufs, hal.BufferBarrier{
				Buffer: buf.raw,
				Usage:  hal.BufferUsageTransition{OldUsage: bufferUsage(before), NewUsage: bufferUsage(b.After)},
			})
		}
	}
	if len(texs) > 0 {
		c.enc.TransitionTextures(texs)
	}
	if len(bufs) > 0 {
		c.enc.TransitionBuffers(bufs)
	}
}

// ClearBuffer zeroes a buffer range.
func (c *CommandBuffer) ClearBuffer(buf backend.Buffer, offset, size uint64) {
	if !c.record("clear buffer") {
		return
	}
	if b, ok := c.buffer(buf); ok {
		c.enc.ClearBuffer(b.raw, offset, size)
	}
}

// CopyBuffer copies between buffers.
func (c *CommandBuffer) CopyBuffer(src, dst backend.Buffer, srcOffset, dstOffset, size uint64) {
	if !c.record("copy buffer") {
		return
	}
	s, ok1 := c.buffer(src)
	d, ok2 := c.buffer(dst)
	if !ok1 || !ok2 {
		return
	}
	c.enc.CopyBufferToBuffer(s.raw, d.raw, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
}

// CopyTexture copies the first mip level of src to dst.
func (c *CommandBuffer) CopyTexture(src, dst backend.Texture) {
	if !c.record("copy texture") {
		return
	}
	s, ok1 := c.texture(src)
	d, ok2 := c.texture(dst)
	if !ok1 || !ok2 {
		return
	}
	c.enc.CopyTextureToTexture(s.raw, d.raw, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: s.raw, Aspect: gputypes.TextureAspectAll},
		DstBase: hal.ImageCopyTexture{Texture: d.raw, Aspect: gputypes.TextureAspectAll},
		Size: hal.Extent3D{
			Width:              min(s.desc.Width, d.desc.Width),
			Height:             min(s.desc.Height, d.desc.Height),
			DepthOrArrayLayers: min(s.desc.DepthOrArrayLayers, d.desc.DepthOrArrayLayers),
		},
	}})
}

// BeginRenderPass starts a HAL render pass. An undefined load op loads.
func (c *CommandBuffer) BeginRenderPass(desc backend.RenderPassDesc) (backend.RenderPassEncoder, error) {
	if !c.record("render pass") {
		return nil, c.err
	}
	if c.queue != backend.QueueGraphics {
		return nil, fmt.Errorf("%w: render pass %q on %s queue", backend.ErrUnsupported, desc.Label, c.queue)
	}

	rp := &hal.RenderPassDescriptor{Label: desc.Label}
	for _, a := range desc.Color {
		t, ok := c.texture(a.Texture)
		if !ok {
			return nil, c.err
		}
		rp.ColorAttachments = append(rp.ColorAttachments, hal.RenderPassColorAttachment{
			View:       t.view,
			LoadOp:     loadOp(a.Load),
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: a.Clear,
		})
	}
	if a := desc.Depth; a != nil {
		t, ok := c.texture(a.Texture)
		if !ok {
			return nil, c.err
		}
		rp.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            t.view,
			DepthLoadOp:     loadOp(a.Load),
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: a.ClearDepth,
			DepthReadOnly:   a.ReadOnly,
		}
	}
	return &renderPass{raw: c.enc.BeginRenderPass(rp)}, nil
}

func loadOp(op gputypes.LoadOp) gputypes.LoadOp {
	if op == gputypes.LoadOpUndefined {
		return gputypes.LoadOpLoad
	}
	return op
}

// BeginComputePass starts a HAL compute pass.
func (c *CommandBuffer) BeginComputePass(label string) (backend.ComputePassEncoder, error) {
	if !c.record("compute pass") {
		return nil, c.err
	}
	if c.queue == backend.QueueCopy {
		return nil, fmt.Errorf("%w: compute pass %q on copy queue", backend.ErrUnsupported, label)
	}
	return &computePass{raw: c.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: label})}, nil
}

// End finishes encoding. It returns the first recording error, leaving the
// buffer to be discarded.
func (c *CommandBuffer) End() error {
	if c.state != stateRecording {
		return fmt.Errorf("%w: end %q while %s", backend.ErrNotRecording, c.label, c.state)
	}
	if c.err != nil {
		return c.err
	}
	raw, err := c.enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end %q: %w", c.label, mapError(err))
	}
	c.raw = raw
	c.state = stateEnded
	return nil
}

// Discard abandons the recording and makes the buffer reusable.
func (c *CommandBuffer) Discard() {
	if c.state == stateRecording {
		c.enc.DiscardEncoding()
	}
	if c.state == stateRecording || c.state == stateEnded {
		if c.raw != nil {
			c.enc.ResetAll([]hal.CommandBuffer{c.raw})
			c.raw = nil
		}
		c.state = stateIdle
	}
	c.err = nil
}

// Native returns the hal.CommandEncoder.
func (c *CommandBuffer) Native() any { return c.enc }

type renderPass struct {
	raw hal.RenderPassEncoder
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.raw.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

// Native returns the hal.RenderPassEncoder.
func (p *renderPass) Native() any { return p.raw }

func (p *renderPass) End() { p.raw.End() }

type computePass struct {
	raw hal.ComputePassEncoder
}

func (p *computePass) Dispatch(x, y, z uint32) { p.raw.Dispatch(x, y, z) }

// Native returns the hal.ComputePassEncoder.
func (p *computePass) Native() any { return p.raw }

func (p *computePass) End() { p.raw.End() }
