package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
)

// CommandBuffer records commands as closures replayed at submission.
type CommandBuffer struct {
	dev   *Device
	queue backend.QueueType
	label string

	recording bool
	ended     bool
	err       error
	cmds      []func(*replay)

	submitted bool
	sub       submissionRef
	freed     bool
}

var _ backend.CommandBuffer = (*CommandBuffer)(nil)

// Queue returns the queue type the buffer records for.
func (cb *CommandBuffer) Queue() backend.QueueType { return cb.queue }

// Label returns the debug label.
func (cb *CommandBuffer) Label() string { return cb.label }

// Native returns the command buffer itself.
func (cb *CommandBuffer) Native() any { return cb }

// Begin starts recording.
func (cb *CommandBuffer) Begin() error {
	if cb.recording {
		return fmt.Errorf("software: command buffer %q already recording", cb.label)
	}
	if cb.submitted || cb.freed {
		return fmt.Errorf("%w: command buffer %q reused", backend.ErrInvalidDescriptor, cb.label)
	}
	cb.recording, cb.ended, cb.err, cb.cmds = true, false, nil, nil
	return nil
}

// End finishes recording and reports the first recording error.
func (cb *CommandBuffer) End() error {
	if !cb.recording {
		return fmt.Errorf("%w: %q", backend.ErrNotRecording, cb.label)
	}
	cb.recording = false
	if cb.err != nil {
		cb.cmds = nil
		return cb.err
	}
	cb.ended = true
	return nil
}

// Discard abandons the recording.
func (cb *CommandBuffer) Discard() {
	cb.recording, cb.ended, cb.cmds = false, false, nil
}

func (cb *CommandBuffer) record(op string, fn func(*replay)) {
	if !cb.recording {
		if cb.err == nil {
			cb.err = fmt.Errorf("%w: %s on %q", backend.ErrNotRecording, op, cb.label)
		}
		return
	}
	cb.cmds = append(cb.cmds, fn)
}

// Barriers records synchronization instructions.
func (cb *CommandBuffer) Barriers(barriers []backend.Barrier) {
	for _, b := range barriers {
		cb.record("barrier", func(r *replay) { r.barrier(b) })
	}
}

// ClearBuffer zeroes size bytes of buf starting at offset.
func (cb *CommandBuffer) ClearBuffer(buf backend.Buffer, offset, size uint64) {
	cb.record("clear-buffer", func(r *replay) {
		b := r.buffer(buf)
		if b == nil || !r.use(&b.resource, backend.UsageCopyDst, "clear-buffer") {
			return
		}
		if offset+size > b.size {
			r.dev.violateLocked("clear of %d bytes at %d overflows %q", size, offset, b.label)
			return
		}
		clear(b.bytes()[offset : offset+size])
		r.log("clear-buffer", b.label, fmt.Sprintf("offset=%d size=%d", offset, size))
	})
}

// CopyBuffer copies size bytes between buffers.
func (cb *CommandBuffer) CopyBuffer(src, dst backend.Buffer, srcOffset, dstOffset, size uint64) {
	cb.record("copy-buffer", func(r *replay) {
		s, d := r.buffer(src), r.buffer(dst)
		if s == nil || d == nil {
			return
		}
		okSrc := r.use(&s.resource, backend.UsageCopySrc, "copy-buffer")
		okDst := r.use(&d.resource, backend.UsageCopyDst, "copy-buffer")
		if !okSrc || !okDst {
			return
		}
		if srcOffset+size > s.size || dstOffset+size > d.size {
			r.dev.violateLocked("copy of %d bytes from %q to %q out of bounds", size, s.label, d.label)
			return
		}
		copy(d.bytes()[dstOffset:dstOffset+size], s.bytes()[srcOffset:srcOffset+size])
		r.log("copy-buffer", s.label+" -> "+d.label, fmt.Sprintf("size=%d", size))
	})
}

// CopyTexture copies the first mip level of src to dst.
func (cb *CommandBuffer) CopyTexture(src, dst backend.Texture) {
	cb.record("copy-texture", func(r *replay) {
		s, d := r.texture(src), r.texture(dst)
		if s == nil || d == nil {
			return
		}
		okSrc := r.use(&s.resource, backend.UsageCopySrc, "copy-texture")
		okDst := r.use(&d.resource, backend.UsageCopyDst, "copy-texture")
		if !okSrc || !okDst {
			return
		}
		if s.desc.Format != d.desc.Format {
			r.dev.violateLocked("copy between %s %q and %s %q", s.desc.Format, s.label, d.desc.Format, d.label)
			return
		}
		copy(d.bytes(), s.bytes())
		r.log("copy-texture", s.label+" -> "+d.label, "")
	})
}

// BeginRenderPass starts a render pass on a graphics command buffer.
func (cb *CommandBuffer) BeginRenderPass(desc backend.RenderPassDesc) (backend.RenderPassEncoder, error) {
	if cb.queue != backend.QueueGraphics {
		return nil, fmt.Errorf("%w: render pass on %s queue", backend.ErrUnsupported, cb.queue)
	}
	if !cb.recording {
		return nil, fmt.Errorf("%w: render pass %q", backend.ErrNotRecording, desc.Label)
	}
	cb.record("begin-render-pass", func(r *replay) {
		for _, ca := range desc.Color {
			t := r.texture(ca.Texture)
			if t == nil || !r.use(&t.resource, backend.UsageColorTarget, "render-pass") {
				continue
			}
			if ca.Load == gputypes.LoadOpClear {
				fillColor(t, ca.Clear)
			}
		}
		if ds := desc.Depth; ds != nil {
			need := backend.UsageDepthWrite
			if ds.ReadOnly {
				need = backend.UsageDepthRead
			}
			if t := r.texture(ds.Texture); t != nil && r.use(&t.resource, need, "render-pass") && ds.Load == gputypes.LoadOpClear && !ds.ReadOnly {
				clear(t.bytes())
			}
		}
		r.log("begin-render-pass", desc.Label, fmt.Sprintf("colors=%d", len(desc.Color)))
	})
	return &renderPass{cb: cb, label: desc.Label}, nil
}

// BeginComputePass starts a compute pass. Copy command buffers cannot
// dispatch.
func (cb *CommandBuffer) BeginComputePass(label string) (backend.ComputePassEncoder, error) {
	if cb.queue == backend.QueueCopy {
		return nil, fmt.Errorf("%w: compute pass on copy queue", backend.ErrUnsupported)
	}
	if !cb.recording {
		return nil, fmt.Errorf("%w: compute pass %q", backend.ErrNotRecording, label)
	}
	cb.record("begin-compute-pass", func(r *replay) { r.log("begin-compute-pass", label, "") })
	return &computePass{cb: cb, label: label}, nil
}

type renderPass struct {
	cb    *CommandBuffer
	label string
	ended bool
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.cb.record("draw", func(r *replay) {
		r.log("draw", p.label, fmt.Sprintf("vertices=%d instances=%d", vertexCount, instanceCount))
	})
}

func (p *renderPass) Native() any { return p.cb }

func (p *renderPass) End() {
	if p.ended {
		return
	}
	p.ended = true
	p.cb.record("end-render-pass", func(r *replay) { r.log("end-render-pass", p.label, "") })
}

type computePass struct {
	cb    *CommandBuffer
	label string
	ended bool
}

func (p *computePass) Dispatch(x, y, z uint32) {
	p.cb.record("dispatch", func(r *replay) {
		r.log("dispatch", p.label, fmt.Sprintf("%dx%dx%d", x, y, z))
	})
}

func (p *computePass) Native() any { return p.cb }

func (p *computePass) End() {
	if p.ended {
		return
	}
	p.ended = true
	p.cb.record("end-compute-pass", func(r *replay) { r.log("end-compute-pass", p.label, "") })
}

// replay executes one command buffer at submission under the device lock.
type replay struct {
	dev   *Device
	queue backend.QueueType
	sub   submissionRef
	waits []backend.Token
	cb    *CommandBuffer
}

func (r *replay) log(op, res, detail string) {
	r.dev.logLocked(Command{Queue: r.queue, Buffer: r.cb.label, Op: op, Resource: res, Detail: detail})
}

func (r *replay) texture(t backend.Texture) *Texture {
	tex, ok := t.(*Texture)
	if !ok || tex == nil || tex.dev != r.dev {
		r.dev.violateLocked("%q uses a foreign texture %T", r.cb.label, t)
		return nil
	}
	return tex
}

func (r *replay) buffer(b backend.Buffer) *Buffer {
	buf, ok := b.(*Buffer)
	if !ok || buf == nil || buf.dev != r.dev {
		r.dev.violateLocked("%q uses a foreign buffer %T", r.cb.label, b)
		return nil
	}
	return buf
}

// alive reports whether res can be touched by commands at all.
func (r *replay) alive(res *resource, op string) bool {
	if res.destroyed {
		r.dev.violateLocked("%s on destroyed %q", op, res.label)
		return false
	}
	res.lastUse = r.sub
	return true
}

// owned checks that res is defined, resident on this queue and not in transit.
func (r *replay) owned(res *resource, op string) bool {
	st := &res.state
	switch {
	case !st.valid:
		r.dev.violateLocked("%s on %q whose contents are undefined", op, res.label)
	case st.inTransit:
		r.dev.violateLocked("%s on %q while it transfers to %s", op, res.label, st.transferTo)
	case st.queue != r.queue:
		r.dev.violateLocked("%s on %s of %q owned by %s", op, r.queue, res.label, st.queue)
	default:
		return true
	}
	return false
}

// use checks that a command may access res with usage need.
func (r *replay) use(res *resource, need backend.Usage, op string) bool {
	if !r.alive(res, op) || !r.owned(res, op) {
		return false
	}
	if res.state.usage&need == 0 {
		r.dev.violateLocked("%s uses %q as %s but it is in state %s", op, res.label, need, res.state.usage)
		return false
	}
	return true
}

// expect checks that res is in usage before a barrier changes it.
func (r *replay) expect(res *resource, usage backend.Usage, kind backend.BarrierKind) bool {
	if !r.owned(res, kind.String()) {
		return false
	}
	if res.state.usage != usage {
		r.dev.violateLocked("%s on %q expects %s but it is in state %s", kind, res.label, usage, res.state.usage)
		return false
	}
	return true
}

// waitsOn reports whether this submission waits on s.
func (r *replay) waitsOn(s submissionRef) bool {
	for _, w := range r.waits {
		if w.Queue() == s.queue && w.Value() >= s.value {
			return true
		}
	}
	return false
}

func (r *replay) barrier(b backend.Barrier) {
	var res *resource
	switch {
	case b.Texture != nil:
		if t := r.texture(b.Texture); t != nil {
			res = &t.resource
		}
	case b.Buffer != nil:
		if buf := r.buffer(b.Buffer); buf != nil {
			res = &buf.resource
		}
	default:
		r.dev.violateLocked("%s barrier without a resource", b.Kind)
	}
	if res == nil || !r.alive(res, b.Kind.String()) {
		return
	}
	st := &res.state

	switch b.Kind {
	case backend.BarrierActivate:
		if b.DstQueue != r.queue {
			r.dev.violateLocked("activate of %q for %s recorded on %s", res.label, b.DstQueue, r.queue)
		}
		r.clobber(res)
		*st = trackedState{valid: true, usage: b.After, queue: r.queue}
	case backend.BarrierTransition:
		if r.expect(res, b.Before, b.Kind) {
			st.usage = b.After
		}
	case backend.BarrierOrdering:
		if b.Before != b.After {
			r.dev.violateLocked("ordering barrier on %q changes usage %s -> %s", res.label, b.Before, b.After)
		}
		r.expect(res, b.Before, b.Kind)
	case backend.BarrierRelease:
		if b.SrcQueue != r.queue {
			r.dev.violateLocked("release of %q from %s recorded on %s", res.label, b.SrcQueue, r.queue)
			return
		}
		if r.expect(res, b.Before, b.Kind) {
			st.inTransit, st.transferTo, st.transferUsage, st.released = true, b.DstQueue, b.After, r.sub
		}
	case backend.BarrierAcquire:
		switch {
		case b.DstQueue != r.queue:
			r.dev.violateLocked("acquire of %q for %s recorded on %s", res.label, b.DstQueue, r.queue)
			return
		case !st.inTransit || st.transferTo != r.queue:
			r.dev.violateLocked("acquire of %q on %s without a matching release", res.label, r.queue)
			return
		case st.transferUsage != b.After:
			r.dev.violateLocked("acquire of %q as %s but released as %s", res.label, b.After, st.transferUsage)
		case !r.waitsOn(st.released):
			r.dev.violateLocked("acquire of %q on %s does not wait for release %s", res.label, r.queue, st.released)
		}
		*st = trackedState{valid: true, usage: b.After, queue: r.queue}
	}
	r.log(b.Kind.String(), res.label, fmt.Sprintf("%s -> %s", b.Before, b.After))
}

// clobber discards the contents of res and of every resource aliasing it.
func (r *replay) clobber(res *resource) {
	if res.heap != nil {
		for _, o := range res.heap.placed {
			if o != res && o.overlaps(res) {
				o.state.valid = false
			}
		}
	}
	b := res.bytes()
	for i := range b {
		b[i] = 0xcd
	}
}

// fillColor clears t to c for 8-bit RGBA formats and to zero otherwise.
func fillColor(t *Texture, c gputypes.Color) {
	b := t.bytes()
	unorm := func(v float64) byte { return byte(min(max(v, 0), 1)*255 + 0.5) }
	var px []byte
	switch t.desc.Format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		px = []byte{unorm(c.R), unorm(c.G), unorm(c.B), unorm(c.A)}
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		px = []byte{unorm(c.B), unorm(c.G), unorm(c.R), unorm(c.A)}
	default:
		clear(b)
		return
	}
	for i := 0; i+len(px) <= len(b); i += len(px) {
		copy(b[i:], px)
	}
}
