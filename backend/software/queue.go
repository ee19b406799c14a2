package software

import (
	"fmt"

	"github.com/gogpu/framegraph/backend"
)

// submission is a pending queue submission.
type submission struct {
	ref   submissionRef
	waits []backend.Token
	ready uint64
}

// Queue is a software queue. Work executes at Submit; completion is
// reported after the device latency has elapsed and every waited
// submission has completed.
type Queue struct {
	dev       *Device
	typ       backend.QueueType
	submitted uint64
	completed uint64
}

var _ backend.Queue = (*Queue)(nil)

// Type returns the queue type.
func (q *Queue) Type() backend.QueueType { return q.typ }

// Submit executes cmds in order and returns a completion token.
func (q *Queue) Submit(cmds []backend.CommandBuffer, waits []backend.Token) (backend.Token, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return backend.Token{}, backend.ErrDestroyed
	}
	if d.lost {
		return backend.Token{}, backend.ErrDeviceLost
	}

	bufs := make([]*CommandBuffer, len(cmds))
	for i, c := range cmds {
		cb, ok := c.(*CommandBuffer)
		switch {
		case !ok || cb == nil || cb.dev != d:
			return backend.Token{}, fmt.Errorf("%w: foreign command buffer", backend.ErrInvalidDescriptor)
		case cb.queue != q.typ:
			return backend.Token{}, fmt.Errorf("%w: %s command buffer %q submitted to %s queue",
				backend.ErrInvalidDescriptor, cb.queue, cb.label, q.typ)
		case cb.recording || !cb.ended:
			return backend.Token{}, fmt.Errorf("%w: %q", backend.ErrNotRecording, cb.label)
		case cb.submitted || cb.freed:
			return backend.Token{}, fmt.Errorf("%w: command buffer %q submitted twice", backend.ErrInvalidDescriptor, cb.label)
		}
		bufs[i] = cb
	}
	for _, w := range waits {
		if w.Queue() == q.typ {
			d.violateLocked("%s submission waits on its own queue %s", q.typ, w)
		}
		if src := d.queues[w.Queue()]; src == nil || w.Value() > src.submitted {
			d.violateLocked("%s submission waits on unsubmitted %s", q.typ, w)
		}
	}

	q.submitted++
	d.submissions++
	ref := submissionRef{queue: q.typ, value: q.submitted}
	for _, cb := range bufs {
		cb.submitted, cb.sub = true, ref
		r := &replay{dev: d, queue: q.typ, sub: ref, waits: waits, cb: cb}
		for _, cmd := range cb.cmds {
			cmd(r)
		}
	}
	s := &submission{ref: ref, waits: append([]backend.Token(nil), waits...), ready: d.tick + d.latency}
	if d.latency == 0 && d.waitsCompletedLocked(s) {
		d.completeLocked(s)
	} else {
		d.pending = append(d.pending, s)
	}
	return backend.NewToken(q.typ, ref.value), nil
}

// Completed advances simulated time by one step and reports whether the
// work behind t has finished.
func (q *Queue) Completed(t backend.Token) bool {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked()
	return d.completedLocked(submissionRef{queue: t.Queue(), value: t.Value()})
}

// Present presents an acquired swapchain image. The image must have been
// left in backend.UsagePresent on this queue.
func (q *Queue) Present(img backend.SwapchainImage) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return backend.ErrDeviceLost
	}
	if q.typ != backend.QueueGraphics {
		return fmt.Errorf("%w: present on %s queue", backend.ErrUnsupported, q.typ)
	}
	im, ok := img.(*image)
	if !ok || im == nil || d.swapchain == nil || im.sc != d.swapchain {
		return fmt.Errorf("%w: foreign swapchain image", backend.ErrInvalidDescriptor)
	}
	if im.done {
		return fmt.Errorf("%w: swapchain image %d presented twice", backend.ErrInvalidDescriptor, im.index)
	}
	if im.generation != d.swapchain.generation {
		return backend.ErrSurfaceOutdated
	}
	st := im.tex.state
	if !st.valid || st.inTransit || st.usage != backend.UsagePresent || st.queue != q.typ {
		d.violateLocked("present of %q in state %s on %s (valid=%v)", im.tex.label, st.usage, st.queue, st.valid)
	}
	im.done = true
	d.swapchain.acquired[im.index] = false
	d.presents++
	d.logLocked(Command{Queue: q.typ, Op: "present", Resource: im.tex.label})
	return nil
}

// advanceLocked completes pending submissions whose latency elapsed, in
// submission order per queue.
func (d *Device) advanceLocked() {
	d.tick++
	for progress := true; progress; {
		progress = false
		var blocked [backend.NumQueueTypes]bool
		kept := d.pending[:0]
		for _, s := range d.pending {
			if !blocked[s.ref.queue] && d.tick >= s.ready && d.waitsCompletedLocked(s) {
				d.completeLocked(s)
				progress = true
				continue
			}
			blocked[s.ref.queue] = true
			kept = append(kept, s)
		}
		d.pending = kept
	}
}

func (d *Device) waitsCompletedLocked(s *submission) bool {
	for _, w := range s.waits {
		if !d.completedLocked(submissionRef{queue: w.Queue(), value: w.Value()}) {
			return false
		}
	}
	return true
}

func (d *Device) completeLocked(s *submission) {
	q := d.queues[s.ref.queue]
	q.completed = max(q.completed, s.ref.value)
}

// completedLocked reports whether a submission has finished.
func (d *Device) completedLocked(s submissionRef) bool {
	if s.value == 0 {
		return true
	}
	q := d.queues[s.queue]
	return q != nil && q.completed >= s.value
}
