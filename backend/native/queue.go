package native

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/internal/logging"
)

// Queue is a logical queue over the device's single HAL queue.
type Queue struct {
	dev *Device
	typ backend.QueueType
}

var _ backend.Queue = (*Queue)(nil)

// Type returns the queue type.
func (q *Queue) Type() backend.QueueType { return q.typ }

// Submit submits ended command buffers. The HAL queue executes
// submissions in order, so waits only need to name submitted work.
func (q *Queue) Submit(cmds []backend.CommandBuffer, waits []backend.Token) (backend.Token, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return backend.Token{}, err
	}

	for _, w := range waits {
		if w.Value() > d.submitted {
			return backend.Token{}, fmt.Errorf("%w: wait on unsubmitted %s", backend.ErrInvalidDescriptor, w)
		}
	}

	raws := make([]hal.CommandBuffer, 0, len(cmds))
	owned := make([]*CommandBuffer, 0, len(cmds))
	for _, cb := range cmds {
		c, ok := cb.(*CommandBuffer)
		switch {
		case !ok || c.dev != d:
			return backend.Token{}, fmt.Errorf("%w: foreign command buffer %T", backend.ErrInvalidDescriptor, cb)
		case c.queue != q.typ:
			return backend.Token{}, fmt.Errorf("%w: %q recorded for %s, submitted to %s",
				backend.ErrInvalidDescriptor, c.label, c.queue, q.typ)
		case c.state == stateSubmitted:
			return backend.Token{}, fmt.Errorf("%w: %q submitted twice", backend.ErrInvalidDescriptor, c.label)
		case c.state != stateEnded:
			return backend.Token{}, fmt.Errorf("%w: %q is %s", backend.ErrNotRecording, c.label, c.state)
		}
		raws = append(raws, c.raw)
		owned = append(owned, c)
	}

	index, err := d.queue.Submit(raws)
	if err != nil {
		return backend.Token{}, fmt.Errorf("native: submit to %s: %w", q.typ, d.check(err))
	}
	for _, c := range owned {
		c.state = stateSubmitted
	}
	d.submitted = max(d.submitted, index)
	d.submissions++

	logging.Logger().Debug("native: submitted",
		"queue", q.typ, "buffers", len(raws), "waits", len(waits), "index", index)
	return backend.NewToken(q.typ, index), nil
}

// Completed reports whether the HAL queue has finished t. Work on a lost
// or destroyed device never runs and counts as completed.
func (q *Queue) Completed(t backend.Token) bool {
	if t.IsZero() {
		return true
	}
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost || d.destroyed {
		return true
	}
	return d.queue.PollCompleted() >= t.Value()
}

// Present presents a swapchain image. Only the graphics queue presents.
func (q *Queue) Present(img backend.SwapchainImage) error {
	if q.typ != backend.QueueGraphics {
		return fmt.Errorf("%w: present on %s queue", backend.ErrUnsupported, q.typ)
	}
	im, ok := img.(*image)
	if !ok || im.sc.dev != q.dev {
		return fmt.Errorf("%w: foreign swapchain image %T", backend.ErrInvalidDescriptor, img)
	}

	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}
	if im.done {
		return fmt.Errorf("%w: swapchain image presented twice", backend.ErrInvalidDescriptor)
	}
	im.done = true
	defer im.tex.release()

	if err := d.queue.Present(im.sc.surface, im.raw, nil); err != nil {
		return fmt.Errorf("native: present: %w", d.check(err))
	}
	d.presents++
	return nil
}
