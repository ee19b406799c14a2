package software

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
)

func newDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d := Open(backend.Config{Label: t.Name(), AsyncQueues: true}, opts...)
	t.Cleanup(d.Destroy)
	return d
}

func mustQueue(t *testing.T, d *Device, q backend.QueueType) backend.Queue {
	t.Helper()
	queue, err := d.Queue(q)
	if err != nil {
		t.Fatalf("Queue(%s) error = %v", q, err)
	}
	return queue
}

func mustBuffer(t *testing.T, d *Device, label string, size uint64, p *backend.Placement) backend.Buffer {
	t.Helper()
	b, err := d.CreateBuffer(backend.BufferDesc{Label: label, Size: size}, p)
	if err != nil {
		t.Fatalf("CreateBuffer(%q) error = %v", label, err)
	}
	return b
}

// submit records fn into a fresh command buffer on q and submits it.
func submit(t *testing.T, d *Device, q backend.QueueType, waits []backend.Token, fn func(cb backend.CommandBuffer)) backend.Token {
	t.Helper()
	cb, err := d.CreateCommandBuffer(q, t.Name())
	if err != nil {
		t.Fatal(err)
	}
	err = backend.Record(cb, func(cb backend.CommandBuffer) error {
		fn(cb)
		return nil
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	tok, err := mustQueue(t, d, q).Submit([]backend.CommandBuffer{cb}, waits)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return tok
}

func expectClean(t *testing.T, d *Device) {
	t.Helper()
	for _, v := range d.Violations() {
		t.Error(v)
	}
}

func expectViolation(t *testing.T, d *Device) {
	t.Helper()
	vs := d.Violations()
	if len(vs) == 0 {
		t.Fatal("expected a validation violation, got none")
	}
	if !errors.Is(vs[0], ErrValidation) {
		t.Errorf("violation %v does not wrap ErrValidation", vs[0])
	}
	d.Reset()
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendSoftware) {
		t.Fatal("software backend not registered")
	}
	dev, err := backend.Open(backend.BackendSoftware, backend.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Destroy()
	caps := dev.Capabilities()
	if !caps.HasQueue(backend.QueueGraphics) || caps.HasQueue(backend.QueueCompute) || !caps.PlacedResources {
		t.Errorf("Capabilities() = %+v", caps)
	}
	if dev.Swapchain() != nil {
		t.Error("headless device should have no swapchain")
	}
	if _, err := dev.Queue(backend.QueueCompute); !errors.Is(err, backend.ErrUnsupported) {
		t.Errorf("Queue(compute) error = %v", err)
	}
}

func TestBarrierTracking(t *testing.T) {
	d := newDevice(t, WithLatency(0))
	src := mustBuffer(t, d, "src", 256, nil)
	dst := mustBuffer(t, d, "dst", 256, nil)
	if err := d.WriteBuffer(src, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	d.SetState(src, backend.UsageCopySrc, backend.QueueGraphics)

	submit(t, d, backend.QueueGraphics, nil, func(cb backend.CommandBuffer) {
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierActivate, Buffer: dst, After: backend.UsageCopyDst}})
		cb.CopyBuffer(src, dst, 0, 0, 4)
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierTransition, Buffer: dst, Before: backend.UsageCopyDst, After: backend.UsageVertex}})
	})
	expectClean(t, d)
	if got := d.Contents(dst)[:4]; string(got) != "\x01\x02\x03\x04" {
		t.Errorf("dst = %v", got)
	}
	if u, q, ok := d.State(dst); u != backend.UsageVertex || q != backend.QueueGraphics || !ok {
		t.Errorf("State(dst) = %s, %s, %v", u, q, ok)
	}

	tests := []struct {
		name string
		fn   func(cb backend.CommandBuffer)
	}{
		{"wrong before state", func(cb backend.CommandBuffer) {
			cb.Barriers([]backend.Barrier{{Kind: backend.BarrierTransition, Buffer: dst, Before: backend.UsageCopyDst, After: backend.UsageCopySrc}})
		}},
		{"missing transition", func(cb backend.CommandBuffer) {
			cb.ClearBuffer(dst, 0, 16)
		}},
		{"ordering changes usage", func(cb backend.CommandBuffer) {
			cb.Barriers([]backend.Barrier{{Kind: backend.BarrierOrdering, Buffer: dst, Before: backend.UsageVertex, After: backend.UsageIndex}})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submit(t, d, backend.QueueGraphics, nil, tt.fn)
			expectViolation(t, d)
		})
	}
}

func TestQueueOwnershipTransfer(t *testing.T) {
	d := newDevice(t, WithLatency(0))
	buf := mustBuffer(t, d, "shared", 1024, nil)
	release := backend.Barrier{Kind: backend.BarrierRelease, Buffer: buf, Before: backend.UsageStorageWrite, After: backend.UsageStorageRead, SrcQueue: backend.QueueCompute, DstQueue: backend.QueueGraphics}
	acquire := release
	acquire.Kind = backend.BarrierAcquire

	produce := func() backend.Token {
		return submit(t, d, backend.QueueCompute, nil, func(cb backend.CommandBuffer) {
			cb.Barriers([]backend.Barrier{{Kind: backend.BarrierActivate, Buffer: buf, After: backend.UsageStorageWrite, DstQueue: backend.QueueCompute}})
			cb.Barriers([]backend.Barrier{release})
		})
	}

	t.Run("with wait", func(t *testing.T) {
		tok := produce()
		submit(t, d, backend.QueueGraphics, []backend.Token{tok}, func(cb backend.CommandBuffer) {
			cb.Barriers([]backend.Barrier{acquire})
		})
		expectClean(t, d)
		if u, q, ok := d.State(buf); u != backend.UsageStorageRead || q != backend.QueueGraphics || !ok {
			t.Errorf("State() = %s, %s, %v", u, q, ok)
		}
	})
	t.Run("without wait", func(t *testing.T) {
		produce()
		submit(t, d, backend.QueueGraphics, nil, func(cb backend.CommandBuffer) {
			cb.Barriers([]backend.Barrier{acquire})
		})
		expectViolation(t, d)
	})
	t.Run("use while in transit", func(t *testing.T) {
		produce()
		submit(t, d, backend.QueueCompute, nil, func(cb backend.CommandBuffer) {
			cb.ClearBuffer(buf, 0, 4)
		})
		expectViolation(t, d)
	})
}

func TestAliasingClobbers(t *testing.T) {
	d := newDevice(t, WithLatency(0))
	heap, err := d.CreateHeap(1<<16, "arena")
	if err != nil {
		t.Fatal(err)
	}
	a := mustBuffer(t, d, "a", 512, &backend.Placement{Heap: heap})
	b := mustBuffer(t, d, "b", 512, &backend.Placement{Heap: heap})

	submit(t, d, backend.QueueGraphics, nil, func(cb backend.CommandBuffer) {
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierActivate, Buffer: a, After: backend.UsageCopyDst}})
		cb.ClearBuffer(a, 0, 512)
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierActivate, Buffer: b, After: backend.UsageCopyDst}})
		cb.ClearBuffer(a, 0, 512)
	})
	expectViolation(t, d)

	if _, err := d.CreateBuffer(backend.BufferDesc{Label: "misaligned", Size: 16}, &backend.Placement{Heap: heap, Offset: 3}); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("misaligned placement: %v", err)
	}
	if _, err := d.CreateBuffer(backend.BufferDesc{Label: "overflow", Size: 1 << 17}, &backend.Placement{Heap: heap}); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("overflowing placement: %v", err)
	}

	d.DestroyHeap(heap)
	expectViolation(t, d)
}

func TestLatencyAndWaits(t *testing.T) {
	d := newDevice(t, WithLatency(2))
	gfx := mustQueue(t, d, backend.QueueGraphics)

	tok := submit(t, d, backend.QueueGraphics, nil, func(backend.CommandBuffer) {})
	dep := submit(t, d, backend.QueueCompute, []backend.Token{tok}, func(backend.CommandBuffer) {})
	if gfx.Completed(tok) {
		t.Fatal("completed after one poll with latency 2")
	}
	if !gfx.Completed(tok) {
		t.Fatal("not completed after two polls")
	}
	if !gfx.Completed(dep) {
		t.Error("dependent work should complete once its wait completed")
	}
	if st := d.Stats(); st.InFlight != 0 || st.Submissions != 2 {
		t.Errorf("Stats() = %s", st)
	}
}

func TestInFlightLifetime(t *testing.T) {
	d := newDevice(t, WithLatency(5))
	buf := mustBuffer(t, d, "buf", 256, nil)
	cb, _ := d.CreateCommandBuffer(backend.QueueGraphics, "frame")
	_ = backend.Record(cb, func(cb backend.CommandBuffer) error {
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierActivate, Buffer: buf, After: backend.UsageCopyDst}})
		return nil
	})
	if _, err := mustQueue(t, d, backend.QueueGraphics).Submit([]backend.CommandBuffer{cb}, nil); err != nil {
		t.Fatal(err)
	}

	d.FreeCommandBuffer(cb)
	expectViolation(t, d)
	d.DestroyBuffer(buf)
	expectViolation(t, d)

	if err := d.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	other := mustBuffer(t, d, "other", 256, nil)
	d.DestroyBuffer(other)
	expectClean(t, d)
}

func TestMemoryLimit(t *testing.T) {
	d := newDevice(t, WithMemoryLimit(1<<20))
	if _, err := d.CreateHeap(1<<19, "half"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateHeap(1<<20, "too big"); !errors.Is(err, backend.ErrOutOfDeviceMemory) {
		t.Errorf("CreateHeap() error = %v, want ErrOutOfDeviceMemory", err)
	}
}

func TestRecordingErrors(t *testing.T) {
	d := newDevice(t)
	cb, _ := d.CreateCommandBuffer(backend.QueueCompute, "compute")
	err := backend.Record(cb, func(cb backend.CommandBuffer) error {
		_, err := cb.BeginRenderPass(backend.RenderPassDesc{Label: "draw"})
		return err
	})
	if !errors.Is(err, backend.ErrUnsupported) {
		t.Errorf("render pass on compute: %v", err)
	}
	if _, err := mustQueue(t, d, backend.QueueCompute).Submit([]backend.CommandBuffer{cb}, nil); !errors.Is(err, backend.ErrNotRecording) {
		t.Errorf("submit of discarded buffer: %v", err)
	}

	copyCB, _ := d.CreateCommandBuffer(backend.QueueCopy, "copy")
	if _, err := mustQueue(t, d, backend.QueueGraphics).Submit([]backend.CommandBuffer{copyCB}, nil); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("submit to wrong queue: %v", err)
	}
}

func TestSwapchain(t *testing.T) {
	d := Open(backend.Config{Width: 4, Height: 2, SwapchainFormat: gputypes.TextureFormatRGBA8Unorm}, WithLatency(0), WithImageCount(2))
	defer d.Destroy()
	sc := d.Swapchain().(*Swapchain)

	img, err := sc.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	tex := img.Texture()
	submit(t, d, backend.QueueGraphics, nil, func(cb backend.CommandBuffer) {
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierActivate, Texture: tex, After: backend.UsageColorTarget}})
		rp, err := cb.BeginRenderPass(backend.RenderPassDesc{
			Label: "clear",
			Color: []backend.ColorAttachment{{Texture: tex, Load: gputypes.LoadOpClear, Clear: gputypes.Color{R: 1, A: 1}}},
		})
		if err != nil {
			t.Fatal(err)
		}
		rp.Draw(3, 1, 0, 0)
		rp.End()
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierTransition, Texture: tex, Before: backend.UsageColorTarget, After: backend.UsagePresent}})
	})
	if err := mustQueue(t, d, backend.QueueGraphics).Present(img); err != nil {
		t.Fatal(err)
	}
	expectClean(t, d)
	if px := sc.Presented(0)[:4]; px[0] != 255 || px[1] != 0 || px[3] != 255 {
		t.Errorf("presented pixel = %v", px)
	}

	sc.Invalidate()
	if _, err := sc.Acquire(); !errors.Is(err, backend.ErrSurfaceOutdated) {
		t.Errorf("Acquire() after Invalidate error = %v", err)
	}
	if err := sc.Configure(8, 8); err != nil {
		t.Fatal(err)
	}
	if w, h := sc.Extent(); w != 8 || h != 8 {
		t.Errorf("Extent() = %dx%d", w, h)
	}

	a, _ := sc.Acquire()
	b, _ := sc.Acquire()
	if _, err := sc.Acquire(); err == nil {
		t.Error("acquiring more images than exist should fail")
	}
	a.Discard()
	b.Discard()

	d.Lose()
	if _, err := d.CreateCommandBuffer(backend.QueueGraphics, "late"); !errors.Is(err, backend.ErrDeviceLost) {
		t.Errorf("after Lose: %v", err)
	}
}
