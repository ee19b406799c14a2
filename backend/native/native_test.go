package native

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/executor"
	"github.com/gogpu/framegraph/graph"
)

// openNoop opens a device on the no-op HAL and destroys it at cleanup.
func openNoop(t *testing.T, cfg backend.Config, opts ...Option) *Device {
	t.Helper()
	d, err := Open(cfg, append([]Option{WithHAL(noop.API{})}, opts...)...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

func colorDesc(label string) backend.TextureDesc {
	return backend.TextureDesc{
		Label:  label,
		Width:  64,
		Height: 64,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  backend.UsageColorTarget | backend.UsageSampled,
	}
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendNative) {
		t.Fatalf("native backend not registered: %v", backend.Available())
	}
	d, err := backend.Open(backend.BackendNative, backend.Config{Adapter: "noop"})
	if err != nil {
		t.Fatalf("backend.Open failed: %v", err)
	}
	defer d.Destroy()
	if d.Backend() != backend.BackendNative {
		t.Errorf("Backend() = %q", d.Backend())
	}
}

func TestSelectBackend(t *testing.T) {
	tests := []struct {
		name    string
		adapter string
		wantErr error
	}{
		{"noop", "noop", nil},
		{"unknown", "glide", backend.ErrBackendNotAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := selectBackend(tt.adapter)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("selectBackend(%q) error = %v, want %v", tt.adapter, err, tt.wantErr)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name  string
		async bool
		want  [backend.NumQueueTypes]bool
	}{
		{"graphics only", false, [backend.NumQueueTypes]bool{true, false, false}},
		{"async", true, [backend.NumQueueTypes]bool{true, true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := openNoop(t, backend.Config{AsyncQueues: tt.async})
			caps := d.Capabilities()
			if caps.Queues != tt.want {
				t.Errorf("Queues = %v, want %v", caps.Queues, tt.want)
			}
			if caps.PlacedResources {
				t.Error("PlacedResources = true")
			}
			if d.Info().Name != "Noop Adapter" {
				t.Errorf("Info().Name = %q", d.Info().Name)
			}
			if _, err := d.Queue(backend.QueueCopy); (err == nil) != tt.async {
				t.Errorf("Queue(copy) error = %v", err)
			}
		})
	}
}

func TestPlacementUnsupported(t *testing.T) {
	d := openNoop(t, backend.Config{})
	if _, err := d.CreateHeap(1<<20, "arena"); !errors.Is(err, backend.ErrUnsupported) {
		t.Errorf("CreateHeap error = %v, want ErrUnsupported", err)
	}
	_, err := d.CreateTexture(colorDesc("placed"), &backend.Placement{})
	if !errors.Is(err, backend.ErrUnsupported) {
		t.Errorf("CreateTexture error = %v, want ErrUnsupported", err)
	}
}

func TestInvalidDescriptor(t *testing.T) {
	d := openNoop(t, backend.Config{})
	desc := colorDesc("empty")
	desc.Width = 0
	if _, err := d.CreateTexture(desc, nil); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("CreateTexture error = %v, want ErrInvalidDescriptor", err)
	}
	if _, err := d.CreateBuffer(backend.BufferDesc{Label: "empty"}, nil); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("CreateBuffer error = %v, want ErrInvalidDescriptor", err)
	}
}

func TestRecycling(t *testing.T) {
	t.Run("reuses by descriptor", func(t *testing.T) {
		d := openNoop(t, backend.Config{})
		a, err := d.CreateTexture(colorDesc("a"), nil)
		if err != nil {
			t.Fatal(err)
		}
		d.DestroyTexture(a)

		b, err := d.CreateTexture(colorDesc("b"), nil)
		if err != nil {
			t.Fatal(err)
		}
		if b != a {
			t.Error("texture with equal descriptor was not recycled")
		}
		if b.Label() != "b" {
			t.Errorf("recycled Label() = %q, want b", b.Label())
		}

		other := colorDesc("c")
		other.Width = 32
		c, err := d.CreateTexture(other, nil)
		if err != nil {
			t.Fatal(err)
		}
		if c == b {
			t.Error("texture with different extent was recycled")
		}

		s := d.Stats()
		if s.Textures != 2 || s.IdleTextures.Hits != 1 {
			t.Errorf("Stats() = %v, want 2 live textures and 1 hit", s)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		d := openNoop(t, backend.Config{}, WithRecycleLimit(0))
		desc := backend.BufferDesc{Label: "scratch", Size: 1024, Usage: backend.UsageStorageWrite}
		a, err := d.CreateBuffer(desc, nil)
		if err != nil {
			t.Fatal(err)
		}
		d.DestroyBuffer(a)
		b, err := d.CreateBuffer(desc, nil)
		if err != nil {
			t.Fatal(err)
		}
		if a == b {
			t.Error("buffer recycled with zero limit")
		}
		if got := d.Stats().IdleBuffers.Evictions; got != 1 {
			t.Errorf("Evictions = %d, want 1", got)
		}
	})
}

func TestSubmit(t *testing.T) {
	d := openNoop(t, backend.Config{AsyncQueues: true})
	gfx, _ := d.Queue(backend.QueueGraphics)
	compute, _ := d.Queue(backend.QueueCompute)

	buf, err := d.CreateBuffer(backend.BufferDesc{Label: "data", Size: 256, Usage: backend.UsageCopyDst | backend.UsageStorageRead}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer d.DestroyBuffer(buf)
	if err := d.WriteBuffer(buf, 0, make([]byte, 128)); err != nil {
		t.Fatalf("WriteBuffer failed: %v", err)
	}
	if err := d.WriteBuffer(buf, 200, make([]byte, 128)); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("overflowing WriteBuffer error = %v", err)
	}

	cb, err := d.CreateCommandBuffer(backend.QueueGraphics, "clear")
	if err != nil {
		t.Fatal(err)
	}
	defer d.FreeCommandBuffer(cb)
	err = backend.Record(cb, func(cb backend.CommandBuffer) error {
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierActivate, Buffer: buf, After: backend.UsageCopyDst}})
		cb.ClearBuffer(buf, 0, 256)
		cb.Barriers([]backend.Barrier{{Kind: backend.BarrierTransition, Buffer: buf, Before: backend.UsageCopyDst, After: backend.UsageStorageRead}})
		return nil
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if _, err := compute.Submit([]backend.CommandBuffer{cb}, nil); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("submit to wrong queue error = %v", err)
	}
	future := backend.NewToken(backend.QueueGraphics, 99)
	if _, err := gfx.Submit([]backend.CommandBuffer{cb}, []backend.Token{future}); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("wait on unsubmitted work error = %v", err)
	}

	tok, err := gfx.Submit([]backend.CommandBuffer{cb}, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tok.IsZero() || tok.Queue() != backend.QueueGraphics {
		t.Errorf("token = %v", tok)
	}
	if !gfx.Completed(tok) {
		t.Error("no-op submission not completed")
	}
	if _, err := gfx.Submit([]backend.CommandBuffer{cb}, nil); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("resubmit error = %v", err)
	}

	// A wait on graphics work from the compute queue is valid.
	if _, err := compute.Submit(nil, []backend.Token{tok}); err != nil {
		t.Errorf("cross-queue wait failed: %v", err)
	}
	if got := d.Stats().Submissions; got != 2 {
		t.Errorf("Submissions = %d, want 2", got)
	}
}

func TestRecordingErrors(t *testing.T) {
	d := openNoop(t, backend.Config{AsyncQueues: true})

	t.Run("command before begin", func(t *testing.T) {
		cb, err := d.CreateCommandBuffer(backend.QueueGraphics, "early")
		if err != nil {
			t.Fatal(err)
		}
		defer d.FreeCommandBuffer(cb)
		cb.Barriers(nil)
		if err := cb.End(); !errors.Is(err, backend.ErrNotRecording) {
			t.Errorf("End error = %v, want ErrNotRecording", err)
		}
	})

	t.Run("render pass on compute queue", func(t *testing.T) {
		cb, _ := d.CreateCommandBuffer(backend.QueueCompute, "draw")
		defer d.FreeCommandBuffer(cb)
		err := backend.Record(cb, func(cb backend.CommandBuffer) error {
			_, err := cb.BeginRenderPass(backend.RenderPassDesc{Label: "draw"})
			return err
		})
		if !errors.Is(err, backend.ErrUnsupported) {
			t.Errorf("error = %v, want ErrUnsupported", err)
		}
	})

	t.Run("compute pass on copy queue", func(t *testing.T) {
		cb, _ := d.CreateCommandBuffer(backend.QueueCopy, "dispatch")
		defer d.FreeCommandBuffer(cb)
		err := backend.Record(cb, func(cb backend.CommandBuffer) error {
			_, err := cb.BeginComputePass("dispatch")
			return err
		})
		if !errors.Is(err, backend.ErrUnsupported) {
			t.Errorf("error = %v, want ErrUnsupported", err)
		}
	})

	t.Run("discard makes buffer reusable", func(t *testing.T) {
		cb, _ := d.CreateCommandBuffer(backend.QueueGraphics, "retry")
		defer d.FreeCommandBuffer(cb)
		failed := errors.New("pass failed")
		if err := backend.Record(cb, func(backend.CommandBuffer) error { return failed }); !errors.Is(err, failed) {
			t.Fatalf("error = %v", err)
		}
		if err := backend.Record(cb, func(backend.CommandBuffer) error { return nil }); err != nil {
			t.Errorf("re-record after discard failed: %v", err)
		}
	})
}

func TestSwapchain(t *testing.T) {
	d := openNoop(t, backend.Config{Width: 64, Height: 32, AsyncQueues: true})
	sc := d.Swapchain()
	if sc == nil {
		t.Fatal("Swapchain() = nil with extent")
	}
	if w, h := sc.Extent(); w != 64 || h != 32 {
		t.Errorf("Extent() = %dx%d", w, h)
	}
	if sc.Format() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("Format() = %v", sc.Format())
	}

	img, err := sc.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if got := img.Texture().Desc().Usage; got&backend.UsagePresent == 0 {
		t.Errorf("image usage %s lacks present", got)
	}

	gfx, _ := d.Queue(backend.QueueGraphics)
	compute, _ := d.Queue(backend.QueueCompute)
	if err := compute.Present(img); !errors.Is(err, backend.ErrUnsupported) {
		t.Errorf("present on compute error = %v", err)
	}
	if err := gfx.Present(img); err != nil {
		t.Fatalf("Present failed: %v", err)
	}
	if err := gfx.Present(img); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("second present error = %v", err)
	}

	if err := sc.Configure(0, 0); !errors.Is(err, backend.ErrSurfaceOutdated) {
		t.Errorf("Configure(0, 0) error = %v", err)
	}
	if err := sc.Configure(128, 128); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	img, err = sc.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if w := img.Texture().Desc().Width; w != 128 {
		t.Errorf("image width after resize = %d", w)
	}
	img.Discard()
	if got := d.Stats().Presents; got != 1 {
		t.Errorf("Presents = %d, want 1", got)
	}
}

func TestHeadless(t *testing.T) {
	d := openNoop(t, backend.Config{})
	if d.Swapchain() != nil {
		t.Error("Swapchain() != nil without extent")
	}
	if _, err := Open(backend.Config{Width: 8, Height: 8, Surface: 42}, WithHAL(noop.API{})); !errors.Is(err, backend.ErrInvalidDescriptor) {
		t.Errorf("Open with bad surface error = %v", err)
	}
}

func TestDestroyed(t *testing.T) {
	d, err := Open(backend.Config{}, WithHAL(noop.API{}))
	if err != nil {
		t.Fatal(err)
	}
	d.Destroy()
	d.Destroy()
	if _, err := d.CreateTexture(colorDesc("late"), nil); !errors.Is(err, backend.ErrDestroyed) {
		t.Errorf("CreateTexture after Destroy error = %v", err)
	}
	if err := d.WaitIdle(); !errors.Is(err, backend.ErrDestroyed) {
		t.Errorf("WaitIdle after Destroy error = %v", err)
	}
}

// TestExecutor drives full frames through the executor on the no-op HAL.
func TestExecutor(t *testing.T) {
	d := openNoop(t, backend.Config{Width: 64, Height: 64, AsyncQueues: true, SwapchainFormat: gputypes.TextureFormatRGBA8Unorm})
	g := graph.New(
		graph.WithCapabilities(d.Capabilities()),
		graph.WithAllocationInfo(d),
		graph.WithBackbuffer(gputypes.TextureFormatRGBA8Unorm, 64, 64),
	)
	ex, err := executor.New(d, g)
	if err != nil {
		t.Fatalf("executor.New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for frame := range 3 {
		b := g.Begin()
		scene, err := b.DeclareTexture(colorDesc("scene"), "scene")
		if err != nil {
			t.Fatal(err)
		}
		bb, err := b.DeclareBackbuffer("backbuffer")
		if err != nil {
			t.Fatal(err)
		}
		_, err = b.AddPass("scene", graph.QueueCompute,
			[]graph.Access{graph.WriteTexture(scene, backend.UsageStorageWrite)},
			func(pc graph.PassContext) error {
				cp, err := pc.CommandBuffer().BeginComputePass(pc.Pass())
				if err != nil {
					return err
				}
				cp.Dispatch(8, 8, 1)
				cp.End()
				return nil
			})
		if err != nil {
			t.Fatal(err)
		}
		_, err = b.AddPass("compose", graph.QueueGraphics,
			[]graph.Access{
				graph.ReadTexture(scene, backend.UsageSampled),
				graph.WriteTexture(bb, backend.UsageColorTarget),
			},
			func(pc graph.PassContext) error {
				rp, err := pc.CommandBuffer().BeginRenderPass(backend.RenderPassDesc{
					Label: pc.Pass(),
					Color: []backend.ColorAttachment{{Texture: pc.Texture(bb), Load: gputypes.LoadOpClear}},
				})
				if err != nil {
					return err
				}
				rp.Draw(3, 1, 0, 0)
				rp.End()
				return nil
			})
		if err != nil {
			t.Fatal(err)
		}
		plan, err := b.Compile()
		if err != nil {
			t.Fatalf("frame %d: Compile failed: %v", frame, err)
		}
		if _, err := ex.Execute(ctx, plan); err != nil {
			t.Fatalf("frame %d: Execute failed: %v", frame, err)
		}
	}

	if err := ex.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	s := d.Stats()
	if s.Presents != 3 {
		t.Errorf("Presents = %d, want 3", s.Presents)
	}
	if s.IdleTextures.Hits < 2 {
		t.Errorf("transient texture recycled %d times, want at least 2", s.IdleTextures.Hits)
	}
	if err := ex.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if s := d.Stats(); s.Textures != 0 || s.Buffers != 0 {
		t.Errorf("after Close: %v", s)
	}
}
