package main

import (
	"fmt"
	"hash/fnv"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/graphdesc"
	"github.com/gogpu/framegraph/internal/shader"
)

// recorder turns description passes into callbacks. Every callback
// records work matching its declared accesses: color and depth targets
// become a cleared render pass with one draw, storage writes a compute
// dispatch and copy destinations a buffer clear.
type recorder struct {
	desc *graphdesc.Description

	// Handles of the build being recorded. The blackboard forgets
	// transient names at Compile, so they are captured right after Build.
	textures map[string]graph.TextureHandle
	buffers  map[string]graph.BufferHandle

	// fill is set on native devices, where a dispatch needs a bound pipeline.
	fill  *shader.FillPipeline
	queue hal.Queue
	frame uint32

	// words bounds every fill to the smallest declared buffer.
	words uint32
}

func newRecorder(desc *graphdesc.Description) *recorder {
	r := &recorder{
		desc:     desc,
		textures: make(map[string]graph.TextureHandle),
		buffers:  make(map[string]graph.BufferHandle),
	}
	for i, b := range desc.Buffers {
		words := uint32(b.Desc.Size / 4) //nolint:gosec // demo buffers are small
		if i == 0 || words < r.words {
			r.words = words
		}
	}
	return r
}

// build declares one frame on b.
func (r *recorder) build(b *graph.Builder) error {
	funcs := make(map[string]graph.PassFunc, len(r.desc.Passes))
	for _, p := range r.desc.Passes {
		funcs[p.Name] = r.pass(p)
	}
	if err := r.desc.Build(b, funcs); err != nil {
		return err
	}

	bb := b.Blackboard()
	clear(r.textures)
	clear(r.buffers)
	for _, name := range bb.Names(graph.KindTexture) {
		r.textures[name], _ = bb.Texture(name)
	}
	for _, name := range bb.Names(graph.KindBuffer) {
		r.buffers[name], _ = bb.Buffer(name)
	}
	r.frame++
	if r.fill != nil {
		return r.fill.SetParams(r.queue, r.frame, r.words)
	}
	return nil
}

func (r *recorder) pass(p graphdesc.Pass) graph.PassFunc {
	tint := passColor(p.Name)
	return func(ctx graph.PassContext) error {
		cb := ctx.CommandBuffer()

		var (
			color   []backend.ColorAttachment
			depth   *backend.DepthAttachment
			storage []backend.Buffer
			compute bool
		)
		for _, a := range p.Accesses {
			if h, ok := r.textures[a.Resource]; ok {
				tex := ctx.Texture(h)
				switch a.Usage {
				case backend.UsageColorTarget:
					color = append(color, backend.ColorAttachment{Texture: tex, Load: gputypes.LoadOpClear, Clear: tint})
				case backend.UsageDepthWrite:
					depth = &backend.DepthAttachment{Texture: tex, Load: gputypes.LoadOpClear, ClearDepth: 1}
				case backend.UsageDepthRead:
					if depth == nil {
						depth = &backend.DepthAttachment{Texture: tex, Load: gputypes.LoadOpLoad, ReadOnly: true}
					}
				case backend.UsageStorageWrite:
					compute = true
				}
				continue
			}
			buf := ctx.Buffer(r.buffers[a.Resource])
			if buf == nil {
				return fmt.Errorf("pass %q: buffer %q not bound", p.Name, a.Resource)
			}
			switch a.Usage {
			case backend.UsageCopyDst:
				cb.ClearBuffer(buf, 0, buf.Desc().Size)
			case backend.UsageStorageWrite:
				storage = append(storage, buf)
				compute = true
			}
		}

		if len(color) > 0 || depth != nil {
			rp, err := cb.BeginRenderPass(backend.RenderPassDesc{Label: p.Name, Color: color, Depth: depth})
			if err != nil {
				return err
			}
			rp.Draw(3, 1, 0, 0)
			rp.End()
		}
		if compute && ctx.Queue() != backend.QueueCopy {
			cp, err := cb.BeginComputePass(p.Name)
			if err != nil {
				return err
			}
			defer cp.End()
			for _, buf := range storage {
				if err := r.dispatch(cp, buf); err != nil {
					return fmt.Errorf("pass %q: %w", p.Name, err)
				}
			}
			if len(storage) == 0 && r.fill == nil {
				cp.Dispatch(1, 1, 1)
			}
		}
		return nil
	}
}

// dispatch fills buf with the frame number.
func (r *recorder) dispatch(cp backend.ComputePassEncoder, buf backend.Buffer) error {
	size := buf.Desc().Size
	words := uint32(size / 4) //nolint:gosec // demo buffers are small
	if r.fill == nil {
		cp.Dispatch(shader.Workgroups(words), 1, 1)
		return nil
	}
	enc, ok := cp.Native().(hal.ComputePassEncoder)
	if !ok {
		return fmt.Errorf("compute pass %T has no HAL encoder", cp.Native())
	}
	raw, ok := buf.Native().(hal.Buffer)
	if !ok {
		return fmt.Errorf("buffer %q has no HAL buffer", buf.Label())
	}
	return r.fill.Encode(enc, raw, size, words)
}

// passColor derives a stable clear color from a pass name.
func passColor(name string) gputypes.Color {
	h := fnv.New32a()
	h.Write([]byte(name))
	v := h.Sum32()
	return gputypes.Color{
		R: float64(v&0xff) / 255,
		G: float64(v>>8&0xff) / 255,
		B: float64(v>>16&0xff) / 255,
		A: 1,
	}
}
