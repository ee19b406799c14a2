// Package framegraph is a frame render graph and the cross-backend GPU
// command abstraction it compiles onto.
//
// # Overview
//
// Application code declares one frame of GPU work as logical passes that
// read and write named virtual resources. Compiling the declaration
// resolves the data dependencies between passes, assigns hardware queues,
// plans the synchronization barriers and aliases transient memory across
// non-overlapping lifetimes. The executor then replays the plan through a
// backend device: the wgpu HAL (Vulkan, Metal, DX12, GLES) or the
// software reference backend.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/framegraph"
//	    "github.com/gogpu/framegraph/backend"
//	    _ "github.com/gogpu/framegraph/backend/software"
//	    "github.com/gogpu/framegraph/graph"
//	)
//
//	r, err := framegraph.Open(backend.BackendSoftware, backend.Config{Width: 800, Height: 600})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	_, err = r.Frame(ctx, func(b *graph.Builder) error {
//	    swap, _ := b.DeclareBackbuffer("swap")
//	    _, err := b.AddPass("clear", graph.QueueGraphics,
//	        []graph.Access{graph.WriteTexture(swap, backend.UsageColorTarget)}, clearPass)
//	    return err
//	})
//
// # Architecture
//
// The module is organized into:
//   - backend: device, queue and command buffer contract, plus the
//     registry of backend drivers
//   - backend/native, backend/software: backend implementations
//   - graph: builder, dependency resolver and barrier planner
//   - memory: transient memory aliasing allocator and arena pool
//   - executor: plan replay, submission and frame retirement
//   - graphdesc, graphviz: HCL graph descriptions and plan rendering
//
// # Logging
//
// framegraph is silent by default. SetLogger installs a log/slog logger
// shared by every sub-package.
package framegraph
