// Package graph builds, resolves and compiles one frame's GPU work.
//
// A frame is declared through a Builder: virtual textures and buffers,
// then passes that read and write them. Compile turns the declarations
// into an immutable Plan in a single pure CPU step:
//
//   - reads are bound to their most recent writer and passes are ordered
//     by a deterministic topological walk (ties keep declaration order);
//   - passes are assigned to hardware queues, falling back to graphics;
//   - one barrier is planned per resource state change, and cross-queue
//     hand-offs become release/acquire pairs ordered by a queue wait;
//   - transient resources receive aliased placements in arena memory.
//
// Example:
//
//	g := graph.New(graph.WithCapabilities(dev.Capabilities()))
//	b := g.Begin()
//	t, _ := b.DeclareTexture(backend.TextureDesc{Width: 1280, Height: 720,
//		Format: gputypes.TextureFormatRGBA16Float}, "hdr")
//	b.AddPass("scene", graph.QueueGraphics,
//		[]graph.Access{graph.WriteTexture(t, backend.UsageColorTarget)}, drawScene)
//	b.AddPass("tonemap", graph.QueueCompute,
//		[]graph.Access{graph.ReadTexture(t, backend.UsageSampled)}, tonemap,
//		graph.SideEffect())
//	plan, err := b.Compile()
//
// A Builder is not safe for concurrent use. Plans are immutable and may be
// inspected from any goroutine.
package graph
