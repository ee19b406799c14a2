// Package memory assigns physical backing memory to transient frame graph
// resources.
//
// The allocator works on lifetime intervals computed by the graph: two
// resources may share bytes only when their intervals are disjoint. Memory
// is organized as arenas of fixed-size blocks; each block is backed by one
// device heap at execution time. A Pool keeps a ring of arenas so that the
// memory of a frame still in flight on the GPU is never handed to the next
// frame.
//
// Allocation is a pure CPU computation and never touches the device:
//
//	a, err := memory.Allocate(cfg, requests)
//	if err != nil {
//		return err // errors.Is(err, memory.ErrArenaExhausted)
//	}
//	for i, p := range a.Placements {
//		fmt.Println(requests[i].ID, p.Block, p.Offset)
//	}
package memory
