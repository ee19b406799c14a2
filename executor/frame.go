package executor

import (
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/memory"
)

// Frame is one executed plan whose GPU work may still be in flight.
type Frame struct {
	number uint64
	plan   *graph.Plan

	// tokens holds the last submission per queue; zero for unused queues.
	tokens [backend.NumQueueTypes]backend.Token

	phys     []physical
	cmds     []backend.CommandBuffer
	textures []backend.Texture
	buffers  []backend.Buffer
	lease    *memory.Lease
	image    backend.SwapchainImage

	presented bool
	done      bool
}

// Number returns the frame's sequence number, starting at 1.
func (f *Frame) Number() uint64 { return f.number }

// Plan returns the executed plan.
func (f *Frame) Plan() *graph.Plan { return f.plan }

// Tokens returns the completion tokens of the frame's submissions, one per
// queue used.
func (f *Frame) Tokens() []backend.Token {
	var out []backend.Token
	for _, t := range f.tokens {
		if !t.IsZero() {
			out = append(out, t)
		}
	}
	return out
}

// Presented reports whether the frame presented a swapchain image.
func (f *Frame) Presented() bool { return f.presented }

// Done reports whether Poll has retired the frame.
func (f *Frame) Done() bool { return f.done }

// graveyard holds physical resources of released exports until the
// submissions that may still use them complete.
type graveyard struct {
	tokens   [backend.NumQueueTypes]backend.Token
	textures []backend.Texture
	buffers  []backend.Buffer
}

// completed reports whether every token in tokens has completed on queues.
func completed(queues *[backend.NumQueueTypes]backend.Queue, tokens *[backend.NumQueueTypes]backend.Token) bool {
	for q, t := range tokens {
		if t.IsZero() {
			continue
		}
		if !queues[q].Completed(t) {
			return false
		}
	}
	return true
}
