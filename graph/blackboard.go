package graph

import (
	"fmt"
	"sort"
)

// Blackboard maps names to handles so passes can find resources declared
// elsewhere without threading handles through caller code. Names are
// unique per kind within one build.
type Blackboard struct {
	textures map[string]TextureHandle
	buffers  map[string]BufferHandle
	passes   map[string]PassHandle
}

func newBlackboard() *Blackboard {
	return &Blackboard{
		textures: make(map[string]TextureHandle),
		buffers:  make(map[string]BufferHandle),
		passes:   make(map[string]PassHandle),
	}
}

// Texture looks up a texture by name.
func (bb *Blackboard) Texture(name string) (TextureHandle, bool) {
	h, ok := bb.textures[name]
	return h, ok
}

// Buffer looks up a buffer by name.
func (bb *Blackboard) Buffer(name string) (BufferHandle, bool) {
	h, ok := bb.buffers[name]
	return h, ok
}

// Pass looks up a pass by name.
func (bb *Blackboard) Pass(name string) (PassHandle, bool) {
	h, ok := bb.passes[name]
	return h, ok
}

// Names returns the sorted names registered for kind.
func (bb *Blackboard) Names(kind ResourceKind) []string {
	var names []string
	if kind == KindBuffer {
		for n := range bb.buffers {
			names = append(names, n)
		}
	} else {
		for n := range bb.textures {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (bb *Blackboard) putPass(name string, h PassHandle) error {
	if _, dup := bb.passes[name]; dup {
		return fmt.Errorf("%w: pass %q", ErrDuplicateName, name)
	}
	bb.passes[name] = h
	return nil
}

// clearTransient removes every entry except the given retained textures
// and buffers.
func (bb *Blackboard) clearTransient(keepTextures, keepBuffers map[string]bool) {
	for n := range bb.textures {
		if !keepTextures[n] {
			delete(bb.textures, n)
		}
	}
	for n := range bb.buffers {
		if !keepBuffers[n] {
			delete(bb.buffers, n)
		}
	}
	clear(bb.passes)
}
