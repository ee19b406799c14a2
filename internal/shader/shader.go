// Package shader compiles the WGSL shaders used by demo passes and turns
// them into HAL shader modules. Pass callbacks receive the compiled blobs
// opaquely; the frame graph itself never inspects them.
package shader

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// FillWorkgroupSize is the workgroup size of the fill shader.
const FillWorkgroupSize = 64

//go:embed shaders/fill.wgsl
var fillSource string

// ErrEmptySource is returned when compiling an empty shader.
var ErrEmptySource = errors.New("shader: empty source")

// Module is a compiled shader blob.
type Module struct {
	Label      string
	EntryPoint string
	SPIRV      []uint32
}

// Fill returns the source of the buffer fill compute shader.
func Fill() string { return fillSource }

// Compile compiles WGSL source to SPIR-V words.
func Compile(label, source string) (*Module, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptySource, label)
	}
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("shader: compile %q: %w", label, err)
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return &Module{Label: label, EntryPoint: "main", SPIRV: words}, nil
}

// Create creates a HAL shader module from m.
func (m *Module) Create(device hal.Device) (hal.ShaderModule, error) {
	sm, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  m.Label,
		Source: hal.ShaderSource{SPIRV: m.SPIRV},
	})
	if err != nil {
		return nil, fmt.Errorf("shader: create module %q: %w", m.Label, err)
	}
	return sm, nil
}

// Size returns the blob size in bytes.
func (m *Module) Size() int { return len(m.SPIRV) * 4 }
