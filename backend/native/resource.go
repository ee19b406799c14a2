package native

import (
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
)

// Texture is a HAL texture with its default view.
type Texture struct {
	dev   *Device
	label string
	desc  backend.TextureDesc
	raw   hal.Texture
	view  hal.TextureView

	// surface marks swapchain images, which the surface owns.
	surface   bool
	destroyed bool
}

var _ backend.Texture = (*Texture)(nil)

// Label returns the debug label.
func (t *Texture) Label() string { return t.label }

// Desc returns the normalized descriptor.
func (t *Texture) Desc() backend.TextureDesc { return t.desc }

// Native returns the hal.Texture.
func (t *Texture) Native() any { return t.raw }

// View returns the default view covering every mip level and layer.
func (t *Texture) View() hal.TextureView { return t.view }

// release destroys the HAL objects.
func (t *Texture) release() {
	if t.view != nil {
		t.dev.dev.DestroyTextureView(t.view)
		t.view = nil
	}
	if !t.surface && t.raw != nil {
		t.dev.dev.DestroyTexture(t.raw)
		t.raw = nil
	}
}

// Buffer is a HAL buffer.
type Buffer struct {
	dev       *Device
	label     string
	desc      backend.BufferDesc
	raw       hal.Buffer
	destroyed bool
}

var _ backend.Buffer = (*Buffer)(nil)

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Desc returns the descriptor.
func (b *Buffer) Desc() backend.BufferDesc { return b.desc }

// Native returns the hal.Buffer.
func (b *Buffer) Native() any { return b.raw }

func (b *Buffer) release() {
	if b.raw != nil {
		b.dev.dev.DestroyBuffer(b.raw)
		b.raw = nil
	}
}
