package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
)

// swapchainUsage is the usage of every acquired image.
const swapchainUsage = backend.UsageColorTarget | backend.UsageCopyDst | backend.UsagePresent

// Swapchain presents through a HAL surface.
type Swapchain struct {
	dev     *Device
	surface hal.Surface
	owned   bool
	format  gputypes.TextureFormat
	width   uint32
	height  uint32
}

var _ backend.Swapchain = (*Swapchain)(nil)

// Configure resizes the surface.
func (s *Swapchain) Configure(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: swapchain extent %dx%d", backend.ErrSurfaceOutdated, width, height)
	}
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}

	err := s.surface.Configure(d.dev, &hal.SurfaceConfiguration{
		Width:       width,
		Height:      height,
		Format:      s.format,
		Usage:       textureUsage(swapchainUsage),
		PresentMode: gputypes.PresentModeFifo,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return fmt.Errorf("native: configure surface: %w", d.check(err))
	}
	s.width, s.height = width, height
	return nil
}

// Acquire returns the next surface image with a fresh view.
func (s *Swapchain) Acquire() (backend.SwapchainImage, error) {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return nil, err
	}

	acq, err := s.surface.AcquireTexture(nil)
	if err != nil {
		return nil, fmt.Errorf("native: acquire: %w", d.check(err))
	}
	desc := backend.TextureDesc{
		Label:  "swapchain",
		Width:  s.width,
		Height: s.height,
		Format: s.format,
		Usage:  swapchainUsage,
	}.Normalize()
	view, err := d.dev.CreateTextureView(acq.Texture, &hal.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          s.format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		s.surface.DiscardTexture(acq.Texture)
		return nil, fmt.Errorf("native: swapchain view: %w", d.check(err))
	}

	tex := &Texture{dev: d, label: desc.Label, desc: desc, raw: acq.Texture, view: view, surface: true}
	return &image{sc: s, tex: tex, raw: acq.Texture, suboptimal: acq.Suboptimal}, nil
}

// Format returns the image format.
func (s *Swapchain) Format() gputypes.TextureFormat { return s.format }

// Extent returns the configured size.
func (s *Swapchain) Extent() (width, height uint32) { return s.width, s.height }

// release unconfigures the surface and destroys it when the device
// created it. Caller must hold s.dev.mu.
func (s *Swapchain) release() {
	s.surface.Unconfigure(s.dev.dev)
	if s.owned {
		s.surface.Destroy()
	}
}

// image is an acquired surface texture.
type image struct {
	sc         *Swapchain
	tex        *Texture
	raw        hal.SurfaceTexture
	suboptimal bool
	done       bool
}

// Texture returns the image texture.
func (im *image) Texture() backend.Texture { return im.tex }

// Suboptimal reports whether the surface asked to be reconfigured.
func (im *image) Suboptimal() bool { return im.suboptimal }

// Discard returns the image to the surface without presenting it.
func (im *image) Discard() {
	d := im.sc.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if im.done {
		return
	}
	im.done = true
	if !d.destroyed {
		im.sc.surface.DiscardTexture(im.raw)
		im.tex.release()
	}
}
