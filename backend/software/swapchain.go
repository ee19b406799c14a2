package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
)

// Swapchain is a ring of software presentable images.
type Swapchain struct {
	dev        *Device
	format     gputypes.TextureFormat
	width      uint32
	height     uint32
	images     []*Texture
	acquired   []bool
	next       int
	generation uint64
	outdated   bool
	lost       bool
}

var _ backend.Swapchain = (*Swapchain)(nil)

// Configure recreates the images at the new extent. Images acquired before
// are invalid and fail to present.
func (s *Swapchain) Configure(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: swapchain extent %dx%d", backend.ErrInvalidDescriptor, width, height)
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.lost {
		return backend.ErrSurfaceLost
	}
	s.configureLocked(width, height)
	return nil
}

func (s *Swapchain) configureLocked(width, height uint32) {
	s.width, s.height = width, height
	s.generation++
	s.outdated = false
	s.next = 0
	s.images = make([]*Texture, s.dev.imageCount)
	s.acquired = make([]bool, s.dev.imageCount)
	for i := range s.images {
		desc := backend.TextureDesc{
			Label:  fmt.Sprintf("swapchain[%d]", i),
			Width:  width,
			Height: height,
			Format: s.format,
			Usage:  backend.UsagePresent | backend.UsageColorTarget | backend.UsageCopyDst | backend.UsageStorageWrite,
		}.Normalize()
		t := &Texture{desc: desc}
		t.dev, t.label, t.size = s.dev, desc.Label, desc.ByteSize()
		t.data = make([]byte, t.size)
		s.images[i] = t
	}
}

// Acquire returns the next free image. It fails with ErrUnsupported when
// every image is acquired and none has been presented or discarded.
func (s *Swapchain) Acquire() (backend.SwapchainImage, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	switch {
	case s.dev.lost:
		return nil, backend.ErrDeviceLost
	case s.lost:
		return nil, backend.ErrSurfaceLost
	case s.outdated:
		return nil, backend.ErrSurfaceOutdated
	}
	for k := range s.images {
		i := (s.next + k) % len(s.images)
		if s.acquired[i] {
			continue
		}
		s.acquired[i] = true
		s.next = (i + 1) % len(s.images)
		t := s.images[i]
		t.state = trackedState{}
		return &image{sc: s, index: i, tex: t, generation: s.generation}, nil
	}
	return nil, fmt.Errorf("%w: all %d swapchain images acquired", backend.ErrUnsupported, len(s.images))
}

// Format returns the image format.
func (s *Swapchain) Format() gputypes.TextureFormat { return s.format }

// Extent returns the image size.
func (s *Swapchain) Extent() (width, height uint32) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.width, s.height
}

// Invalidate makes the next Acquire fail with backend.ErrSurfaceOutdated
// until Configure is called, as after a window resize.
func (s *Swapchain) Invalidate() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.outdated = true
}

// Lose makes the surface permanently unusable.
func (s *Swapchain) Lose() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.lost = true
}

// Presented returns a copy of the contents of image i.
func (s *Swapchain) Presented(i int) []byte {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if i < 0 || i >= len(s.images) {
		return nil
	}
	return append([]byte(nil), s.images[i].data...)
}

type image struct {
	sc         *Swapchain
	index      int
	tex        *Texture
	generation uint64
	done       bool
}

func (im *image) Texture() backend.Texture { return im.tex }

func (im *image) Suboptimal() bool { return false }

func (im *image) Discard() {
	im.sc.dev.mu.Lock()
	defer im.sc.dev.mu.Unlock()
	if im.done {
		return
	}
	im.done = true
	if im.generation == im.sc.generation {
		im.sc.acquired[im.index] = false
	}
}
