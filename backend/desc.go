package backend

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// TextureDesc is the semantic description of a texture. Zero values of
// DepthOrArrayLayers, MipLevels, SampleCount and Dimension are replaced by
// their defaults in Normalize.
type TextureDesc struct {
	Label              string
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
	MipLevels          uint32
	SampleCount        uint32
	Dimension          gputypes.TextureDimension
	Format             gputypes.TextureFormat
	Usage              Usage
}

// Normalize returns d with defaulted fields filled in.
func (d TextureDesc) Normalize() TextureDesc {
	if d.DepthOrArrayLayers == 0 {
		d.DepthOrArrayLayers = 1
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	if d.Dimension == gputypes.TextureDimensionUndefined {
		d.Dimension = gputypes.TextureDimension2D
	}
	return d
}

// Validate checks that the descriptor can be created on any backend.
func (d TextureDesc) Validate() error {
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("%w: texture %q has zero extent %dx%d", ErrInvalidDescriptor, d.Label, d.Width, d.Height)
	}
	if _, ok := FormatBlockSize(d.Format); !ok {
		return fmt.Errorf("%w: texture %q has unsupported format %s", ErrInvalidDescriptor, d.Label, d.Format)
	}
	if d.Usage&^TextureUsages != 0 {
		return fmt.Errorf("%w: texture %q has non-texture usage %s", ErrInvalidDescriptor, d.Label, d.Usage&^TextureUsages)
	}
	return nil
}

// ByteSize returns the number of bytes needed to store every mip level
// and sample of the texture, ignoring backend tiling.
func (d TextureDesc) ByteSize() uint64 {
	d = d.Normalize()
	bpp, _ := FormatBlockSize(d.Format)
	var total uint64
	w, h, depth := d.Width, d.Height, d.DepthOrArrayLayers
	for level := uint32(0); level < d.MipLevels; level++ {
		total += uint64(w) * uint64(h) * uint64(depth) * uint64(bpp)
		w = max(w/2, 1)
		h = max(h/2, 1)
		if d.Dimension == gputypes.TextureDimension3D {
			depth = max(depth/2, 1)
		}
	}
	return total * uint64(d.SampleCount)
}

// BufferDesc is the semantic description of a buffer.
type BufferDesc struct {
	Label  string
	Size   uint64
	Stride uint32
	Usage  Usage
}

// Validate checks that the descriptor can be created on any backend.
func (d BufferDesc) Validate() error {
	if d.Size == 0 {
		return fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDescriptor, d.Label)
	}
	if d.Stride != 0 && d.Size%uint64(d.Stride) != 0 {
		return fmt.Errorf("%w: buffer %q size %d is not a multiple of stride %d", ErrInvalidDescriptor, d.Label, d.Size, d.Stride)
	}
	if d.Usage&^BufferUsages != 0 {
		return fmt.Errorf("%w: buffer %q has non-buffer usage %s", ErrInvalidDescriptor, d.Label, d.Usage&^BufferUsages)
	}
	return nil
}

// AllocationInfo is the size and alignment a resource needs inside a heap.
type AllocationInfo struct {
	Size      uint64
	Alignment uint64
}

// Default placement alignments, matching the strictest common native rule.
const (
	TextureAlignment = 64 * 1024
	BufferAlignment  = 256
)

// AlignUp rounds v up to a multiple of align. align must be a power of two.
func AlignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// formatBlockSizes holds bytes per texel for uncompressed formats.
var formatBlockSizes = map[gputypes.TextureFormat]uint32{
	gputypes.TextureFormatR8Unorm:              1,
	gputypes.TextureFormatR8Snorm:              1,
	gputypes.TextureFormatR8Uint:               1,
	gputypes.TextureFormatR8Sint:               1,
	gputypes.TextureFormatStencil8:             1,
	gputypes.TextureFormatR16Unorm:             2,
	gputypes.TextureFormatR16Snorm:             2,
	gputypes.TextureFormatR16Uint:              2,
	gputypes.TextureFormatR16Sint:              2,
	gputypes.TextureFormatR16Float:             2,
	gputypes.TextureFormatRG8Unorm:             2,
	gputypes.TextureFormatRG8Snorm:             2,
	gputypes.TextureFormatRG8Uint:              2,
	gputypes.TextureFormatRG8Sint:              2,
	gputypes.TextureFormatDepth16Unorm:         2,
	gputypes.TextureFormatR32Float:             4,
	gputypes.TextureFormatR32Uint:              4,
	gputypes.TextureFormatR32Sint:              4,
	gputypes.TextureFormatRG16Unorm:            4,
	gputypes.TextureFormatRG16Snorm:            4,
	gputypes.TextureFormatRG16Uint:             4,
	gputypes.TextureFormatRG16Sint:             4,
	gputypes.TextureFormatRG16Float:            4,
	gputypes.TextureFormatRGBA8Unorm:           4,
	gputypes.TextureFormatRGBA8UnormSrgb:       4,
	gputypes.TextureFormatRGBA8Snorm:           4,
	gputypes.TextureFormatRGBA8Uint:            4,
	gputypes.TextureFormatRGBA8Sint:            4,
	gputypes.TextureFormatBGRA8Unorm:           4,
	gputypes.TextureFormatBGRA8UnormSrgb:       4,
	gputypes.TextureFormatRGB10A2Uint:          4,
	gputypes.TextureFormatRGB10A2Unorm:         4,
	gputypes.TextureFormatRG11B10Ufloat:        4,
	gputypes.TextureFormatRGB9E5Ufloat:         4,
	gputypes.TextureFormatDepth24Plus:          4,
	gputypes.TextureFormatDepth24PlusStencil8:  4,
	gputypes.TextureFormatDepth32Float:         4,
	gputypes.TextureFormatDepth32FloatStencil8: 8,
	gputypes.TextureFormatRG32Float:            8,
	gputypes.TextureFormatRG32Uint:             8,
	gputypes.TextureFormatRG32Sint:             8,
	gputypes.TextureFormatRGBA16Unorm:          8,
	gputypes.TextureFormatRGBA16Snorm:          8,
	gputypes.TextureFormatRGBA16Uint:           8,
	gputypes.TextureFormatRGBA16Sint:           8,
	gputypes.TextureFormatRGBA16Float:          8,
	gputypes.TextureFormatRGBA32Float:          16,
	gputypes.TextureFormatRGBA32Uint:           16,
	gputypes.TextureFormatRGBA32Sint:           16,
}

// FormatBlockSize returns the bytes per texel of an uncompressed format.
// Block-compressed formats are not supported as render graph resources.
func FormatBlockSize(f gputypes.TextureFormat) (uint32, bool) {
	n, ok := formatBlockSizes[f]
	return n, ok
}
