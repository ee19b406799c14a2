package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
)

// variants maps adapter names to HAL backend variants.
var variants = map[string]gputypes.Backend{
	"vulkan":   gputypes.BackendVulkan,
	"metal":    gputypes.BackendMetal,
	"dx12":     gputypes.BackendDX12,
	"gl":       gputypes.BackendGL,
	"gles":     gputypes.BackendGL,
	"software": gputypes.BackendEmpty,
	"noop":     gputypes.BackendEmpty,
}

// preferred is the probe order when no adapter name is given.
var preferred = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
	gputypes.BackendEmpty,
}

// selectBackend returns the registered HAL backend for an adapter name.
func selectBackend(name string) (hal.Backend, error) {
	if name == "" {
		for _, v := range preferred {
			if b, ok := hal.GetBackend(v); ok {
				return b, nil
			}
		}
		return nil, fmt.Errorf("%w: no HAL backend registered", backend.ErrBackendNotAvailable)
	}
	v, ok := variants[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown adapter %q", backend.ErrBackendNotAvailable, name)
	}
	b, ok := hal.GetBackend(v)
	if !ok {
		return nil, fmt.Errorf("%w: HAL backend %s not registered", backend.ErrBackendNotAvailable, v)
	}
	return b, nil
}

// textureUsage converts frame graph usages to HAL texture usages. Present
// has no HAL equivalent; the HAL transitions images at present time.
func textureUsage(u backend.Usage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&backend.UsageSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&(backend.UsageColorTarget|backend.UsageDepthRead|backend.UsageDepthWrite) != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	if u&(backend.UsageStorageRead|backend.UsageStorageWrite) != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u&backend.UsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&backend.UsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	return out
}

// bufferUsage converts frame graph usages to HAL buffer usages.
func bufferUsage(u backend.Usage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&(backend.UsageStorageRead|backend.UsageStorageWrite) != 0 {
		out |= gputypes.BufferUsageStorage
	}
	if u&backend.UsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&backend.UsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if u&backend.UsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&backend.UsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&backend.UsageIndirect != 0 {
		out |= gputypes.BufferUsageIndirect
	}
	if u&backend.UsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	return out
}

func textureDescriptor(d backend.TextureDesc) *hal.TextureDescriptor {
	return &hal.TextureDescriptor{
		Label: d.Label,
		Size: hal.Extent3D{
			Width:              d.Width,
			Height:             d.Height,
			DepthOrArrayLayers: d.DepthOrArrayLayers,
		},
		MipLevelCount: d.MipLevels,
		SampleCount:   d.SampleCount,
		Dimension:     d.Dimension,
		Format:        d.Format,
		Usage:         textureUsage(d.Usage),
	}
}

func viewDimension(d backend.TextureDesc) gputypes.TextureViewDimension {
	switch {
	case d.Dimension == gputypes.TextureDimension3D:
		return gputypes.TextureViewDimension3D
	case d.Dimension == gputypes.TextureDimension1D:
		return gputypes.TextureViewDimension1D
	case d.DepthOrArrayLayers > 1:
		return gputypes.TextureViewDimension2DArray
	default:
		return gputypes.TextureViewDimension2D
	}
}

func fullRange(d backend.TextureDesc) hal.TextureRange {
	layers := d.DepthOrArrayLayers
	if d.Dimension == gputypes.TextureDimension3D {
		layers = 1
	}
	return hal.TextureRange{
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   d.MipLevels,
		ArrayLayerCount: layers,
	}
}

// mapError translates HAL errors into backend errors, keeping the HAL
// error in the chain.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrDeviceLost):
		return fmt.Errorf("%w: %w", backend.ErrDeviceLost, err)
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return fmt.Errorf("%w: %w", backend.ErrOutOfDeviceMemory, err)
	case errors.Is(err, hal.ErrSurfaceLost):
		return fmt.Errorf("%w: %w", backend.ErrSurfaceLost, err)
	case errors.Is(err, hal.ErrSurfaceOutdated), errors.Is(err, hal.ErrZeroArea):
		return fmt.Errorf("%w: %w", backend.ErrSurfaceOutdated, err)
	default:
		return err
	}
}
