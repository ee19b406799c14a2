package native

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/internal/cache"
	"github.com/gogpu/framegraph/internal/logging"
)

// DefaultRecycleLimit is the number of idle textures and buffers kept for
// reuse, per resource kind.
const DefaultRecycleLimit = 64

func init() {
	backend.Register(backend.BackendNative, backend.DriverFunc(func(cfg backend.Config) (backend.Device, error) {
		return Open(cfg)
	}))
}

type options struct {
	hal     hal.Backend
	limits  gputypes.Limits
	recycle int
}

// Option configures a native device.
type Option func(*options)

// WithHAL uses b instead of looking up a registered HAL backend by
// adapter name.
func WithHAL(b hal.Backend) Option {
	return func(o *options) { o.hal = b }
}

// WithLimits sets the device limits requested from the adapter.
func WithLimits(limits gputypes.Limits) Option {
	return func(o *options) { o.limits = limits }
}

// WithRecycleLimit sets how many destroyed textures and buffers are kept
// for reuse. Zero destroys them immediately.
func WithRecycleLimit(n int) Option {
	return func(o *options) { o.recycle = max(n, 0) }
}

// WindowHandles identifies a platform window for surface creation. Pass it
// as backend.Config.Surface.
type WindowHandles struct {
	Display uintptr
	Window  uintptr
}

// Stats is a snapshot of device bookkeeping.
type Stats struct {
	Textures    int
	Buffers     int
	Submissions uint64
	Presents    uint64

	// IdleTextures and IdleBuffers describe the recycling pools.
	IdleTextures cache.Stats
	IdleBuffers  cache.Stats
}

// String returns a readable form of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Native[%d textures, %d buffers, %d submissions, %d presents, idle %d/%d]",
		s.Textures, s.Buffers, s.Submissions, s.Presents, s.IdleTextures.Idle, s.IdleBuffers.Idle)
}

// Device is a backend.Device on a HAL device. It is safe for concurrent use.
type Device struct {
	mu sync.Mutex

	cfg     backend.Config
	caps    backend.Capabilities
	info    gputypes.AdapterInfo
	variant gputypes.Backend

	instance hal.Instance
	dev      hal.Device
	queue    hal.Queue

	queues    [backend.NumQueueTypes]*Queue
	swapchain *Swapchain

	idleTextures *cache.Pool[backend.TextureDesc, *Texture]
	idleBuffers  *cache.Pool[backend.BufferDesc, *Buffer]

	textures    int
	buffers     int
	submitted   uint64
	submissions uint64
	presents    uint64

	lost      bool
	destroyed bool
}

var _ backend.Device = (*Device)(nil)

// Open opens a device on the HAL backend named by cfg.Adapter. A swapchain
// is created when cfg has an extent; cfg.Surface may hold a hal.Surface or
// WindowHandles.
func Open(cfg backend.Config, opts ...Option) (*Device, error) {
	o := options{limits: gputypes.DefaultLimits(), recycle: DefaultRecycleLimit}
	for _, opt := range opts {
		opt(&o)
	}

	b := o.hal
	if b == nil {
		var err error
		if b, err = selectBackend(cfg.Adapter); err != nil {
			return nil, err
		}
	}

	instance, err := b.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", mapError(err))
	}
	exposed := selectAdapter(instance.EnumerateAdapters(nil))
	if exposed == nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no %s adapter", backend.ErrBackendNotAvailable, b.Variant())
	}
	open, err := exposed.Adapter.Open(0, o.limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", mapError(err))
	}

	d := &Device{
		cfg:      cfg,
		info:     exposed.Info,
		variant:  b.Variant(),
		instance: instance,
		dev:      open.Device,
		queue:    open.Queue,
	}
	d.idleTextures = cache.NewPool[backend.TextureDesc, *Texture](o.recycle, func(t *Texture) { t.release() })
	d.idleBuffers = cache.NewPool[backend.BufferDesc, *Buffer](o.recycle, func(b *Buffer) { b.release() })

	d.caps.Queues[backend.QueueGraphics] = true
	if cfg.AsyncQueues {
		d.caps.Queues[backend.QueueCompute] = true
		d.caps.Queues[backend.QueueCopy] = true
	}
	for q := range d.queues {
		if d.caps.Queues[q] {
			d.queues[q] = &Queue{dev: d, typ: backend.QueueType(q)}
		}
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		if d.swapchain, err = d.createSwapchain(cfg); err != nil {
			d.Destroy()
			return nil, err
		}
	}

	logging.Logger().Info("native: device opened",
		"label", cfg.Label, "adapter", d.info.Name, "backend", d.variant, "async", cfg.AsyncQueues)
	return d, nil
}

// selectAdapter prefers a discrete GPU, then an integrated one, then the
// first adapter.
func selectAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	if len(adapters) == 0 {
		return nil
	}
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

func (d *Device) createSwapchain(cfg backend.Config) (*Swapchain, error) {
	format := cfg.SwapchainFormat
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatBGRA8Unorm
	}

	sc := &Swapchain{dev: d, format: format}
	switch s := cfg.Surface.(type) {
	case hal.Surface:
		sc.surface = s
	case WindowHandles:
		surface, err := d.instance.CreateSurface(s.Display, s.Window)
		if err != nil {
			return nil, fmt.Errorf("native: create surface: %w", mapError(err))
		}
		sc.surface, sc.owned = surface, true
	case nil:
		surface, err := d.instance.CreateSurface(0, 0)
		if err != nil {
			return nil, fmt.Errorf("native: create headless surface: %w", mapError(err))
		}
		sc.surface, sc.owned = surface, true
	default:
		return nil, fmt.Errorf("%w: surface of type %T", backend.ErrInvalidDescriptor, cfg.Surface)
	}

	if err := sc.Configure(cfg.Width, cfg.Height); err != nil {
		if sc.owned {
			sc.surface.Destroy()
		}
		return nil, err
	}
	return sc, nil
}

// Backend returns backend.BackendNative.
func (d *Device) Backend() string { return backend.BackendNative }

// Capabilities returns the device capabilities. Placed resources are never
// supported.
func (d *Device) Capabilities() backend.Capabilities { return d.caps }

// Info returns the adapter description.
func (d *Device) Info() gputypes.AdapterInfo { return d.info }

// Variant returns the HAL backend variant.
func (d *Device) Variant() gputypes.Backend { return d.variant }

// Queue returns the queue of type q.
func (d *Device) Queue(q backend.QueueType) (backend.Queue, error) {
	if !d.caps.HasQueue(q) {
		return nil, fmt.Errorf("%w: %s queue", backend.ErrUnsupported, q)
	}
	return d.queues[q], nil
}

// TextureAllocationInfo returns the footprint of a texture.
func (d *Device) TextureAllocationInfo(desc backend.TextureDesc) backend.AllocationInfo {
	return backend.AllocationInfo{
		Size:      backend.AlignUp(desc.Normalize().ByteSize(), backend.TextureAlignment),
		Alignment: backend.TextureAlignment,
	}
}

// BufferAllocationInfo returns the footprint of a buffer.
func (d *Device) BufferAllocationInfo(desc backend.BufferDesc) backend.AllocationInfo {
	return backend.AllocationInfo{
		Size:      backend.AlignUp(desc.Size, backend.BufferAlignment),
		Alignment: backend.BufferAlignment,
	}
}

// CreateHeap returns backend.ErrUnsupported.
func (d *Device) CreateHeap(size uint64, label string) (backend.Heap, error) {
	return nil, fmt.Errorf("%w: heap %q of %d bytes", backend.ErrUnsupported, label, size)
}

// DestroyHeap does nothing.
func (d *Device) DestroyHeap(backend.Heap) {}

// usable reports why the device cannot create or submit. Caller must hold d.mu.
func (d *Device) usable() error {
	switch {
	case d.destroyed:
		return backend.ErrDestroyed
	case d.lost:
		return backend.ErrDeviceLost
	}
	return nil
}

// check maps a HAL error and records device loss. Caller must hold d.mu.
func (d *Device) check(err error) error {
	err = mapError(err)
	if errors.Is(err, backend.ErrDeviceLost) {
		d.lost = true
	}
	return err
}

// CreateTexture creates a texture, reusing an idle one with the same
// descriptor when available. Placements are not supported.
func (d *Device) CreateTexture(desc backend.TextureDesc, placement *backend.Placement) (backend.Texture, error) {
	if placement != nil {
		return nil, fmt.Errorf("%w: placed texture %q", backend.ErrUnsupported, desc.Label)
	}
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return nil, err
	}

	key := desc
	key.Label = ""
	if t, ok := d.idleTextures.Take(key); ok {
		t.label, t.desc, t.destroyed = desc.Label, desc, false
		d.textures++
		return t, nil
	}

	raw, err := d.dev.CreateTexture(textureDescriptor(desc))
	if err != nil {
		return nil, fmt.Errorf("native: create texture %q: %w", desc.Label, d.check(err))
	}
	r := fullRange(desc)
	view, err := d.dev.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          desc.Format,
		Dimension:       viewDimension(desc),
		Aspect:          r.Aspect,
		MipLevelCount:   r.MipLevelCount,
		ArrayLayerCount: r.ArrayLayerCount,
	})
	if err != nil {
		d.dev.DestroyTexture(raw)
		return nil, fmt.Errorf("native: create view of %q: %w", desc.Label, d.check(err))
	}
	d.textures++
	return &Texture{dev: d, label: desc.Label, desc: desc, raw: raw, view: view}, nil
}

// DestroyTexture returns a texture to the recycling pool. Swapchain images
// are ignored.
func (d *Device) DestroyTexture(t backend.Texture) {
	tex, ok := t.(*Texture)
	if !ok || tex.dev != d || tex.surface {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if tex.destroyed {
		logging.Logger().Warn("native: texture destroyed twice", "texture", tex.label)
		return
	}
	tex.destroyed = true
	d.textures--
	if d.destroyed {
		tex.release()
		return
	}
	key := tex.desc
	key.Label = ""
	d.idleTextures.Put(key, tex)
}

// CreateBuffer creates a buffer, reusing an idle one with the same
// descriptor when available. Placements are not supported.
func (d *Device) CreateBuffer(desc backend.BufferDesc, placement *backend.Placement) (backend.Buffer, error) {
	if placement != nil {
		return nil, fmt.Errorf("%w: placed buffer %q", backend.ErrUnsupported, desc.Label)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return nil, err
	}

	key := desc
	key.Label = ""
	if b, ok := d.idleBuffers.Take(key); ok {
		b.label, b.desc, b.destroyed = desc.Label, desc, false
		d.buffers++
		return b, nil
	}

	raw, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  backend.AlignUp(desc.Size, 4),
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer %q: %w", desc.Label, d.check(err))
	}
	d.buffers++
	return &Buffer{dev: d, label: desc.Label, desc: desc, raw: raw}, nil
}

// DestroyBuffer returns a buffer to the recycling pool.
func (d *Device) DestroyBuffer(b backend.Buffer) {
	buf, ok := b.(*Buffer)
	if !ok || buf.dev != d {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if buf.destroyed {
		logging.Logger().Warn("native: buffer destroyed twice", "buffer", buf.label)
		return
	}
	buf.destroyed = true
	d.buffers--
	if d.destroyed {
		buf.release()
		return
	}
	key := buf.desc
	key.Label = ""
	d.idleBuffers.Put(key, buf)
}

// WriteBuffer uploads data into b at offset through the queue.
func (d *Device) WriteBuffer(b backend.Buffer, offset uint64, data []byte) error {
	buf, ok := b.(*Buffer)
	if !ok || buf.dev != d {
		return fmt.Errorf("%w: foreign buffer %T", backend.ErrInvalidDescriptor, b)
	}
	if offset+uint64(len(data)) > buf.desc.Size {
		return fmt.Errorf("%w: write of %d bytes at %d overflows %q", backend.ErrInvalidDescriptor, len(data), offset, buf.label)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}
	return d.check(d.queue.WriteBuffer(buf.raw, offset, data))
}

// CreateCommandBuffer creates a command buffer for queue q.
func (d *Device) CreateCommandBuffer(q backend.QueueType, label string) (backend.CommandBuffer, error) {
	if !d.caps.HasQueue(q) {
		return nil, fmt.Errorf("%w: %s queue", backend.ErrUnsupported, q)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return nil, err
	}
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("native: create encoder %q: %w", label, d.check(err))
	}
	return &CommandBuffer{dev: d, queue: q, label: label, enc: enc}, nil
}

// FreeCommandBuffer releases a command buffer and its encoder.
func (d *Device) FreeCommandBuffer(cb backend.CommandBuffer) {
	c, ok := cb.(*CommandBuffer)
	if !ok || c.dev != d || c.state == stateFreed {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c.state == stateRecording {
		c.enc.DiscardEncoding()
	}
	if c.raw != nil {
		d.dev.FreeCommandBuffer(c.raw)
		c.raw = nil
	}
	c.enc.Destroy()
	c.state = stateFreed
}

// Swapchain returns the swapchain, or nil when headless.
func (d *Device) Swapchain() backend.Swapchain {
	if d.swapchain == nil {
		return nil
	}
	return d.swapchain
}

// WaitIdle blocks until the HAL device is idle.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}
	return d.check(d.dev.WaitIdle())
}

// Native returns the hal.Device.
func (d *Device) Native() any { return d.dev }

// HALQueue returns the hal.Queue every logical queue submits to.
func (d *Device) HALQueue() hal.Queue { return d.queue }

// Stats returns a snapshot of device bookkeeping.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Textures:     d.textures,
		Buffers:      d.buffers,
		Submissions:  d.submissions,
		Presents:     d.presents,
		IdleTextures: d.idleTextures.Stats(),
		IdleBuffers:  d.idleBuffers.Stats(),
	}
}

// Destroy waits for the device, releases idle resources and the swapchain
// and destroys the HAL device. Destroying twice is a no-op.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true

	if !d.lost {
		if err := d.dev.WaitIdle(); err != nil {
			logging.Logger().Warn("native: wait idle on destroy", "error", err)
		}
	}
	if d.swapchain != nil {
		d.swapchain.release()
	}
	d.idleTextures.Clear()
	d.idleBuffers.Clear()
	if d.textures > 0 || d.buffers > 0 {
		logging.Logger().Warn("native: device destroyed with live resources",
			"textures", d.textures, "buffers", d.buffers)
	}
	d.dev.Destroy()
	d.instance.Destroy()
	logging.Logger().Debug("native: device destroyed", "label", d.cfg.Label)
}
