package software

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/internal/logging"
)

// ErrValidation wraps every recorded violation.
var ErrValidation = errors.New("software: validation failed")

// Defaults.
const (
	// DefaultLatency is the number of Completed polls before a submission finishes.
	DefaultLatency = 1

	// DefaultImageCount is the number of swapchain images.
	DefaultImageCount = 3
)

func init() {
	backend.Register(backend.BackendSoftware, backend.DriverFunc(func(cfg backend.Config) (backend.Device, error) {
		return Open(cfg), nil
	}))
}

// Option configures a software device.
type Option func(*Device)

// WithLatency sets how many Completed polls a submission takes to finish.
// Zero completes work at submission.
func WithLatency(polls int) Option {
	return func(d *Device) {
		d.latency = uint64(max(polls, 0))
	}
}

// WithMemoryLimit caps heap and dedicated allocations. Allocations beyond
// it fail with backend.ErrOutOfDeviceMemory. Zero means unlimited.
func WithMemoryLimit(bytes uint64) Option {
	return func(d *Device) {
		d.memLimit = bytes
	}
}

// WithImageCount sets the number of swapchain images.
func WithImageCount(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.imageCount = n
		}
	}
}

// Stats is a snapshot of device bookkeeping.
type Stats struct {
	Heaps       int
	Textures    int
	Buffers     int
	MemoryBytes uint64
	Submissions uint64
	Presents    uint64
	InFlight    int
}

// String returns a readable form of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Software[%d heaps, %d textures, %d buffers, %d KB, %d submissions, %d presents, %d in flight]",
		s.Heaps, s.Textures, s.Buffers, s.MemoryBytes/1024, s.Submissions, s.Presents, s.InFlight)
}

// Command is one executed command, in execution order.
type Command struct {
	Queue    backend.QueueType
	Buffer   string
	Op       string
	Resource string
	Detail   string
}

// String returns a readable form of the command.
func (c Command) String() string {
	s := fmt.Sprintf("%s/%s %s", c.Queue, c.Buffer, c.Op)
	if c.Resource != "" {
		s += " " + c.Resource
	}
	if c.Detail != "" {
		s += " " + c.Detail
	}
	return s
}

// Device is a software backend.Device. It is safe for concurrent use.
type Device struct {
	mu sync.Mutex

	cfg        backend.Config
	caps       backend.Capabilities
	latency    uint64
	memLimit   uint64
	memUsed    uint64
	imageCount int

	queues    [backend.NumQueueTypes]*Queue
	swapchain *Swapchain

	tick        uint64
	pending     []*submission
	submissions uint64
	presents    uint64

	heaps    map[*Heap]struct{}
	textures map[*Texture]struct{}
	buffers  map[*Buffer]struct{}

	log        []Command
	violations []error

	lost      bool
	destroyed bool
}

var _ backend.Device = (*Device)(nil)

// Open creates a software device. Compute and copy queues exist when
// cfg.AsyncQueues is set; a swapchain exists when cfg has an extent.
func Open(cfg backend.Config, opts ...Option) *Device {
	d := &Device{
		cfg:        cfg,
		latency:    DefaultLatency,
		imageCount: DefaultImageCount,
		heaps:      make(map[*Heap]struct{}),
		textures:   make(map[*Texture]struct{}),
		buffers:    make(map[*Buffer]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.caps = backend.Capabilities{PlacedResources: true, MaxHeapSize: d.memLimit}
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
		format := cfg.SwapchainFormat
		if format == gputypes.TextureFormatUndefined {
			format = gputypes.TextureFormatBGRA8Unorm
		}
		d.swapchain = &Swapchain{dev: d, format: format}
		d.swapchain.configureLocked(cfg.Width, cfg.Height)
	}

	logging.Logger().Debug("software: device opened",
		"label", cfg.Label, "async", cfg.AsyncQueues, "latency", d.latency)
	return d
}

// Backend returns backend.BackendSoftware.
func (d *Device) Backend() string { return backend.BackendSoftware }

// Capabilities returns the device capabilities.
func (d *Device) Capabilities() backend.Capabilities { return d.caps }

// Queue returns the queue of type q.
func (d *Device) Queue(q backend.QueueType) (backend.Queue, error) {
	if !d.caps.HasQueue(q) {
		return nil, fmt.Errorf("%w: %s queue", backend.ErrUnsupported, q)
	}
	return d.queues[q], nil
}

// TextureAllocationInfo returns the heap footprint of a texture.
func (d *Device) TextureAllocationInfo(desc backend.TextureDesc) backend.AllocationInfo {
	return backend.AllocationInfo{
		Size:      backend.AlignUp(desc.Normalize().ByteSize(), backend.TextureAlignment),
		Alignment: backend.TextureAlignment,
	}
}

// BufferAllocationInfo returns the heap footprint of a buffer.
func (d *Device) BufferAllocationInfo(desc backend.BufferDesc) backend.AllocationInfo {
	return backend.AllocationInfo{
		Size:      backend.AlignUp(desc.Size, backend.BufferAlignment),
		Alignment: backend.BufferAlignment,
	}
}

// reserveLocked accounts size bytes against the memory limit.
func (d *Device) reserveLocked(size uint64, what string) error {
	if d.destroyed {
		return backend.ErrDestroyed
	}
	if d.lost {
		return backend.ErrDeviceLost
	}
	if d.memLimit > 0 && d.memUsed+size > d.memLimit {
		return fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			backend.ErrOutOfDeviceMemory, what, size, d.memUsed, d.memLimit)
	}
	d.memUsed += size
	return nil
}

// CreateHeap allocates a heap. Its bytes are materialized on first use.
func (d *Device) CreateHeap(size uint64, label string) (backend.Heap, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: heap %q has zero size", backend.ErrInvalidDescriptor, label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.reserveLocked(size, "heap "+label); err != nil {
		return nil, err
	}
	h := &Heap{dev: d, size: size, label: label}
	d.heaps[h] = struct{}{}
	return h, nil
}

// DestroyHeap releases a heap.
func (d *Device) DestroyHeap(h backend.Heap) {
	heap, ok := h.(*Heap)
	if !ok || heap == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.heaps[heap]; !ok {
		d.violateLocked("destroy of unknown or destroyed heap %q", heap.label)
		return
	}
	if n := len(heap.placed); n > 0 {
		d.violateLocked("heap %q destroyed with %d live resources", heap.label, n)
	}
	delete(d.heaps, heap)
	d.memUsed -= heap.size
	heap.data = nil
}

// placeLocked validates a placement and returns its heap.
func (d *Device) placeLocked(p *backend.Placement, info backend.AllocationInfo, label string) (*Heap, error) {
	heap, ok := p.Heap.(*Heap)
	if !ok || heap == nil || heap.dev != d {
		return nil, fmt.Errorf("%w: %q placed in a foreign heap", backend.ErrInvalidDescriptor, label)
	}
	if _, live := d.heaps[heap]; !live {
		return nil, fmt.Errorf("%w: %q placed in destroyed heap %q", backend.ErrInvalidDescriptor, label, heap.label)
	}
	if p.Offset%info.Alignment != 0 || p.Offset+info.Size > heap.size {
		return nil, fmt.Errorf("%w: %q at offset %d size %d does not fit heap %q (%d bytes, align %d)",
			backend.ErrInvalidDescriptor, label, p.Offset, info.Size, heap.label, heap.size, info.Alignment)
	}
	return heap, nil
}

// CreateTexture creates a texture, dedicated or placed.
func (d *Device) CreateTexture(desc backend.TextureDesc, placement *backend.Placement) (backend.Texture, error) {
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	info := d.TextureAllocationInfo(desc)
	t := &Texture{desc: desc}
	t.label, t.size = desc.Label, desc.ByteSize()

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.allocLocked(&t.resource, placement, info); err != nil {
		return nil, err
	}
	d.textures[t] = struct{}{}
	return t, nil
}

// CreateBuffer creates a buffer, dedicated or placed.
func (d *Device) CreateBuffer(desc backend.BufferDesc, placement *backend.Placement) (backend.Buffer, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	info := d.BufferAllocationInfo(desc)
	b := &Buffer{desc: desc}
	b.label, b.size = desc.Label, desc.Size

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.allocLocked(&b.resource, placement, info); err != nil {
		return nil, err
	}
	d.buffers[b] = struct{}{}
	return b, nil
}

func (d *Device) allocLocked(r *resource, placement *backend.Placement, info backend.AllocationInfo) error {
	r.dev = d
	if placement == nil {
		if err := d.reserveLocked(info.Size, r.label); err != nil {
			return err
		}
		r.dedicated = info.Size
		r.data = make([]byte, r.size)
		return nil
	}
	if d.destroyed {
		return backend.ErrDestroyed
	}
	heap, err := d.placeLocked(placement, info, r.label)
	if err != nil {
		return err
	}
	r.heap, r.offset = heap, placement.Offset
	heap.placed = append(heap.placed, r)
	return nil
}

// DestroyTexture destroys a texture. Destroying a texture that in-flight
// work still uses is a violation.
func (d *Device) DestroyTexture(t backend.Texture) {
	tex, ok := t.(*Texture)
	if !ok || tex == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.textures[tex]; !ok {
		d.violateLocked("destroy of unknown or destroyed texture %q", tex.label)
		return
	}
	delete(d.textures, tex)
	d.freeLocked(&tex.resource)
}

// DestroyBuffer destroys a buffer.
func (d *Device) DestroyBuffer(b backend.Buffer) {
	buf, ok := b.(*Buffer)
	if !ok || buf == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[buf]; !ok {
		d.violateLocked("destroy of unknown or destroyed buffer %q", buf.label)
		return
	}
	delete(d.buffers, buf)
	d.freeLocked(&buf.resource)
}

func (d *Device) freeLocked(r *resource) {
	if !d.completedLocked(r.lastUse) {
		d.violateLocked("%q destroyed while %s is in flight", r.label, r.lastUse)
	}
	r.destroyed = true
	if r.heap != nil {
		r.heap.unplace(r)
		return
	}
	d.memUsed -= r.dedicated
	r.data = nil
}

// CreateCommandBuffer creates a command buffer for queue q.
func (d *Device) CreateCommandBuffer(q backend.QueueType, label string) (backend.CommandBuffer, error) {
	if !d.caps.HasQueue(q) {
		return nil, fmt.Errorf("%w: %s queue", backend.ErrUnsupported, q)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, backend.ErrDestroyed
	}
	if d.lost {
		return nil, backend.ErrDeviceLost
	}
	return &CommandBuffer{dev: d, queue: q, label: label}, nil
}

// FreeCommandBuffer releases a command buffer. Freeing one whose
// submission has not completed is a violation.
func (d *Device) FreeCommandBuffer(cb backend.CommandBuffer) {
	c, ok := cb.(*CommandBuffer)
	if !ok || c == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.freed {
		d.violateLocked("command buffer %q freed twice", c.label)
		return
	}
	if c.submitted && !d.completedLocked(c.sub) {
		d.violateLocked("command buffer %q freed while %s is in flight", c.label, c.sub)
	}
	c.freed = true
	c.cmds = nil
}

// Swapchain returns the swapchain, or nil when the device is headless.
func (d *Device) Swapchain() backend.Swapchain {
	if d.swapchain == nil {
		return nil
	}
	return d.swapchain
}

// WaitIdle completes all submitted work.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.pending {
		d.completeLocked(s)
	}
	d.pending = nil
	if d.lost {
		return backend.ErrDeviceLost
	}
	return nil
}

// Native returns the device itself.
func (d *Device) Native() any { return d }

// Destroy releases the device. Resources still alive are reported as leaks.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	if n := len(d.textures) + len(d.buffers) + len(d.heaps); n > 0 {
		logging.Logger().Warn("software: device destroyed with live objects",
			"textures", len(d.textures), "buffers", len(d.buffers), "heaps", len(d.heaps))
	}
	d.destroyed = true
}

// Lose simulates device removal. Later submissions fail with
// backend.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// Stats returns a snapshot of device bookkeeping.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Heaps:       len(d.heaps),
		Textures:    len(d.textures),
		Buffers:     len(d.buffers),
		MemoryBytes: d.memUsed,
		Submissions: d.submissions,
		Presents:    d.presents,
		InFlight:    len(d.pending),
	}
}

// Log returns the executed commands.
func (d *Device) Log() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.log...)
}

// Violations returns the recorded validation violations.
func (d *Device) Violations() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.violations...)
}

// Reset clears the command log and the violations.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = nil
	d.violations = nil
}

func (d *Device) violateLocked(format string, args ...any) {
	err := fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
	d.violations = append(d.violations, err)
	logging.Logger().Warn("software: validation", "error", err)
}

func (d *Device) logLocked(c Command) {
	d.log = append(d.log, c)
}

// WriteBuffer copies data into buf at offset, bypassing the command stream.
func (d *Device) WriteBuffer(buf backend.Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*Buffer)
	if !ok || b == nil {
		return fmt.Errorf("%w: foreign buffer", backend.ErrInvalidDescriptor)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%w: write of %d bytes at %d overflows %q", backend.ErrInvalidDescriptor, len(data), offset, b.label)
	}
	copy(b.bytes()[offset:], data)
	return nil
}

// Contents returns a copy of the bytes of a texture or buffer.
func (d *Device) Contents(r backend.Resource) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch v := r.(type) {
	case *Texture:
		return append([]byte(nil), v.bytes()...)
	case *Buffer:
		return append([]byte(nil), v.bytes()...)
	}
	return nil
}

// State returns the usage and queue a resource was last left in by
// executed commands, and whether its contents are defined.
func (d *Device) State(r backend.Resource) (backend.Usage, backend.QueueType, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var res *resource
	switch v := r.(type) {
	case *Texture:
		res = &v.resource
	case *Buffer:
		res = &v.resource
	default:
		return backend.UsageNone, backend.QueueGraphics, false
	}
	return res.state.usage, res.state.queue, res.state.valid && !res.state.inTransit
}

// SetState declares the contents of r defined and left in usage on queue,
// as if uploaded outside the command stream. Used to prepare resources
// that are imported into a frame.
func (d *Device) SetState(r backend.Resource, usage backend.Usage, queue backend.QueueType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch v := r.(type) {
	case *Texture:
		v.state = trackedState{valid: true, usage: usage, queue: queue}
	case *Buffer:
		v.state = trackedState{valid: true, usage: usage, queue: queue}
	}
}
