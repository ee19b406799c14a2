package backend

import (
	"fmt"
	"sort"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Backend names.
const (
	BackendNative   = "native"
	BackendSoftware = "software"
)

// Config configures device creation.
type Config struct {
	// Label names the device in logs.
	Label string

	// Adapter selects a backend-specific adapter variant. For the native
	// backend this is a HAL name such as "vulkan", "metal", "dx12", "gl",
	// "software" or "noop". Empty selects the best available.
	Adapter string

	// AsyncQueues exposes compute and copy queues in addition to graphics.
	AsyncQueues bool

	// Width and Height size the swapchain. Zero means headless.
	Width  uint32
	Height uint32

	// SwapchainFormat is the presentable image format. Defaults to BGRA8Unorm.
	SwapchainFormat gputypes.TextureFormat

	// Surface is a backend-specific presentation target.
	Surface any
}

// Driver opens devices for one backend.
type Driver interface {
	Open(cfg Config) (Device, error)
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(cfg Config) (Device, error)

// Open calls f.
func (f DriverFunc) Open(cfg Config) (Device, error) { return f(cfg) }

// drivers holds registered backends. Native hardware wins over the
// software reference backend when both are linked in.
var drivers = gpucontext.NewRegistry[Driver](
	gpucontext.WithPriority(BackendNative, BackendSoftware),
)

// Register registers a driver under name. It is typically called from an
// init function in the backend package. An existing registration is replaced.
func Register(name string, d Driver) {
	drivers.Register(name, func() Driver { return d })
}

// Unregister removes a driver. Useful in tests.
func Unregister(name string) {
	drivers.Unregister(name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	names := drivers.Available()
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a backend is registered under name.
func IsRegistered(name string) bool {
	return drivers.Has(name)
}

// Default returns the name of the highest-priority registered backend, or
// "" when none is registered.
func Default() string {
	return drivers.BestName()
}

// Open opens a device on the named backend. An empty name selects Default.
func Open(name string, cfg Config) (Device, error) {
	if name == "" {
		name = Default()
	}
	if name == "" || !drivers.Has(name) {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}
	d := drivers.Get(name)
	if d == nil {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	return d.Open(cfg)
}
