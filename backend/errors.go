package backend

import "errors"

// Backend errors. Device and surface errors are not recoverable in place:
// the caller recreates the device or swapchain and rebuilds the graph.
var (
	// ErrBackendNotAvailable is returned when the requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrDeviceLost is returned when the GPU device is lost.
	ErrDeviceLost = errors.New("backend: device lost")

	// ErrOutOfDeviceMemory is returned when the device cannot allocate memory.
	ErrOutOfDeviceMemory = errors.New("backend: out of device memory")

	// ErrSurfaceLost is returned when the presentation surface is gone.
	ErrSurfaceLost = errors.New("backend: surface lost")

	// ErrSurfaceOutdated is returned when the swapchain no longer matches the surface.
	ErrSurfaceOutdated = errors.New("backend: surface outdated")

	// ErrUnsupported is returned for operations the backend cannot perform.
	ErrUnsupported = errors.New("backend: unsupported")

	// ErrInvalidDescriptor is returned for resource descriptors that cannot be created.
	ErrInvalidDescriptor = errors.New("backend: invalid descriptor")

	// ErrNotRecording is returned when commands are issued outside Begin/End.
	ErrNotRecording = errors.New("backend: command buffer not recording")

	// ErrDestroyed is returned when using a destroyed device.
	ErrDestroyed = errors.New("backend: device destroyed")
)

// IsFatal reports whether err requires recreating the device or swapchain.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost) ||
		errors.Is(err, ErrSurfaceLost) ||
		errors.Is(err, ErrSurfaceOutdated)
}
