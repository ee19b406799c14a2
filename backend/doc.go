// Package backend defines the device, queue and command-buffer contract the
// frame graph compiles onto.
//
// One contract is implemented once per native graphics API. A backend is
// selected when the device is opened and is never mixed within a frame.
// Backends own their native handles; the contract shares calls, not handle
// layouts. Backend-specific functionality is reached through the Native
// escape hatch on Device and CommandBuffer.
//
// # Backend Registration
//
// Backends register a factory from an init function:
//
//	import _ "github.com/gogpu/framegraph/backend/native"
//
// # Backend Selection
//
// Open a device by name, or let Default pick the best registered backend:
//
//	dev, err := backend.Open("software", backend.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Destroy()
//
// # Recording
//
// Command buffers are recorded inside Record, which guarantees the buffer
// is either ended or discarded on every exit path:
//
//	cb, _ := dev.CreateCommandBuffer(backend.QueueGraphics, "blit")
//	err := backend.Record(cb, func(cb backend.CommandBuffer) error {
//		cb.CopyBuffer(src, dst, 0, 0, size)
//		return nil
//	})
//
// # Available Backends
//
//   - "native": gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES, software, noop)
//   - "software": CPU reference backend with state validation
package backend
