// Package native implements backend.Device on the gogpu/wgpu HAL.
//
// Importing the package registers the "native" backend. The HAL variant
// (Vulkan, Metal, DX12, GL or the no-op test backend) is picked through
// backend.Config.Adapter; HAL backends register themselves when their
// packages are imported, typically through
//
//	import _ "github.com/gogpu/wgpu/hal/allbackends"
//
// The HAL exposes one queue per device. When async queues are requested,
// the graphics, compute and copy queues are logical views of that single
// queue: submissions stay in order, so cross-queue waits are satisfied by
// construction and ownership transfers reduce to plain transitions.
//
// The HAL has no placed resources. Transient resources get dedicated
// allocations, and destroyed ones are kept in a recycling pool keyed by
// descriptor so consecutive frames reuse the same GPU objects.
package native
