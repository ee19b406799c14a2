// Package executor replays compiled frame graph plans on a backend device.
//
// Execute materializes the plan's physical resources, records every
// submission batch into its own command buffer (queues in parallel,
// batches of one queue in order), submits the batches with their
// cross-queue waits and presents the backbuffer. Nothing reaches the
// device before every batch recorded successfully.
//
// Frames stay in flight until Poll observes their completion tokens;
// only then are transient resources destroyed, command buffers freed and
// arena leases returned, so compiling and executing the next frame never
// waits on the GPU.
//
//	ex, err := executor.New(dev, g)
//	...
//	frame, err := ex.Execute(ctx, plan)
//	...
//	ex.Poll()
package executor
