package executor

import (
	"errors"

	"github.com/gogpu/framegraph/graph"
)

// Executor errors.
var (
	// ErrClosed is returned when using a closed executor.
	ErrClosed = errors.New("executor: closed")

	// ErrNoSwapchain is returned when a plan presents on a headless device.
	ErrNoSwapchain = errors.New("executor: device has no swapchain")

	// ErrForeignPlan is returned for plans compiled by another graph.
	ErrForeignPlan = errors.New("executor: plan belongs to another graph")

	// ErrExportUsage is returned when a retained export holding contents
	// is accessed with a usage its physical resource was not created with.
	// Declare the full usage in the export's descriptor.
	ErrExportUsage = errors.New("executor: export usage not supported by its allocation")

	// ErrPassPanic is returned when a pass callback panics.
	ErrPassPanic = errors.New("executor: pass panicked")
)

// Re-exported plan state errors, so callers can classify Execute errors
// without importing graph.
var (
	ErrPlanInvalidated = graph.ErrPlanInvalidated
	ErrPlanExecuted    = graph.ErrPlanExecuted
)
