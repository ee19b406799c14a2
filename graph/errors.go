package graph

import (
	"errors"
	"strings"
)

// Builder errors abort the current frame's build.
var (
	// ErrDuplicateName is returned when a name is registered twice for one kind.
	ErrDuplicateName = errors.New("graph: duplicate name")

	// ErrUnusedResource is returned in strict mode for a resource no pass accesses.
	ErrUnusedResource = errors.New("graph: resource declared but never accessed")

	// ErrCompiled is returned for declarations after Compile.
	ErrCompiled = errors.New("graph: builder already compiled")

	// ErrAlreadyCompiled is returned when Compile is called twice.
	ErrAlreadyCompiled = errors.New("graph: compile called twice")

	// ErrReadBeforeWrite is returned when a pass reads a resource with no
	// preceding write or import.
	ErrReadBeforeWrite = errors.New("graph: read before write")

	// ErrInvalidHandle is returned for zero handles and handles of another build.
	ErrInvalidHandle = errors.New("graph: invalid handle")

	// ErrInvalidAccess is returned when an access mode and usage do not match.
	ErrInvalidAccess = errors.New("graph: invalid access")

	// ErrUnknownPass is returned when DependsOn names a pass that does not exist.
	ErrUnknownPass = errors.New("graph: unknown pass")

	// ErrInvalidName is returned for empty resource or pass names.
	ErrInvalidName = errors.New("graph: invalid name")

	// ErrNoBackbuffer is returned when no backbuffer extent is configured.
	ErrNoBackbuffer = errors.New("graph: backbuffer not configured")

	// ErrPlanInvalidated is returned when executing a plan compiled before
	// the last Graph.Invalidate.
	ErrPlanInvalidated = errors.New("graph: plan invalidated")

	// ErrPlanExecuted is returned when executing a plan twice.
	ErrPlanExecuted = errors.New("graph: plan already executed")

	// ErrPlanDiscarded is returned when executing a discarded plan.
	ErrPlanDiscarded = errors.New("graph: plan discarded")

	// ErrInvalidPlan is returned when compile-time validation finds an
	// inconsistent plan.
	ErrInvalidPlan = errors.New("graph: invalid plan")

	// ErrCycle is wrapped by CycleError.
	ErrCycle = errors.New("graph: dependency cycle")
)

// CycleError reports a dependency cycle. Passes lists the cycle in
// dependency order with the first pass repeated at the end.
type CycleError struct {
	Passes []string
}

// Error implements error.
func (e *CycleError) Error() string {
	return "graph: dependency cycle: " + strings.Join(e.Passes, " -> ")
}

// Unwrap returns ErrCycle.
func (e *CycleError) Unwrap() error { return ErrCycle }
