// Package software provides a CPU reference device for the frame graph.
//
// The software device executes recorded commands at submission time on
// plain byte slices and tracks the state of every resource the way a
// validation layer would: each access is checked against the usage the
// last barrier left, queue ownership transfers must be released, waited on
// and acquired, and activating a placed resource clobbers whatever aliased
// it before. Problems are collected as violations instead of failing the
// call, so tests can assert that a whole frame ran clean.
//
// Completion is simulated: a submission finishes after a configurable
// number of Completed polls, which lets tests observe frames in flight.
//
// Importing the package registers the "software" backend:
//
//	import _ "github.com/gogpu/framegraph/backend/software"
//
//	dev, err := backend.Open(backend.BackendSoftware, backend.Config{AsyncQueues: true})
package software
