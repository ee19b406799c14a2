package framegraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/executor"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/internal/logging"
)

// ErrHeadless is returned by Resize on a device without a swapchain.
var ErrHeadless = errors.New("framegraph: device has no swapchain")

// Option configures a Renderer during creation.
type Option func(*options)

type options struct {
	graph    []graph.Option
	executor []executor.Option
}

// WithGraphOptions appends graph options. They are applied after the
// device-derived capabilities, allocation info and backbuffer, so they can
// override them.
func WithGraphOptions(opts ...graph.Option) Option {
	return func(o *options) {
		o.graph = append(o.graph, opts...)
	}
}

// WithExecutorOptions appends executor options.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) {
		o.executor = append(o.executor, opts...)
	}
}

// BuildFunc declares one frame on b.
type BuildFunc func(b *graph.Builder) error

// Renderer drives the frame loop of one graph on one device: declare,
// compile, execute, retire.
//
// Renderer is safe for concurrent use, but frames are built one at a time.
type Renderer struct {
	dev       backend.Device
	ownDevice bool
	graph     *graph.Graph
	exec      *executor.Executor
}

// Open opens a device on the named backend and creates a Renderer that
// owns it. An empty name selects the default backend.
func Open(name string, cfg backend.Config, opts ...Option) (*Renderer, error) {
	dev, err := backend.Open(name, cfg)
	if err != nil {
		return nil, err
	}
	r, err := New(dev, opts...)
	if err != nil {
		dev.Destroy()
		return nil, err
	}
	r.ownDevice = true
	return r, nil
}

// New creates a Renderer on dev. The caller keeps ownership of dev.
func New(dev backend.Device, opts ...Option) (*Renderer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	gopts := []graph.Option{
		graph.WithCapabilities(dev.Capabilities()),
		graph.WithAllocationInfo(dev),
	}
	if sc := dev.Swapchain(); sc != nil {
		w, h := sc.Extent()
		gopts = append(gopts, graph.WithBackbuffer(sc.Format(), w, h))
	}
	g := graph.New(append(gopts, o.graph...)...)

	exec, err := executor.New(dev, g, o.executor...)
	if err != nil {
		return nil, fmt.Errorf("framegraph: %w", err)
	}
	logging.Logger().Info("framegraph: renderer created",
		"backend", dev.Backend(), "caps", dev.Capabilities().Queues, "headless", dev.Swapchain() == nil)
	return &Renderer{dev: dev, graph: g, exec: exec}, nil
}

// Device returns the device.
func (r *Renderer) Device() backend.Device { return r.dev }

// Graph returns the persistent graph.
func (r *Renderer) Graph() *graph.Graph { return r.graph }

// Executor returns the executor.
func (r *Renderer) Executor() *executor.Executor { return r.exec }

// Compile declares a frame with build and compiles it without executing.
func (r *Renderer) Compile(build BuildFunc) (*graph.Plan, error) {
	b := r.graph.Begin()
	if err := build(b); err != nil {
		return nil, err
	}
	return b.Compile()
}

// Frame retires completed frames, then declares, compiles and executes a
// new one. The returned frame is in flight.
func (r *Renderer) Frame(ctx context.Context, build BuildFunc) (*executor.Frame, error) {
	r.exec.Poll()
	plan, err := r.Compile(build)
	if err != nil {
		return nil, err
	}
	return r.exec.Execute(ctx, plan)
}

// Resize reconfigures the swapchain and invalidates plans compiled for
// the old extent.
func (r *Renderer) Resize(width, height uint32) error {
	sc := r.dev.Swapchain()
	if sc == nil {
		return ErrHeadless
	}
	if err := sc.Configure(width, height); err != nil {
		return fmt.Errorf("framegraph: resize %dx%d: %w", width, height, err)
	}
	r.graph.Resize(width, height)
	return nil
}

// Poll retires completed frames and returns how many were retired.
func (r *Renderer) Poll() int { return r.exec.Poll() }

// Stats returns executor statistics.
func (r *Renderer) Stats() executor.Stats { return r.exec.Stats() }

// Close waits for the device, releases every frame and export, and
// destroys the device if Open created it.
func (r *Renderer) Close() error {
	err := r.exec.Close()
	if r.ownDevice {
		r.ownDevice = false
		r.dev.Destroy()
	}
	return err
}
