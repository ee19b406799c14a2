// Command fgdemo compiles a frame graph description and runs it for a few
// frames on a backend.
//
// Usage:
//
//	fgdemo [flags] [description.hcl]
//
// Without a description the built-in deferred frame is used. The compiled
// plan can be dumped as text, rendered as a PNG timeline or written as a
// Graphviz digraph.
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/backend/native"
	_ "github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/graphdesc"
	"github.com/gogpu/framegraph/graphviz"
	"github.com/gogpu/framegraph/internal/shader"
)

//go:embed frame.hcl
var defaultFrame []byte

// errUsage is returned after printing usage for bad arguments.
var errUsage = errors.New("fgdemo: invalid arguments")

type config struct {
	backend  string
	adapter  string
	desc     string
	width    uint
	height   uint
	frames   int
	async    bool
	headless bool
	timeline string
	dot      string
	dump     bool
	scale    int
	logLevel string
}

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseFlags(out io.Writer, args []string) (*config, error) {
	fs := flag.NewFlagSet("fgdemo", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, `fgdemo - compile and run a frame graph description.

Usage:
  fgdemo [flags] [description.hcl]

Flags:
`)
		fs.PrintDefaults()
	}

	cfg := &config{}
	fs.StringVar(&cfg.backend, "backend", backend.BackendSoftware, "device backend: software or native")
	fs.StringVar(&cfg.adapter, "adapter", "", "HAL adapter for the native backend (vulkan, metal, dx12, gl, software, noop)")
	fs.UintVar(&cfg.width, "width", 800, "swapchain width")
	fs.UintVar(&cfg.height, "height", 600, "swapchain height")
	fs.IntVar(&cfg.frames, "frames", 3, "number of frames to execute")
	fs.BoolVar(&cfg.async, "async", true, "expose compute and copy queues")
	fs.BoolVar(&cfg.headless, "headless", false, "open the device without a swapchain")
	fs.StringVar(&cfg.timeline, "timeline", "", "write the plan timeline as PNG to this path")
	fs.StringVar(&cfg.dot, "dot", "", "write the plan as a Graphviz digraph to this path")
	fs.BoolVar(&cfg.dump, "dump", false, "print the compiled plan")
	fs.IntVar(&cfg.scale, "scale", 1, "timeline scale factor")
	fs.StringVar(&cfg.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	switch fs.NArg() {
	case 0:
	case 1:
		cfg.desc = fs.Arg(0)
	default:
		fs.Usage()
		return nil, fmt.Errorf("%w: more than one description", errUsage)
	}
	if cfg.frames < 0 || cfg.scale < 1 {
		return nil, fmt.Errorf("%w: frames must be >= 0 and scale >= 1", errUsage)
	}
	if cfg.width == 0 || cfg.height == 0 || cfg.width > 1<<14 || cfg.height > 1<<14 {
		return nil, fmt.Errorf("%w: extent %dx%d out of range", errUsage, cfg.width, cfg.height)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", errUsage, level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// run is main without the process exit.
func run(out io.Writer, args []string) error {
	cfg, err := parseFlags(out, args)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.logLevel)
	if err != nil {
		return err
	}
	framegraph.SetLogger(logger)
	defer framegraph.SetLogger(nil)

	vars := graphdesc.Variables{Width: uint32(cfg.width), Height: uint32(cfg.height)} //nolint:gosec // checked in parseFlags
	var desc *graphdesc.Description
	if cfg.desc == "" {
		desc, err = graphdesc.Parse(defaultFrame, "frame.hcl", vars)
	} else {
		desc, err = graphdesc.ParseFile(cfg.desc, vars)
	}
	if err != nil {
		return err
	}
	if cfg.headless && desc.Backbuffer != nil && cfg.frames > 0 {
		return fmt.Errorf("fgdemo: description presents to %q but the device is headless", desc.Backbuffer.Name)
	}

	devCfg := backend.Config{
		Label:       "fgdemo",
		Adapter:     cfg.adapter,
		AsyncQueues: cfg.async,
	}
	if !cfg.headless {
		devCfg.Width, devCfg.Height = vars.Width, vars.Height
	}
	r, err := framegraph.Open(cfg.backend, devCfg, framegraph.WithGraphOptions(desc.Options()...))
	if err != nil {
		return err
	}
	defer r.Close()

	rec := newRecorder(desc)
	if dev, ok := r.Device().(*native.Device); ok {
		fill, err := shader.NewFillPipeline(dev.Native().(hal.Device))
		if err != nil {
			return err
		}
		defer func() {
			if err := dev.WaitIdle(); err != nil {
				logger.Warn("fgdemo: wait idle", "err", err)
			}
			fill.Destroy()
		}()
		rec.fill, rec.queue = fill, dev.HALQueue()
	}

	plan, err := r.Compile(rec.build)
	if err != nil {
		return err
	}
	err = report(out, cfg, plan)
	plan.Discard()
	if err != nil {
		return err
	}
	return execute(out, r, rec, cfg.frames)
}

// report writes the requested views of plan.
func report(out io.Writer, cfg *config, plan *graph.Plan) error {
	if cfg.dump {
		fmt.Fprintln(out, plan)
	}
	if cfg.timeline != "" {
		if err := writeFile(cfg.timeline, func(w io.Writer) error {
			return graphviz.WritePNG(w, plan, graphviz.Options{Scale: cfg.scale})
		}); err != nil {
			return err
		}
	}
	if cfg.dot != "" {
		if err := writeFile(cfg.dot, func(w io.Writer) error { return graphviz.WriteDOT(w, plan) }); err != nil {
			return err
		}
	}
	if culled := plan.Culled(); len(culled) > 0 {
		fmt.Fprintf(out, "culled: %s\n", strings.Join(culled, ", "))
	}
	return nil
}

func execute(out io.Writer, r *framegraph.Renderer, rec *recorder, frames int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	presented := 0
	for range frames {
		f, err := r.Frame(ctx, rec.build)
		if err != nil {
			return err
		}
		if f.Presented() {
			presented++
		}
	}
	if err := r.Executor().Drain(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "frames: %d presented: %d in %s\n", frames, presented, time.Since(start).Round(time.Microsecond))
	fmt.Fprintf(out, "stats: %s\n", r.Stats())
	return nil
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(f)
}
