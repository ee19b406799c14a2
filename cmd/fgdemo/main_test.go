package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/graphdesc"
)

func TestRun_DefaultFrame(t *testing.T) {
	dir := t.TempDir()
	timeline := filepath.Join(dir, "plan.png")
	dot := filepath.Join(dir, "plan.dot")
	out := &bytes.Buffer{}

	err := run(out, []string{
		"-width", "64", "-height", "48", "-frames", "2", "-dump",
		"-timeline", timeline, "-dot", dot, "-scale", "2",
	})
	require.NoError(t, err, "output:\n%s", out.String())

	require.Contains(t, out.String(), "culled: debug")
	require.Contains(t, out.String(), "frames: 2 presented: 2")
	require.Contains(t, out.String(), "simulate")

	f, err := os.Open(timeline)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	require.NoError(t, err, "timeline is not a PNG")

	src, err := os.ReadFile(dot)
	require.NoError(t, err)
	require.Contains(t, string(src), "digraph frame {")
}

func TestRun_Help(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, []string{"-h"})
	require.ErrorIs(t, err, flag.ErrHelp)
	require.Contains(t, out.String(), "Usage:")
}

func TestRun_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"negative frames", []string{"-frames", "-1"}},
		{"zero scale", []string{"-scale", "0"}},
		{"zero width", []string{"-width", "0"}},
		{"two descriptions", []string{"a.hcl", "b.hcl"}},
		{"log level", []string{"-log-level", "loud"}},
		{"unknown flag", []string{"-vsync"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(&bytes.Buffer{}, tt.args)
			require.ErrorIs(t, err, errUsage)
		})
	}
}

func TestRun_Headless(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, run(out, []string{"-headless", "-frames", "0", "-dump"}))
	require.Contains(t, out.String(), "frames: 0")

	err := run(&bytes.Buffer{}, []string{"-headless", "-frames", "1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "headless")
}

func TestRun_DescriptionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compute.hcl")
	src := `
buffer "data" {
  size   = 1024
  export = true
}

pass "fill" {
  queue = "compute"
  write "data" { usage = "storage-write" }
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	out := &bytes.Buffer{}
	require.NoError(t, run(out, []string{"-headless", "-frames", "3", path}))
	require.Contains(t, out.String(), "frames: 3 presented: 0")

	err := run(&bytes.Buffer{}, []string{filepath.Join(t.TempDir(), "missing.hcl")})
	require.Error(t, err)
}

func TestRun_NativeNoop(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, []string{"-backend", "native", "-adapter", "noop", "-width", "32", "-height", "32", "-frames", "2"})
	require.NoError(t, err, "output:\n%s", out.String())
	require.Contains(t, out.String(), "frames: 2 presented:")
}

func TestRun_UnknownBackend(t *testing.T) {
	err := run(&bytes.Buffer{}, []string{"-backend", "metal2"})
	require.ErrorIs(t, err, backend.ErrBackendNotAvailable)
}

func TestRecorder_RunsClean(t *testing.T) {
	vars := graphdesc.Variables{Width: 32, Height: 16}
	desc, err := graphdesc.Parse(defaultFrame, "frame.hcl", vars)
	require.NoError(t, err)

	dev := software.Open(backend.Config{
		AsyncQueues:     true,
		Width:           vars.Width,
		Height:          vars.Height,
		SwapchainFormat: gputypes.TextureFormatRGBA8Unorm,
	})
	r, err := framegraph.New(dev, framegraph.WithGraphOptions(desc.Options()...))
	require.NoError(t, err)
	defer dev.Destroy()
	defer r.Close()

	rec := newRecorder(desc)
	require.EqualValues(t, 1024, rec.words, "smallest buffer is lights")
	for range 3 {
		f, err := r.Frame(context.Background(), rec.build)
		require.NoError(t, err)
		require.True(t, f.Presented())
	}
	require.NoError(t, r.Executor().Drain(context.Background()))
	require.Empty(t, dev.Violations())

	want := passColor("present")
	px := dev.Swapchain().(*software.Swapchain).Presented(0)[:4]
	require.Equal(t, []byte{unorm(want.R), unorm(want.G), unorm(want.B), 255}, px)
}

func TestPassColor(t *testing.T) {
	require.Equal(t, passColor("geometry"), passColor("geometry"))
	require.NotEqual(t, passColor("geometry"), passColor("lighting"))
	c := passColor("bloom")
	for _, v := range []float64{c.R, c.G, c.B} {
		require.True(t, v >= 0 && v <= 1, "component %v out of range", v)
	}
	require.Equal(t, 1.0, c.A)
}

func TestRun_ErrorsAreWrapped(t *testing.T) {
	err := run(&bytes.Buffer{}, []string{"-width", "99999"})
	require.True(t, errors.Is(err, errUsage))
}

func unorm(v float64) byte { return byte(min(max(v, 0), 1)*255 + 0.5) }
