package graphviz

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/graph"
)

var asyncCaps = backend.Capabilities{
	Queues:          [backend.NumQueueTypes]bool{true, true, true},
	PlacedResources: true,
}

// crossQueuePlan: A writes T on graphics, B reads T and writes U on
// compute, C reads U on graphics.
func crossQueuePlan(t *testing.T, opts ...graph.Option) *graph.Plan {
	t.Helper()
	b := graph.New(append([]graph.Option{graph.WithCapabilities(asyncCaps)}, opts...)...).Begin()
	tex, err := b.DeclareTexture(backend.TextureDesc{Width: 64, Height: 64, Format: gputypes.TextureFormatRGBA8Unorm}, "T")
	if err != nil {
		t.Fatal(err)
	}
	buf, err := b.DeclareBuffer(backend.BufferDesc{Size: 4096}, "U")
	if err != nil {
		t.Fatal(err)
	}
	passes := []struct {
		name string
		hint graph.QueueHint
		acc  []graph.Access
	}{
		{"A", graph.QueueGraphics, []graph.Access{graph.WriteTexture(tex, backend.UsageColorTarget)}},
		{"B", graph.QueueCompute, []graph.Access{
			graph.ReadTexture(tex, backend.UsageSampled),
			graph.WriteBuffer(buf, backend.UsageStorageWrite),
		}},
		{"C", graph.QueueGraphics, []graph.Access{graph.ReadBuffer(buf, backend.UsageStorageRead)}},
	}
	for _, p := range passes {
		if _, err := b.AddPass(p.name, p.hint, p.acc, nil); err != nil {
			t.Fatalf("AddPass(%q) error = %v", p.name, err)
		}
	}
	plan, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return plan
}

func TestRenderTimelineLayout(t *testing.T) {
	plan := crossQueuePlan(t)

	tests := []struct {
		name          string
		opts          Options
		width, height int
	}{
		{"defaults", Options{}, labelWidth + 3*DefaultCellWidth + margin, 4*DefaultRowHeight + 2*margin + DefaultRowHeight/2},
		{"hide resources", Options{HideResources: true}, labelWidth + 3*DefaultCellWidth + margin, 2*DefaultRowHeight + 2*margin},
		{"custom cells", Options{CellWidth: 50, RowHeight: 10}, labelWidth + 3*50 + margin, 4*10 + 2*margin + 5},
		{"scaled", Options{Scale: 2, HideResources: true}, 2 * (labelWidth + 3*DefaultCellWidth + margin), 2 * (2*DefaultRowHeight + 2*margin)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := RenderTimeline(plan, tt.opts).Bounds()
			if b.Dx() != tt.width || b.Dy() != tt.height {
				t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.width, tt.height)
			}
		})
	}
}

func TestRenderTimelineColors(t *testing.T) {
	plan := crossQueuePlan(t)
	img := RenderTimeline(plan, Options{})

	// Bottom-left corner of pass A: graphics lane, no leading barriers.
	if got := img.RGBAAt(labelWidth+3, margin+DefaultRowHeight-3); got != queueColors[backend.QueueGraphics] {
		t.Errorf("pass A pixel = %v, want graphics color", got)
	}
	// Bottom-left corner of pass B on the compute lane. Its leading
	// barriers draw ticks, so sample past them.
	b, _ := plan.Pass("B")
	x := labelWidth + DefaultCellWidth + 2 + 3*len(b.Before) + 1
	if got := img.RGBAAt(x, margin+2*DefaultRowHeight-3); got != queueColors[backend.QueueCompute] {
		t.Errorf("pass B pixel = %v, want compute color", got)
	}

	waits := 0
	for _, sp := range plan.Passes() {
		for _, w := range sp.Waits {
			waits++
			from := plan.Passes()[w]
			start := labelWidth + from.Position*DefaultCellWidth + DefaultCellWidth - 2
			y := margin + int(from.Queue)*DefaultRowHeight + DefaultRowHeight/2
			if got := img.RGBAAt(start, y); got != waitColor {
				t.Errorf("wait %s -> %s start pixel = %v", from.Name, sp.Name, got)
			}
		}
	}
	if waits == 0 {
		t.Fatal("cross-queue plan has no waits")
	}

	// Resource rows start below the lanes; T lives at position 0.
	top := margin + 2*DefaultRowHeight + DefaultRowHeight/2
	if got := img.RGBAAt(labelWidth+3, top+DefaultRowHeight-5); got != residencyColors[graph.Transient] {
		t.Errorf("resource T pixel = %v, want transient color", got)
	}
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, crossQueuePlan(t), Options{Scale: 2}); err != nil {
		t.Fatalf("WritePNG() error = %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if got, want := img.Bounds().Dx(), 2*(labelWidth+3*DefaultCellWidth+margin); got != want {
		t.Errorf("width = %d, want %d", got, want)
	}
}

func TestWriteDOT(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDOT(&buf, crossQueuePlan(t)); err != nil {
		t.Fatalf("WriteDOT() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"digraph frame {",
		"\tr0 [label=\"T\\ntransient texture",
		"\tr1 [label=\"U\\ntransient buffer",
		"\tp0 -> r0 [",
		"\tr0 -> p1 [",
		"\tp1 -> r1 [",
		"\tr1 -> p2 [",
		"style=dashed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Errorf("output not closed:\n%s", out)
	}
}

func TestWriteDOTCulled(t *testing.T) {
	b := graph.New(graph.WithCulling(true)).Begin()
	keep, _ := b.DeclareBuffer(backend.BufferDesc{Size: 256}, "kept")
	drop, _ := b.DeclareBuffer(backend.BufferDesc{Size: 256}, "dropped")
	if _, err := b.AddPass("side", graph.QueueGraphics, []graph.Access{graph.WriteBuffer(keep, backend.UsageCopyDst)}, nil, graph.SideEffect()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddPass(`say "hi"`, graph.QueueGraphics, []graph.Access{graph.WriteBuffer(drop, backend.UsageCopyDst)}, nil); err != nil {
		t.Fatal(err)
	}
	plan, err := b.Compile()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteDOT(&buf, plan); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `c0 [label="say \"hi\"" shape=box style=dotted`) {
		t.Errorf("culled pass not rendered:\n%s", out)
	}
	if strings.Contains(out, "r1 ") {
		t.Errorf("unused resource rendered:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	face, err := newFace()
	if err != nil {
		t.Fatalf("newFace() error = %v", err)
	}
	defer face.Close()

	if got := truncate(face, "shadow", fixed.I(1000)); got != "shadow" {
		t.Errorf("wide truncate = %q", got)
	}
	got := truncate(face, "a-very-long-pass-name", fixed.I(40))
	if !strings.HasSuffix(got, "..") || len(got) >= len("a-very-long-pass-name") {
		t.Errorf("narrow truncate = %q", got)
	}
	if got := truncate(face, "wide", fixed.I(1)); got != "" {
		t.Errorf("truncate to nothing = %q", got)
	}
}
