package graph

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/framegraph/backend"
)

type fakeTexture struct{ desc backend.TextureDesc }

func (t *fakeTexture) Label() string             { return t.desc.Label }
func (t *fakeTexture) Native() any               { return nil }
func (t *fakeTexture) Desc() backend.TextureDesc { return t.desc }

func TestExportsAcrossFrames(t *testing.T) {
	g := New()

	b1 := g.Begin()
	h1 := mustTexture(t, b1, "history", AsExport())
	mustPass(t, b1, "accumulate", QueueGraphics, []Access{WriteTexture(h1, backend.UsageColorTarget)})
	plan1 := mustCompile(t, b1)
	if plan1.Resources()[0].Placed {
		t.Error("exported resources live outside the transient arena")
	}

	// Not yet submitted: contents are still undefined.
	early := g.Begin()
	h, ok := early.Blackboard().Texture("history")
	if !ok {
		t.Fatal("retained export missing from blackboard")
	}
	mustPass(t, early, "resolve", QueueGraphics, []Access{ReadTexture(h, backend.UsageSampled)})
	if _, err := early.Compile(); !errors.Is(err, ErrReadBeforeWrite) {
		t.Errorf("read of unsubmitted export: %v", err)
	}

	plan1.Commit()
	exports := g.Exports()
	if len(exports) != 1 {
		t.Fatalf("Exports() = %d, want 1", len(exports))
	}
	usage, queue, written := exports[0].State()
	if usage != backend.UsageColorTarget || queue != backend.QueueGraphics || !written {
		t.Errorf("State() = %s, %s, %v", usage, queue, written)
	}
	phys := &fakeTexture{desc: exports[0].TextureDesc()}
	exports[0].BindTexture(phys)

	b2 := g.Begin()
	h2, _ := b2.Blackboard().Texture("history")
	mustPass(t, b2, "resolve", QueueGraphics, []Access{ReadTexture(h2, backend.UsageSampled)})
	plan2 := mustCompile(t, b2)
	res := plan2.Resources()[h2.Index()]
	if res.Residency != Exported || res.Initial != backend.UsageColorTarget {
		t.Errorf("retained export = %s initial %s", res.Residency, res.Initial)
	}
	sp := mustGetPass(t, plan2, "resolve")
	if sp.BarrierCount() != 1 || sp.Before[0].Kind != backend.BarrierTransition {
		t.Errorf("resolve.Before = %+v, want one transition", sp.Before)
	}

	if !g.ReleaseExport("history") {
		t.Fatal("ReleaseExport() = false")
	}
	texs, bufs := g.TakeRetired()
	if len(texs) != 1 || texs[0] != phys || len(bufs) != 0 {
		t.Errorf("TakeRetired() = %v, %v", texs, bufs)
	}
	if _, ok := g.Begin().Blackboard().Texture("history"); ok {
		t.Error("released export still retained")
	}
}

func TestExportRedeclaredWithNewDescriptor(t *testing.T) {
	g := New()
	b1 := g.Begin()
	h1 := mustTexture(t, b1, "history", AsExport())
	mustPass(t, b1, "w", QueueGraphics, []Access{WriteTexture(h1, backend.UsageColorTarget)})
	mustCompile(t, b1).Commit()

	b2 := g.Begin()
	same, err := b2.DeclareTexture(colorDesc(), "history", AsExport())
	if err != nil {
		t.Fatal(err)
	}
	if old, _ := b2.Blackboard().Texture("history"); old != same {
		t.Error("matching redeclaration should reuse the retained handle")
	}

	b3 := g.Begin()
	bigger := colorDesc()
	bigger.Width = 128
	h3, err := b3.DeclareTexture(bigger, "history", AsExport())
	if err != nil {
		t.Fatal(err)
	}
	mustPass(t, b3, "w", QueueGraphics, []Access{WriteTexture(h3, backend.UsageColorTarget)})
	mustCompile(t, b3)
	exports := g.Exports()
	if len(exports) != 1 || exports[0].TextureDesc().Width != 128 {
		t.Errorf("export not replaced: %+v", exports)
	}
	if texs, _ := g.TakeRetired(); len(texs) != 0 {
		t.Errorf("unbound export should retire nothing physical, got %d", len(texs))
	}
}

func TestBackbuffer(t *testing.T) {
	t.Run("requires extent", func(t *testing.T) {
		if _, err := New().Begin().DeclareBackbuffer("swap"); !errors.Is(err, ErrNoBackbuffer) {
			t.Errorf("DeclareBackbuffer() error = %v", err)
		}
	})

	t.Run("graphics writer transitions to present", func(t *testing.T) {
		b := New(WithBackbuffer(gputypes.TextureFormatBGRA8Unorm, 800, 600)).Begin()
		swap, err := b.DeclareBackbuffer("swap")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.DeclareBackbuffer("again"); !errors.Is(err, ErrDuplicateName) {
			t.Errorf("second backbuffer: %v", err)
		}
		mustPass(t, b, "draw", QueueGraphics, []Access{WriteTexture(swap, backend.UsageColorTarget)})
		plan := mustCompile(t, b)

		idx, ok := plan.Backbuffer()
		if !ok || idx != swap.Index() {
			t.Fatalf("Backbuffer() = %d, %v", idx, ok)
		}
		res := plan.Resources()[idx]
		if res.Final != backend.UsagePresent || res.Placed {
			t.Errorf("backbuffer final=%s placed=%v", res.Final, res.Placed)
		}
		after := mustGetPass(t, plan, "draw").After
		want := Barrier{Kind: backend.BarrierTransition, Resource: idx, Before: backend.UsageColorTarget, After: backend.UsagePresent}
		if len(after) != 1 || !hasBarrier(after, want) {
			t.Errorf("draw.After = %+v", after)
		}
	})

	t.Run("compute writer hands over to graphics", func(t *testing.T) {
		g := New(WithCapabilities(asyncCaps), WithBackbuffer(gputypes.TextureFormatRGBA8Unorm, 320, 240), WithValidation(true))
		b := g.Begin()
		swap, _ := b.DeclareBackbuffer("swap")
		mustPass(t, b, "blit", QueueCompute, []Access{WriteTexture(swap, backend.UsageStorageWrite)})
		plan := mustCompile(t, b)

		batches := plan.Batches()
		if len(batches) != 2 {
			t.Fatalf("got %d batches, want compute + epilogue", len(batches))
		}
		epi := batches[1]
		if epi.Queue != backend.QueueGraphics || len(epi.Passes) != 0 || len(epi.Waits) != 1 || epi.Waits[0] != 0 {
			t.Errorf("epilogue batch = %+v", epi)
		}
		if len(epi.Barriers) != 1 || epi.Barriers[0].Kind != backend.BarrierAcquire || epi.Barriers[0].After != backend.UsagePresent {
			t.Errorf("epilogue barriers = %+v", epi.Barriers)
		}
		if !batches[0].Signal {
			t.Error("compute batch must signal the epilogue")
		}
	})
}

func TestImportOnOtherQueue(t *testing.T) {
	b := New(WithCapabilities(asyncCaps), WithValidation(true)).Begin()
	tex := &fakeTexture{desc: colorDesc().Normalize()}
	h, err := b.ImportTexture("shadow", tex, backend.UsageSampled, backend.QueueCompute)
	if err != nil {
		t.Fatal(err)
	}
	mustPass(t, b, "draw", QueueGraphics, []Access{ReadTexture(h, backend.UsageSampled)})
	plan := mustCompile(t, b)

	batches := plan.Batches()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want prologue + graphics", len(batches))
	}
	if batches[0].Queue != backend.QueueCompute || batches[0].Barriers[0].Kind != backend.BarrierRelease || !batches[0].Signal {
		t.Errorf("prologue batch = %+v", batches[0])
	}
	if diff := cmp.Diff([]int{0}, batches[1].Waits); diff != "" {
		t.Errorf("graphics waits (-want +got):\n%s", diff)
	}
	sp := mustGetPass(t, plan, "draw")
	if len(sp.Before) != 1 || sp.Before[0].Kind != backend.BarrierAcquire {
		t.Errorf("draw.Before = %+v", sp.Before)
	}
	if plan.Resources()[h.Index()].ImportedTexture != tex {
		t.Error("imported texture not carried into the plan")
	}

	if _, err := b.Graph().Begin().ImportTexture("nil", nil, backend.UsageSampled, backend.QueueGraphics); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("nil import: %v", err)
	}
}

type planShape struct {
	Order    []string
	Barriers map[string][]Barrier
	Batches  []Batch
}

func shapeOf(p *Plan) planShape {
	s := planShape{Order: p.Order(), Barriers: make(map[string][]Barrier), Batches: p.Batches()}
	for _, sp := range p.Passes() {
		s.Barriers[sp.Name] = append(append([]Barrier(nil), sp.Before...), sp.After...)
	}
	return s
}

func TestDeterministic(t *testing.T) {
	build := func() *Plan {
		g := New(WithCapabilities(asyncCaps))
		b := g.Begin()
		gbuf, light := mustTexture(t, b, "gbuffer"), mustTexture(t, b, "light")
		tiles := mustBuffer(t, b, "tiles")
		mustPass(t, b, "geometry", QueueGraphics, []Access{WriteTexture(gbuf, backend.UsageColorTarget)})
		mustPass(t, b, "cull-lights", QueueCompute, []Access{WriteBuffer(tiles, backend.UsageStorageWrite)})
		mustPass(t, b, "shade", QueueCompute, []Access{
			ReadTexture(gbuf, backend.UsageSampled),
			ReadBuffer(tiles, backend.UsageStorageRead),
			WriteTexture(light, backend.UsageStorageWrite),
		})
		mustPass(t, b, "post", QueueGraphics, []Access{
			ReadTexture(light, backend.UsageSampled),
			WriteTexture(gbuf, backend.UsageColorTarget),
		})
		return mustCompile(t, b)
	}
	want := shapeOf(build())
	for range 10 {
		if diff := cmp.Diff(want, shapeOf(build())); diff != "" {
			t.Fatalf("plan differs between builds (-first +later):\n%s", diff)
		}
	}
}

// TestRandomReadsFollowWrites checks on random graphs that every read runs
// after the writer it binds to with no other writer in between.
func TestRandomReadsFollowWrites(t *testing.T) {
	for seed := range uint64(50) {
		rng := rand.New(rand.NewPCG(seed, 7))
		g := New(WithCapabilities(asyncCaps), WithValidation(true))
		b := g.Begin()

		nRes := 2 + rng.IntN(6)
		handles := make([]TextureHandle, nRes)
		for r := range handles {
			handles[r] = mustTexture(t, b, fmt.Sprintf("r%d", r))
		}

		type read struct{ pass, writer, res int }
		var reads []read
		lastWriter := make([]int, nRes)
		for r := range lastWriter {
			lastWriter[r] = -1
		}
		writers := make([][]int, nRes)

		nPass := 3 + rng.IntN(12)
		for p := range nPass {
			var acc []Access
			hint := QueueGraphics
			if rng.IntN(3) == 0 {
				hint = QueueCompute
			}
			for _, r := range rng.Perm(nRes)[:1+rng.IntN(min(nRes, 3))] {
				if lastWriter[r] >= 0 && rng.IntN(2) == 0 {
					acc = append(acc, ReadTexture(handles[r], backend.UsageSampled))
					reads = append(reads, read{pass: p, writer: lastWriter[r], res: r})
					continue
				}
				acc = append(acc, WriteTexture(handles[r], backend.UsageStorageWrite))
				lastWriter[r] = p
				writers[r] = append(writers[r], p)
			}
			mustPass(t, b, fmt.Sprintf("p%d", p), hint, acc)
		}

		plan, err := b.Compile()
		if err != nil {
			t.Fatalf("seed %d: Compile() error = %v", seed, err)
		}
		pos := make([]int, nPass)
		for _, sp := range plan.Passes() {
			pos[sp.Index] = sp.Position
		}
		for _, rd := range reads {
			if pos[rd.writer] >= pos[rd.pass] {
				t.Fatalf("seed %d: p%d reads r%d at %d before its writer p%d at %d",
					seed, rd.pass, rd.res, pos[rd.pass], rd.writer, pos[rd.writer])
			}
			for _, w := range writers[rd.res] {
				if w != rd.writer && pos[w] > pos[rd.writer] && pos[w] < pos[rd.pass] {
					t.Fatalf("seed %d: p%d overwrites r%d between p%d and reader p%d",
						seed, w, rd.res, rd.writer, rd.pass)
				}
			}
		}
	}
}
