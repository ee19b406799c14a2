// Package graphviz renders compiled frame plans for inspection.
//
// RenderTimeline draws a plan as an image: one lane per queue with a box
// per pass in resolved order, barrier ticks on the box edges, lines for
// cross-queue waits, and one row per resource showing its lifetime and
// arena placement. WriteDOT emits the pass and resource dependency graph
// in Graphviz DOT syntax.
//
//	plan, _ := b.Compile()
//	f, _ := os.Create("frame.png")
//	defer f.Close()
//	_ = graphviz.WritePNG(f, plan, graphviz.Options{Scale: 2})
package graphviz
