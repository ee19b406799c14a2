package graphviz

import (
	"fmt"
	"image/color"
	"io"
	"strings"

	"github.com/gogpu/framegraph/graph"
)

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func quote(s string) string { return `"` + dotEscaper.Replace(s) + `"` }

func hex(c color.RGBA) string { return fmt.Sprintf(`"#%02x%02x%02x"`, c.R, c.G, c.B) }

// WriteDOT writes p as a Graphviz digraph. Pass nodes are boxes colored by
// queue, resource nodes are ellipses colored by residency, writes point
// from pass to resource and reads from resource to pass. Cross-queue waits
// are dashed pass-to-pass edges and culled passes appear greyed out with
// no edges.
func WriteDOT(w io.Writer, p *graph.Plan) error {
	var sb strings.Builder
	sb.WriteString("digraph frame {\n")
	sb.WriteString("\trankdir=LR;\n")
	sb.WriteString("\tnode [fontname=\"Helvetica\" fontsize=10];\n")

	resources := p.Resources()
	for i, r := range resources {
		if !r.Used {
			continue
		}
		label := fmt.Sprintf("%s\n%s %s", r.Name, r.Residency, r.Kind)
		if r.Placed {
			label += fmt.Sprintf("\nb%d+%d (%d)", r.Placement.Block, r.Placement.Offset, r.Placement.Size)
		}
		fmt.Fprintf(&sb, "\tr%d [label=%s shape=ellipse style=filled fillcolor=%s];\n",
			i, quote(label), hex(residencyColors[r.Residency]))
	}

	passes := p.Passes()
	for _, sp := range passes {
		label := fmt.Sprintf("%d: %s\n%s", sp.Position, sp.Name, sp.Queue)
		if n := sp.BarrierCount(); n > 0 {
			label += fmt.Sprintf("\n%d barriers", n)
		}
		fmt.Fprintf(&sb, "\tp%d [label=%s shape=box style=filled fontcolor=white fillcolor=%s];\n",
			sp.Position, quote(label), hex(queueColors[sp.Queue]))
	}
	for i, name := range p.Culled() {
		fmt.Fprintf(&sb, "\tc%d [label=%s shape=box style=dotted fontcolor=grey];\n", i, quote(name))
	}

	for _, sp := range passes {
		for _, a := range sp.Accesses {
			r := a.Resource()
			if a.Mode() != graph.Write {
				fmt.Fprintf(&sb, "\tr%d -> p%d [label=%s];\n", r, sp.Position, quote(a.Usage().String()))
			}
			if a.Mode() != graph.Read {
				fmt.Fprintf(&sb, "\tp%d -> r%d [label=%s];\n", sp.Position, r, quote(a.Usage().String()))
			}
		}
		for _, wait := range sp.Waits {
			fmt.Fprintf(&sb, "\tp%d -> p%d [style=dashed color=%s constraint=false];\n",
				wait, sp.Position, hex(waitColor))
		}
	}
	sb.WriteString("}\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("graphviz: write dot: %w", err)
	}
	return nil
}
