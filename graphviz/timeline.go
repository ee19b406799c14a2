package graphviz

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/graph"
)

// Layout defaults.
const (
	DefaultCellWidth = 96
	DefaultRowHeight = 20

	labelWidth = 112
	margin     = 4
	fontSize   = 11
)

// Options controls timeline layout.
type Options struct {
	// CellWidth is the width of one resolved position in pixels.
	CellWidth int

	// RowHeight is the height of a queue lane or resource row.
	RowHeight int

	// Scale enlarges the finished image by an integer factor.
	Scale int

	// HideResources omits the resource lifetime rows.
	HideResources bool
}

func (o Options) normalize() Options {
	if o.CellWidth <= 0 {
		o.CellWidth = DefaultCellWidth
	}
	if o.RowHeight <= 0 {
		o.RowHeight = DefaultRowHeight
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	return o
}

var (
	background = color.RGBA{R: 0xfa, G: 0xfa, B: 0xfa, A: 0xff}
	gridColor  = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	inkColor   = color.RGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff}
	tickColor  = color.RGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff}
	waitColor  = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}

	queueColors = [backend.NumQueueTypes]color.RGBA{
		backend.QueueGraphics: {R: 0x4c, G: 0x78, B: 0xa8, A: 0xff},
		backend.QueueCompute:  {R: 0xf5, G: 0x85, B: 0x18, A: 0xff},
		backend.QueueCopy:     {R: 0x54, G: 0xa2, B: 0x4b, A: 0xff},
	}

	residencyColors = map[graph.Residency]color.RGBA{
		graph.Transient:  {R: 0x9d, G: 0x75, B: 0x5d, A: 0xff},
		graph.Imported:   {R: 0x72, G: 0xb7, B: 0xb2, A: 0xff},
		graph.Exported:   {R: 0xb2, G: 0x79, B: 0xa2, A: 0xff},
		graph.Backbuffer: {R: 0xe4, G: 0x57, B: 0x56, A: 0xff},
	}
)

var (
	fontOnce   sync.Once
	parsedFont *opentype.Font
	fontErr    error
)

// newFace returns a fresh label face. Faces cache glyphs and are not safe
// for concurrent use, so every render gets its own.
func newFace() (font.Face, error) {
	fontOnce.Do(func() {
		parsedFont, fontErr = opentype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return opentype.NewFace(parsedFont, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// timeline holds the layout of one render.
type timeline struct {
	img   *image.RGBA
	face  font.Face
	opts  Options
	lanes [backend.NumQueueTypes]int // row of each used queue, -1 if unused
}

// RenderTimeline draws p. Labels are skipped if the font cannot be loaded.
func RenderTimeline(p *graph.Plan, opts Options) *image.RGBA {
	opts = opts.normalize()
	passes := p.Passes()

	tl := &timeline{opts: opts}
	var used [backend.NumQueueTypes]bool
	for _, sp := range passes {
		used[sp.Queue] = true
	}
	// Lanes follow queue order so graphics is always on top.
	rows := 0
	for q := range tl.lanes {
		tl.lanes[q] = -1
		if used[q] {
			tl.lanes[q] = rows
			rows++
		}
	}

	var resources []graph.ResourceInfo
	if !opts.HideResources {
		for _, r := range p.Resources() {
			if r.Used {
				resources = append(resources, r)
			}
		}
	}

	cols := max(len(passes), 1)
	width := labelWidth + cols*opts.CellWidth + margin
	laneRows := max(rows, 1)
	height := (laneRows+len(resources))*opts.RowHeight + margin*2
	if len(resources) > 0 {
		height += opts.RowHeight / 2
	}

	tl.img = image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(tl.img, tl.img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	if face, err := newFace(); err == nil {
		tl.face = face
		defer func() { _ = face.Close() }()
	}

	for c := 0; c <= cols; c++ {
		x := labelWidth + c*opts.CellWidth
		tl.fill(image.Rect(x, margin, x+1, height-margin), gridColor)
	}
	for q, row := range tl.lanes {
		if row >= 0 {
			tl.label(image.Rect(margin, tl.rowY(row), labelWidth, tl.rowY(row)+opts.RowHeight),
				backend.QueueType(q).String(), inkColor)
		}
	}

	for i := range passes {
		tl.pass(&passes[i])
	}
	for i := range passes {
		for _, w := range passes[i].Waits {
			tl.wait(&passes[w], &passes[i])
		}
	}

	top := tl.rowY(laneRows) + opts.RowHeight/2
	for i, r := range resources {
		tl.resource(top+i*opts.RowHeight, r)
	}

	if opts.Scale == 1 {
		return tl.img
	}
	b := tl.img.Bounds()
	scaled := image.NewRGBA(image.Rect(0, 0, b.Dx()*opts.Scale, b.Dy()*opts.Scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), tl.img, b, draw.Src, nil)
	return scaled
}

// WritePNG renders p and encodes it as PNG.
func WritePNG(w io.Writer, p *graph.Plan, opts Options) error {
	if err := png.Encode(w, RenderTimeline(p, opts)); err != nil {
		return fmt.Errorf("graphviz: encode png: %w", err)
	}
	return nil
}

func (tl *timeline) rowY(row int) int { return margin + row*tl.opts.RowHeight }

func (tl *timeline) cell(pos int) image.Rectangle {
	x := labelWidth + pos*tl.opts.CellWidth
	return image.Rect(x+2, 0, x+tl.opts.CellWidth-2, 0)
}

func (tl *timeline) passRect(sp *graph.ScheduledPass) image.Rectangle {
	c := tl.cell(sp.Position)
	y := tl.rowY(tl.lanes[sp.Queue])
	return image.Rect(c.Min.X, y+2, c.Max.X, y+tl.opts.RowHeight-2)
}

func (tl *timeline) pass(sp *graph.ScheduledPass) {
	r := tl.passRect(sp)
	tl.fill(r, queueColors[sp.Queue])

	// One tick per barrier: leading ticks for Before, trailing for After.
	n := 0
	for _, b := range sp.Before {
		if b.Kind == backend.BarrierActivate {
			continue
		}
		x := r.Min.X + n*3
		tl.fill(image.Rect(x, r.Min.Y, x+2, r.Max.Y), tickColor)
		n++
	}
	for i := range sp.After {
		x := r.Max.X - 2 - i*3
		tl.fill(image.Rect(x, r.Min.Y, x+2, r.Max.Y), tickColor)
	}
	tl.label(r.Inset(3), sp.Name, color.White)
}

// wait draws a line from the end of the awaited pass to the start of the
// waiting one.
func (tl *timeline) wait(from, to *graph.ScheduledPass) {
	a, b := tl.passRect(from), tl.passRect(to)
	tl.line(image.Pt(a.Max.X, (a.Min.Y+a.Max.Y)/2), image.Pt(b.Min.X, (b.Min.Y+b.Max.Y)/2), waitColor)
}

func (tl *timeline) resource(y int, r graph.ResourceInfo) {
	h := tl.opts.RowHeight
	tl.label(image.Rect(margin, y, labelWidth, y+h), r.Name, inkColor)
	if r.First < 0 {
		return
	}
	first, last := tl.cell(r.First), tl.cell(r.Last)
	bar := image.Rect(first.Min.X, y+4, last.Max.X, y+h-4)
	tl.fill(bar, residencyColors[r.Residency])
	if r.Placed {
		tl.label(bar.Inset(2), fmt.Sprintf("b%d+%d", r.Placement.Block, r.Placement.Offset), color.White)
	}
}

func (tl *timeline) fill(r image.Rectangle, c color.Color) {
	draw.Draw(tl.img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// line draws a one pixel line with Bresenham's algorithm.
func (tl *timeline) line(p0, p1 image.Point, c color.RGBA) {
	dx, dy := abs(p1.X-p0.X), -abs(p1.Y-p0.Y)
	sx, sy := 1, 1
	if p0.X > p1.X {
		sx = -1
	}
	if p0.Y > p1.Y {
		sy = -1
	}
	e := dx + dy
	for {
		tl.img.SetRGBA(p0.X, p0.Y, c)
		if p0 == p1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			p0.X += sx
		}
		if e2 <= dx {
			e += dx
			p0.Y += sy
		}
	}
}

// label draws s left-aligned and vertically centered in r, truncated to
// fit its width.
func (tl *timeline) label(r image.Rectangle, s string, c color.Color) {
	if tl.face == nil || r.Dx() <= 0 {
		return
	}
	s = truncate(tl.face, s, fixed.I(r.Dx()))
	if s == "" {
		return
	}
	m := tl.face.Metrics()
	base := r.Min.Y + (r.Dy()+m.Ascent.Ceil()-m.Descent.Ceil())/2
	d := font.Drawer{
		Dst:  tl.img,
		Src:  image.NewUniform(c),
		Face: tl.face,
		Dot:  fixed.P(r.Min.X, base),
	}
	d.DrawString(s)
}

func truncate(face font.Face, s string, width fixed.Int26_6) string {
	if font.MeasureString(face, s) <= width {
		return s
	}
	runes := []rune(s)
	for n := len(runes) - 1; n > 0; n-- {
		t := string(runes[:n]) + ".."
		if font.MeasureString(face, t) <= width {
			return t
		}
	}
	return ""
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
