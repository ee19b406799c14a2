package graphdesc

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/memory"
)

// Errors.
var (
	// ErrSyntax wraps HCL parse and decode diagnostics.
	ErrSyntax = errors.New("graphdesc: syntax error")

	// ErrInvalid is returned for values that do not name a format, usage,
	// queue or policy.
	ErrInvalid = errors.New("graphdesc: invalid value")

	// ErrUnknownResource is returned by Build when an access names no
	// declared resource.
	ErrUnknownResource = errors.New("graphdesc: unknown resource")
)

// Variables are the values visible to description expressions.
type Variables struct {
	Width  uint32
	Height uint32
}

func (v Variables) evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"screen": cty.ObjectVal(map[string]cty.Value{
				"width":  cty.NumberUIntVal(uint64(v.Width)),
				"height": cty.NumberUIntVal(uint64(v.Height)),
			}),
		},
		Functions: map[string]function.Function{
			"min":   stdlib.MinFunc,
			"max":   stdlib.MaxFunc,
			"floor": stdlib.FloorFunc,
			"ceil":  stdlib.CeilFunc,
		},
	}
}

// HCL schema.
type (
	fileSchema struct {
		Settings   *settingsSchema   `hcl:"settings,block"`
		Backbuffer *backbufferSchema `hcl:"backbuffer,block"`
		Textures   []textureSchema   `hcl:"texture,block"`
		Buffers    []bufferSchema    `hcl:"buffer,block"`
		Passes     []passSchema      `hcl:"pass,block"`
	}

	settingsSchema struct {
		Strict         bool   `hcl:"strict,optional"`
		Culling        bool   `hcl:"culling,optional"`
		Validation     bool   `hcl:"validation,optional"`
		BlockSize      uint64 `hcl:"block_size,optional"`
		MaxBlocks      int    `hcl:"max_blocks,optional"`
		FramesInFlight int    `hcl:"frames_in_flight,optional"`
		Policy         string `hcl:"policy,optional"`
	}

	backbufferSchema struct {
		Name   string `hcl:"name,label"`
		Format string `hcl:"format,optional"`
	}

	textureSchema struct {
		Name      string   `hcl:"name,label"`
		Width     uint32   `hcl:"width"`
		Height    uint32   `hcl:"height"`
		Depth     uint32   `hcl:"depth,optional"`
		MipLevels uint32   `hcl:"mip_levels,optional"`
		Samples   uint32   `hcl:"samples,optional"`
		Format    string   `hcl:"format"`
		Usage     []string `hcl:"usage,optional"`
		Export    bool     `hcl:"export,optional"`
	}

	bufferSchema struct {
		Name   string   `hcl:"name,label"`
		Size   uint64   `hcl:"size"`
		Usage  []string `hcl:"usage,optional"`
		Export bool     `hcl:"export,optional"`
	}

	passSchema struct {
		Name       string         `hcl:"name,label"`
		Queue      string         `hcl:"queue,optional"`
		SideEffect bool           `hcl:"side_effect,optional"`
		DependsOn  []string       `hcl:"depends_on,optional"`
		Reads      []accessSchema `hcl:"read,block"`
		Writes     []accessSchema `hcl:"write,block"`
		ReadWrites []accessSchema `hcl:"read_write,block"`
	}

	accessSchema struct {
		Resource string `hcl:"resource,label"`
		Usage    string `hcl:"usage"`
	}
)

// Settings are the graph options of a description.
type Settings struct {
	Strict     bool
	Culling    bool
	Validation bool
	Memory     memory.Config
}

// Backbuffer declares the presentable image.
type Backbuffer struct {
	Name   string
	Format gputypes.TextureFormat
}

// Texture is a declared texture.
type Texture struct {
	Name   string
	Desc   backend.TextureDesc
	Export bool
}

// Buffer is a declared buffer.
type Buffer struct {
	Name   string
	Desc   backend.BufferDesc
	Export bool
}

// Access is one resource access of a pass, by resource name.
type Access struct {
	Resource string
	Mode     graph.AccessMode
	Usage    backend.Usage
}

// Pass is a declared pass.
type Pass struct {
	Name       string
	Queue      graph.QueueHint
	SideEffect bool
	DependsOn  []string
	Accesses   []Access
}

// Description is a decoded frame graph description.
type Description struct {
	Settings   Settings
	Backbuffer *Backbuffer
	Textures   []Texture
	Buffers    []Buffer
	Passes     []Pass

	vars Variables
}

// ParseFile reads and decodes the description at path.
func ParseFile(path string, vars Variables) (*Description, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graphdesc: %w", err)
	}
	return Parse(src, path, vars)
}

// Parse decodes a description. filename is used in diagnostics only.
func Parse(src []byte, filename string, vars Variables) (*Description, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, diags)
	}
	var fs fileSchema
	if diags := gohcl.DecodeBody(file.Body, vars.evalContext(), &fs); diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, diags)
	}

	d, err := convert(&fs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	d.vars = vars
	logging.Logger().Debug("graphdesc: parsed",
		"file", filename, "textures", len(d.Textures), "buffers", len(d.Buffers), "passes", len(d.Passes))
	return d, nil
}

func convert(fs *fileSchema) (*Description, error) {
	d := &Description{}
	if s := fs.Settings; s != nil {
		policy, err := memory.ParsePolicy(s.Policy)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		d.Settings = Settings{
			Strict:     s.Strict,
			Culling:    s.Culling,
			Validation: s.Validation,
			Memory: memory.Config{
				BlockSize:      s.BlockSize,
				MaxBlocks:      s.MaxBlocks,
				FramesInFlight: s.FramesInFlight,
				Policy:         policy,
			},
		}
	}

	if bb := fs.Backbuffer; bb != nil {
		format := gputypes.TextureFormatBGRA8Unorm
		if bb.Format != "" {
			f, err := parseFormat(bb.Format)
			if err != nil {
				return nil, fmt.Errorf("backbuffer %q: %w", bb.Name, err)
			}
			format = f
		}
		d.Backbuffer = &Backbuffer{Name: bb.Name, Format: format}
	}

	for _, t := range fs.Textures {
		format, err := parseFormat(t.Format)
		if err != nil {
			return nil, fmt.Errorf("texture %q: %w", t.Name, err)
		}
		usage, err := parseUsages(t.Usage)
		if err != nil {
			return nil, fmt.Errorf("texture %q: %w", t.Name, err)
		}
		d.Textures = append(d.Textures, Texture{
			Name: t.Name,
			Desc: backend.TextureDesc{
				Label:              t.Name,
				Width:              t.Width,
				Height:             t.Height,
				DepthOrArrayLayers: t.Depth,
				MipLevels:          t.MipLevels,
				SampleCount:        t.Samples,
				Format:             format,
				Usage:              usage,
			},
			Export: t.Export,
		})
	}

	for _, b := range fs.Buffers {
		usage, err := parseUsages(b.Usage)
		if err != nil {
			return nil, fmt.Errorf("buffer %q: %w", b.Name, err)
		}
		d.Buffers = append(d.Buffers, Buffer{
			Name:   b.Name,
			Desc:   backend.BufferDesc{Label: b.Name, Size: b.Size, Usage: usage},
			Export: b.Export,
		})
	}

	for _, p := range fs.Passes {
		hint, err := graph.ParseQueueHint(p.Queue)
		if err != nil {
			return nil, fmt.Errorf("%w: pass %q: %w", ErrInvalid, p.Name, err)
		}
		pass := Pass{Name: p.Name, Queue: hint, SideEffect: p.SideEffect, DependsOn: p.DependsOn}
		groups := []struct {
			mode graph.AccessMode
			list []accessSchema
		}{
			{graph.Read, p.Reads},
			{graph.Write, p.Writes},
			{graph.ReadWrite, p.ReadWrites},
		}
		for _, g := range groups {
			for _, a := range g.list {
				u, ok := backend.ParseUsage(a.Usage)
				if !ok {
					return nil, fmt.Errorf("%w: pass %q: usage %q of %q", ErrInvalid, p.Name, a.Usage, a.Resource)
				}
				pass.Accesses = append(pass.Accesses, Access{Resource: a.Resource, Mode: g.mode, Usage: u})
			}
		}
		d.Passes = append(d.Passes, pass)
	}
	return d, nil
}

// parseUsages ORs usage names. Exports list every usage they will be
// accessed with across frames.
func parseUsages(names []string) (backend.Usage, error) {
	var u backend.Usage
	for _, n := range names {
		v, ok := backend.ParseUsage(n)
		if !ok {
			return 0, fmt.Errorf("%w: usage %q", ErrInvalid, n)
		}
		u |= v
	}
	return u, nil
}

// parseFormat matches a gputypes format name, ignoring case.
func parseFormat(s string) (gputypes.TextureFormat, error) {
	for f := gputypes.TextureFormatR8Unorm; f <= gputypes.TextureFormatASTC12x12UnormSrgb; f++ {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("%w: texture format %q", ErrInvalid, s)
}

// Options returns the graph options the description's settings select,
// including the backbuffer extent from the parse variables.
func (d *Description) Options() []graph.Option {
	s := d.Settings
	opts := []graph.Option{
		graph.WithStrict(s.Strict),
		graph.WithCulling(s.Culling),
		graph.WithValidation(s.Validation),
		graph.WithMemory(s.Memory),
	}
	if d.Backbuffer != nil {
		opts = append(opts, graph.WithBackbuffer(d.Backbuffer.Format, d.vars.Width, d.vars.Height))
	}
	return opts
}

// Build declares the description's resources and passes on b. Passes are
// bound to the callback of the same name in funcs; passes without one
// record nothing.
func (d *Description) Build(b *graph.Builder, funcs map[string]graph.PassFunc) error {
	if d.Backbuffer != nil {
		if _, err := b.DeclareBackbuffer(d.Backbuffer.Name); err != nil {
			return err
		}
	}
	for _, t := range d.Textures {
		var opts []graph.ResourceOption
		if t.Export {
			opts = append(opts, graph.AsExport())
		}
		if _, err := b.DeclareTexture(t.Desc, t.Name, opts...); err != nil {
			return err
		}
	}
	for _, buf := range d.Buffers {
		var opts []graph.ResourceOption
		if buf.Export {
			opts = append(opts, graph.AsExport())
		}
		if _, err := b.DeclareBuffer(buf.Desc, buf.Name, opts...); err != nil {
			return err
		}
	}

	bb := b.Blackboard()
	for _, p := range d.Passes {
		accesses := make([]graph.Access, 0, len(p.Accesses))
		for _, a := range p.Accesses {
			acc, err := resolve(bb, a)
			if err != nil {
				return fmt.Errorf("pass %q: %w", p.Name, err)
			}
			accesses = append(accesses, acc)
		}
		var opts []graph.PassOption
		if p.SideEffect {
			opts = append(opts, graph.SideEffect())
		}
		if len(p.DependsOn) > 0 {
			opts = append(opts, graph.DependsOn(p.DependsOn...))
		}
		if _, err := b.AddPass(p.Name, p.Queue, accesses, funcs[p.Name], opts...); err != nil {
			return err
		}
	}
	return nil
}

func resolve(bb *graph.Blackboard, a Access) (graph.Access, error) {
	if h, ok := bb.Texture(a.Resource); ok {
		switch a.Mode {
		case graph.Write:
			return graph.WriteTexture(h, a.Usage), nil
		case graph.ReadWrite:
			return graph.ReadWriteTexture(h, a.Usage), nil
		default:
			return graph.ReadTexture(h, a.Usage), nil
		}
	}
	if h, ok := bb.Buffer(a.Resource); ok {
		switch a.Mode {
		case graph.Write:
			return graph.WriteBuffer(h, a.Usage), nil
		case graph.ReadWrite:
			return graph.ReadWriteBuffer(h, a.Usage), nil
		default:
			return graph.ReadBuffer(h, a.Usage), nil
		}
	}
	return graph.Access{}, fmt.Errorf("%w: %q", ErrUnknownResource, a.Resource)
}
