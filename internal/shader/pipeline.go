package shader

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// fillParamsSize is the size of the fill shader's uniform block, padded to
// the minimum uniform binding size.
const fillParamsSize = 16

// FillPipeline is the HAL compute pipeline of the fill shader together
// with its parameter buffer. Bind groups are cached per data buffer.
type FillPipeline struct {
	device   hal.Device
	module   hal.ShaderModule
	bgLayout hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
	params   hal.Buffer
	groups   map[hal.Buffer]hal.BindGroup
}

// NewFillPipeline compiles the fill shader and creates its pipeline on device.
func NewFillPipeline(device hal.Device) (_ *FillPipeline, err error) {
	m, err := Compile("fill", Fill())
	if err != nil {
		return nil, err
	}
	p := &FillPipeline{device: device, groups: make(map[hal.Buffer]hal.BindGroup)}
	defer func() {
		if err != nil {
			p.Destroy()
		}
	}()

	if p.module, err = m.Create(device); err != nil {
		return nil, err
	}
	p.bgLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "fill_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("shader: create fill bind group layout: %w", err)
	}
	p.layout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "fill_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{p.bgLayout},
	})
	if err != nil {
		return nil, fmt.Errorf("shader: create fill pipeline layout: %w", err)
	}
	p.pipeline, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "fill_pipeline", Layout: p.layout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: m.EntryPoint},
	})
	if err != nil {
		return nil, fmt.Errorf("shader: create fill pipeline: %w", err)
	}
	p.params, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "fill_params", Size: fillParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("shader: create fill params: %w", err)
	}
	return p, nil
}

// SetParams uploads the fill value and word count through queue. Every
// later dispatch uses them until the next call.
func (p *FillPipeline) SetParams(queue hal.Queue, value, count uint32) error {
	var b [fillParamsSize]byte
	binary.LittleEndian.PutUint32(b[0:], value)
	binary.LittleEndian.PutUint32(b[4:], count)
	if err := queue.WriteBuffer(p.params, 0, b[:]); err != nil {
		return fmt.Errorf("shader: write fill params: %w", err)
	}
	return nil
}

// Encode records a fill of the first count words of data into enc.
func (p *FillPipeline) Encode(enc hal.ComputePassEncoder, data hal.Buffer, size uint64, count uint32) error {
	bg, ok := p.groups[data]
	if !ok {
		var err error
		bg, err = p.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "fill_bind", Layout: p.bgLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{Buffer: p.params.NativeHandle(), Offset: 0, Size: fillParamsSize}},
				{Binding: 1, Resource: gputypes.BufferBinding{Buffer: data.NativeHandle(), Offset: 0, Size: size}},
			},
		})
		if err != nil {
			return fmt.Errorf("shader: create fill bind group: %w", err)
		}
		p.groups[data] = bg
	}
	enc.SetPipeline(p.pipeline)
	enc.SetBindGroup(0, bg, nil)
	enc.Dispatch(Workgroups(count), 1, 1)
	return nil
}

// Workgroups returns the number of fill workgroups covering count words.
func Workgroups(count uint32) uint32 {
	return (count + FillWorkgroupSize - 1) / FillWorkgroupSize
}

// Destroy releases every HAL object. The device must be idle.
func (p *FillPipeline) Destroy() {
	for _, bg := range p.groups {
		p.device.DestroyBindGroup(bg)
	}
	clear(p.groups)
	if p.params != nil {
		p.device.DestroyBuffer(p.params)
		p.params = nil
	}
	if p.pipeline != nil {
		p.device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.layout != nil {
		p.device.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	if p.bgLayout != nil {
		p.device.DestroyBindGroupLayout(p.bgLayout)
		p.bgLayout = nil
	}
	if p.module != nil {
		p.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}
