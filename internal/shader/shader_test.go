package shader

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

const spirvMagic = 0x07230203

func TestCompileFill(t *testing.T) {
	m, err := Compile("fill", Fill())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(m.SPIRV) < 5 {
		t.Fatalf("SPIR-V too short: %d words", len(m.SPIRV))
	}
	if m.SPIRV[0] != spirvMagic {
		t.Errorf("magic = 0x%08x, want 0x%08x", m.SPIRV[0], spirvMagic)
	}
	if m.Size() != len(m.SPIRV)*4 {
		t.Errorf("Size() = %d", m.Size())
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr error
	}{
		{"empty", "", ErrEmptySource},
		{"syntax", "@compute fn main( {", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.name, tt.source)
			if err == nil {
				t.Fatal("Compile succeeded")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	defer instance.Destroy()
	open, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer open.Device.Destroy()

	m, err := Compile("fill", Fill())
	if err != nil {
		t.Fatal(err)
	}
	sm, err := m.Create(open.Device)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	open.Device.DestroyShaderModule(sm)
}

func TestWorkgroups(t *testing.T) {
	tests := []struct {
		count, want uint32
	}{
		{0, 0},
		{1, 1},
		{FillWorkgroupSize, 1},
		{FillWorkgroupSize + 1, 2},
		{1024, 16},
	}
	for _, tt := range tests {
		if got := Workgroups(tt.count); got != tt.want {
			t.Errorf("Workgroups(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}

func TestFillPipeline(t *testing.T) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	defer instance.Destroy()
	open, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer open.Device.Destroy()

	p, err := NewFillPipeline(open.Device)
	if err != nil {
		t.Fatalf("NewFillPipeline failed: %v", err)
	}
	defer p.Destroy()

	if err := p.SetParams(open.Queue, 0xdeadbeef, 256); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	data, err := open.Device.CreateBuffer(&hal.BufferDescriptor{
		Label: "data", Size: 1024,
		Usage: gputypes.BufferUsageStorage,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer open.Device.DestroyBuffer(data)

	enc := &noop.ComputePassEncoder{}
	for range 2 {
		if err := p.Encode(enc, data, 1024, 256); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}
	if len(p.groups) != 1 {
		t.Errorf("cached bind groups = %d, want 1", len(p.groups))
	}
}
