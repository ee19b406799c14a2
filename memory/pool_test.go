package memory

import (
	"errors"
	"testing"

	"github.com/gogpu/framegraph/backend"
)

type fakeHeap struct {
	size  uint64
	label string
}

func (h *fakeHeap) Size() uint64  { return h.size }
func (h *fakeHeap) Label() string { return h.label }
func (h *fakeHeap) Native() any   { return nil }

type fakeHeaps struct {
	live    map[backend.Heap]bool
	created int
	failAt  int
}

func newFakeHeaps() *fakeHeaps { return &fakeHeaps{live: map[backend.Heap]bool{}, failAt: -1} }

func (f *fakeHeaps) CreateHeap(size uint64, label string) (backend.Heap, error) {
	if f.created == f.failAt {
		return nil, backend.ErrOutOfDeviceMemory
	}
	f.created++
	h := &fakeHeap{size: size, label: label}
	f.live[h] = true
	return h, nil
}

func (f *fakeHeaps) DestroyHeap(h backend.Heap) { delete(f.live, h) }

func TestPoolRing(t *testing.T) {
	heaps := newFakeHeaps()
	p := NewPool(heaps, Config{FramesInFlight: 2})

	l1, err := p.Acquire([]uint64{1 << 20})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l2, err := p.Acquire([]uint64{1 << 20})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if l1.Arena() == l2.Arena() {
		t.Fatal("two in-flight frames share an arena")
	}

	l1.Release()
	l1.Release()
	l3, err := p.Acquire([]uint64{1 << 20})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if l3.Arena() != l1.Arena() {
		t.Error("released arena was not reused")
	}
	if heaps.created != 2 {
		t.Errorf("created %d heaps, want 2 (reuse without reallocation)", heaps.created)
	}
	if s := p.Stats(); s.Arenas != 2 || s.Leased != 2 {
		t.Errorf("Stats() = %v", s)
	}
}

func TestPoolExhaustion(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr error
	}{
		{"grow", PolicyGrow, nil},
		{"fail", PolicyFail, ErrArenaExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(newFakeHeaps(), Config{FramesInFlight: 1, Policy: tt.policy})
			if _, err := p.Acquire(nil); err != nil {
				t.Fatalf("first Acquire() error = %v", err)
			}
			_, err := p.Acquire(nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("second Acquire() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && p.Stats().Grown != 1 {
				t.Errorf("Grown = %d, want 1", p.Stats().Grown)
			}
		})
	}
}

func TestPoolHeapRegrow(t *testing.T) {
	heaps := newFakeHeaps()
	p := NewPool(heaps, Config{FramesInFlight: 1})

	l, err := p.Acquire([]uint64{1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	small := l.Arena().Heap(0)
	l.Release()

	l, err = p.Acquire([]uint64{4 << 20, 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	if l.Arena().Heap(0) == small || l.Arena().Heap(0).Size() != 4<<20 {
		t.Error("undersized heap was not replaced")
	}
	if heaps.live[small] {
		t.Error("replaced heap was not destroyed")
	}
	if l.Arena().Heap(1) == nil || l.Arena().Heap(5) != nil {
		t.Error("Heap() lookup mismatch")
	}
}

func TestPoolCreateHeapError(t *testing.T) {
	heaps := newFakeHeaps()
	heaps.failAt = 0
	p := NewPool(heaps, Config{})
	if _, err := p.Acquire([]uint64{1 << 20}); !errors.Is(err, backend.ErrOutOfDeviceMemory) {
		t.Errorf("Acquire() error = %v, want ErrOutOfDeviceMemory", err)
	}
	if s := p.Stats(); s.Leased != 0 {
		t.Errorf("failed Acquire left %d arenas leased", s.Leased)
	}
}

func TestPoolCloseAndTrim(t *testing.T) {
	heaps := newFakeHeaps()
	p := NewPool(heaps, Config{FramesInFlight: 1})
	a, _ := p.Acquire([]uint64{1 << 20})
	b, _ := p.Acquire([]uint64{1 << 20})
	b.Release()
	p.Trim()
	if len(heaps.live) != 1 {
		t.Errorf("after Trim %d heaps live, want 1", len(heaps.live))
	}
	a.Release()
	p.Close()
	if len(heaps.live) != 0 {
		t.Errorf("after Close %d heaps live, want 0", len(heaps.live))
	}
	if _, err := p.Acquire(nil); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire after Close error = %v", err)
	}
}
