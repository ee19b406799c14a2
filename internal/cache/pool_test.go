package cache

import (
	"strconv"
	"sync"
	"testing"
)

func TestPoolTakeMostRecent(t *testing.T) {
	p := NewPool[string, int](10, nil)
	p.Put("a", 1)
	p.Put("a", 2)
	p.Put("b", 3)

	if v, ok := p.Take("a"); !ok || v != 2 {
		t.Errorf("Take(a) = %d, %v; want 2, true", v, ok)
	}
	if v, ok := p.Take("a"); !ok || v != 1 {
		t.Errorf("Take(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := p.Take("a"); ok {
		t.Error("Take(a) on empty key succeeded")
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}

	s := p.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %v, want 2 hits 1 miss", s)
	}
}

func TestPoolEvictsOldest(t *testing.T) {
	var evicted []int
	p := NewPool[string, int](2, func(v int) { evicted = append(evicted, v) })

	p.Put("a", 1)
	p.Put("b", 2)
	p.Put("a", 3)
	p.Put("c", 4)

	want := []int{1, 2}
	if len(evicted) != len(want) {
		t.Fatalf("evicted = %v, want %v", evicted, want)
	}
	for i := range want {
		if evicted[i] != want[i] {
			t.Errorf("evicted[%d] = %d, want %d", i, evicted[i], want[i])
		}
	}
	if _, ok := p.Take("b"); ok {
		t.Error("evicted value still available")
	}
	if v, ok := p.Take("a"); !ok || v != 3 {
		t.Errorf("Take(a) = %d, %v; want 3, true", v, ok)
	}
	if got := p.Stats().Evictions; got != 2 {
		t.Errorf("Evictions = %d, want 2", got)
	}
}

func TestPoolZeroLimit(t *testing.T) {
	var evicted int
	p := NewPool[int, int](0, func(int) { evicted++ })
	p.Put(1, 1)
	if evicted != 1 || p.Len() != 0 {
		t.Errorf("evicted = %d, Len() = %d; want 1, 0", evicted, p.Len())
	}
}

func TestPoolClear(t *testing.T) {
	var evicted int
	p := NewPool[int, int](8, func(int) { evicted++ })
	for i := range 5 {
		p.Put(i%2, i)
	}
	p.Clear()
	if evicted != 5 || p.Len() != 0 {
		t.Errorf("evicted = %d, Len() = %d; want 5, 0", evicted, p.Len())
	}
	if _, ok := p.Take(0); ok {
		t.Error("Take after Clear succeeded")
	}
}

func TestPoolConcurrent(t *testing.T) {
	p := NewPool[int, int](16, nil)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				p.Put(g, i)
				p.Take(g)
			}
		}()
	}
	wg.Wait()
	if p.Len() > 16 {
		t.Errorf("Len() = %d exceeds limit", p.Len())
	}
}

func BenchmarkPoolPutTake(b *testing.B) {
	p := NewPool[string, int](64, nil)
	keys := make([]string, 16)
	for i := range keys {
		keys[i] = strconv.Itoa(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keys[i%len(keys)]
		p.Put(k, i)
		p.Take(k)
	}
}
