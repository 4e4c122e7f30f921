package cmap

import (
	"sync"
	"testing"
)

func TestGetSetDeleteBasic(t *testing.T) {
	m := NewString[int](4)
	if inserted := m.Set("a", 1); !inserted {
		t.Fatalf("expected insert on first set")
	}
	if inserted := m.Set("a", 2); inserted {
		t.Fatalf("expected update, not insert, on second set")
	}
	v, ok := m.Get("a")
	if !ok || v != 2 {
		t.Fatalf("get(a) = %d,%v want 2,true", v, ok)
	}
	if !m.Has("a") {
		t.Fatalf("expected has(a)")
	}
	if !m.Delete("a") {
		t.Fatalf("expected delete to report existing key")
	}
	if m.Has("a") {
		t.Fatalf("expected !has(a) after delete")
	}
	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected get(a) = ⊥ after delete")
	}
}

// TestCollisionBucket reproduces spec §8 scenario 6: a hash that collides
// every key into the same bucket must still behave as a correct map.
func TestCollisionBucket(t *testing.T) {
	m := New[string, int](Config[string, int]{
		Segments: 1,
		Hash:     func(string) uint64 { return 0 },
	})
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)
	m.Set("d", 4)
	m.Delete("b")

	want := map[string]int{"a": 1, "c": 3, "d": 4}
	for k, v := range want {
		got, ok := m.Get(k)
		if !ok || got != v {
			t.Fatalf("get(%s) = %d,%v want %d,true", k, got, ok, v)
		}
	}
	if _, ok := m.Get("b"); ok {
		t.Fatalf("expected get(b) = ⊥")
	}
}

func TestSizeMatchesSegmentSum(t *testing.T) {
	m := NewUint64[string](8)
	for i := uint64(0); i < 200; i++ {
		m.Set(i, "v")
	}
	var sum int64
	for _, fill := range m.SegmentFill() {
		sum += fill
	}
	if sum != m.Size() {
		t.Fatalf("segment fill sum %d != Size() %d", sum, m.Size())
	}
	if m.Size() != 200 {
		t.Fatalf("expected 200 entries, got %d", m.Size())
	}
}

func TestResizeKeepsAllEntriesReachable(t *testing.T) {
	m := New[int, int](Config[int, int]{
		Segments:         1,
		InitialBucketCap: 2,
		Hash:             func(k int) uint64 { return uint64(k) },
	})
	const n = 500
	for i := 0; i < n; i++ {
		m.Set(i, i*10)
	}
	for i := 0; i < n; i++ {
		v, ok := m.Get(i)
		if !ok || v != i*10 {
			t.Fatalf("get(%d) = %d,%v want %d,true after resize", i, v, ok, i*10)
		}
	}
	if m.Snapshot().Resizes == 0 {
		t.Fatalf("expected at least one resize with load factor exceeded")
	}
}

func TestConcurrentSetGet(t *testing.T) {
	m := NewUint64[int](16)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 1000; i++ {
				m.Set(base*1000+i, int(i))
			}
		}(uint64(w))
	}
	wg.Wait()
	if m.Size() != 8000 {
		t.Fatalf("expected 8000 entries, got %d", m.Size())
	}
}
