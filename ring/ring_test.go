package ring

import (
	"sync"
	"testing"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int](Config[int]{Capacity: 4})
	for _, v := range []int{1, 2, 3} {
		if !q.Enqueue(v) {
			t.Fatalf("enqueue %d failed", v)
		}
	}
	for _, want := range []int{1, 2, 3} {
		got, ok := q.Dequeue()
		if !ok || got != want {
			t.Fatalf("dequeue = %d,%v want %d", got, ok, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestOverflowNoAutoResize(t *testing.T) {
	var rejectedVal int
	var rejected bool
	q := New[int](Config[int]{
		Capacity:   2,
		AutoResize: false,
		OnOverflow: func(item int) { rejected = true; rejectedVal = item },
	})
	if !q.Enqueue(1) || !q.Enqueue(2) {
		t.Fatalf("expected first two enqueues to succeed")
	}
	if q.Enqueue(3) {
		t.Fatalf("expected third enqueue to be rejected at capacity 2")
	}
	if !rejected || rejectedVal != 3 {
		t.Fatalf("overflow hook not invoked with rejected value, got %v %v", rejected, rejectedVal)
	}
}

func TestAutoResizePreservesFIFO(t *testing.T) {
	q := New[int](Config[int]{Capacity: 2, AutoResize: true, MaxCapacity: 64})
	const n = 50
	for i := 0; i < n; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d failed despite auto-resize", i)
		}
	}
	for i := 0; i < n; i++ {
		got, ok := q.Dequeue()
		if !ok || got != i {
			t.Fatalf("dequeue[%d] = %d,%v want %d", i, got, ok, i)
		}
	}
}

func TestClosingDrainsThenClosed(t *testing.T) {
	q := New[int](Config[int]{Capacity: 4})
	q.Enqueue(1)
	q.Enqueue(2)
	q.Close()
	if q.Enqueue(3) {
		t.Fatalf("enqueue should be rejected once closing")
	}
	if v, ok := q.Dequeue(); !ok || v != 1 {
		t.Fatalf("expected to drain 1 while closing")
	}
	if q.State() != Closing {
		t.Fatalf("expected still closing with one item left")
	}
	if v, ok := q.Dequeue(); !ok || v != 2 {
		t.Fatalf("expected to drain 2 while closing")
	}
	if q.State() != Closed {
		t.Fatalf("expected closed after draining to empty, got %v", q.State())
	}
}

func TestConcurrentThroughput(t *testing.T) {
	q := New[int](Config[int]{Capacity: 1024})
	const n = 10000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !q.Enqueue(i) {
			}
		}
	}()
	got := make([]int, 0, n)
	for len(got) < n {
		if v, ok := q.Dequeue(); ok {
			got = append(got, v)
		}
	}
	wg.Wait()
	for i, v := range got {
		if v != i {
			t.Fatalf("order broken at %d: got %d", i, v)
		}
	}
}
