package queue

import (
	"sort"
	"sync"
	"testing"
)

func TestSPSCFIFO(t *testing.T) {
	q := NewSPSC()
	for i := 0; i < 5; i++ {
		q.PushBack(NewNode(i))
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}
	for i := 0; i < 5; i++ {
		n := q.PopFront()
		if n == nil || n.Value.(int) != i {
			t.Fatalf("PopFront() = %v, want %d", n, i)
		}
	}
	if !q.Empty() {
		t.Fatal("expected empty queue")
	}
	if q.PopFront() != nil {
		t.Fatal("expected nil from empty queue")
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewMPSC()
	const producers, perProducer = 8, 1000
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	got := make([]int, 0, producers*perProducer)
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v.(int))
	}
	if len(got) != producers*perProducer {
		t.Fatalf("popped %d items, want %d", len(got), producers*perProducer)
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("missing value %d after sort (got %d at index %d)", i, v, i)
		}
	}
}

func TestMPMCRingFullAndDrain(t *testing.T) {
	r := NewMPMCRing(4)
	if r.Cap() != 4 {
		t.Fatalf("Cap() = %d, want 4", r.Cap())
	}
	for i := 0; i < 4; i++ {
		if err := r.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if err := r.Push(4); err != ErrFull {
		t.Fatalf("Push on full ring: %v, want ErrFull", err)
	}
	for i := 0; i < 4; i++ {
		v, ok := r.Pop()
		if !ok || v.(int) != i {
			t.Fatalf("Pop() = %v, %v; want %d, true", v, ok, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("expected empty ring after draining")
	}
}

func TestPriorityTiersDrainInOrder(t *testing.T) {
	p := NewPriority(3)
	p.Push(2, "low-a")
	p.Push(0, "high-a")
	p.Push(1, "mid")
	p.Push(0, "high-b")

	var order []string
	for p.Len() > 0 {
		v, _ := p.Pop()
		order = append(order, v.(string))
	}
	want := []string{"high-a", "high-b", "mid", "low-a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %s, want %s (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestWeightedPriorityOrdersByWeightThenFIFO(t *testing.T) {
	w := NewWeightedPriority()
	w.Push(5, "b")
	w.Push(1, "a")
	w.Push(5, "c")

	first, _ := w.Pop()
	if first != "a" {
		t.Fatalf("first pop = %v, want a", first)
	}
	second, _ := w.Pop()
	if second != "b" {
		t.Fatalf("second pop = %v, want b (FIFO within equal weight)", second)
	}
}
