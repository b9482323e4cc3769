package thumbcache

import (
	"fmt"
	"image"
	"testing"
)

func img(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestGetMissAndHit(t *testing.T) {
	c := New(10, 1<<20)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put("a", img(2, 2), 16)
	got, ok := c.Get("a")
	if !ok || got == nil {
		t.Fatal("expected hit after Put")
	}
	if c.Len() != 1 || c.Cost() != 16 {
		t.Fatalf("len=%d cost=%d, want 1/16", c.Len(), c.Cost())
	}
}

func TestReplaceAdjustsCost(t *testing.T) {
	c := New(10, 1<<20)
	c.Put("a", img(2, 2), 16)
	c.Put("a", img(4, 4), 64)
	if c.Len() != 1 {
		t.Fatalf("len=%d, want 1", c.Len())
	}
	if c.Cost() != 64 {
		t.Fatalf("cost=%d, want 64", c.Cost())
	}
}

func TestCountBudgetEvictsLRU(t *testing.T) {
	c := New(3, 1<<20)
	evicted := 0
	c.OnEvict(func() { evicted++ })

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), img(1, 1), 4)
	}
	// touch k0 so k1 becomes the LRU
	c.Get("k0")
	c.Put("k3", img(1, 1), 4)

	if c.Len() != 3 {
		t.Fatalf("len=%d, want 3", c.Len())
	}
	if _, ok := c.Get("k1"); ok {
		t.Fatal("k1 should have been evicted as least recently used")
	}
	for _, k := range []string{"k0", "k2", "k3"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("%s should still be resident", k)
		}
	}
	if evicted != 1 {
		t.Fatalf("evicted=%d, want 1", evicted)
	}
}

func TestByteBudgetEvictsUntilUnder(t *testing.T) {
	c := New(100, 100)
	c.Put("a", img(1, 1), 40)
	c.Put("b", img(1, 1), 40)
	c.Put("c", img(1, 1), 40) // 120 > 100, oldest goes

	if c.Cost() != 80 {
		t.Fatalf("cost=%d, want 80", c.Cost())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should have been evicted")
	}
}

func TestOversizeSingleEntryAccepted(t *testing.T) {
	c := New(100, 100)
	c.Put("small1", img(1, 1), 10)
	c.Put("small2", img(1, 1), 10)
	c.Put("huge", img(10, 10), 500)

	if _, ok := c.Get("huge"); !ok {
		t.Fatal("oversize entry must be accepted, never rejected")
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d, want 1 (everything else evicted)", c.Len())
	}
}

func TestClear(t *testing.T) {
	c := New(10, 1<<20)
	c.Put("a", img(1, 1), 4)
	c.Put("b", img(1, 1), 4)
	c.Clear()
	if c.Len() != 0 || c.Cost() != 0 {
		t.Fatalf("len=%d cost=%d after Clear, want 0/0", c.Len(), c.Cost())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("entries must be gone after Clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(50, 1<<20)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("k%d", (g*7+i)%60)
				c.Put(k, img(1, 1), 4)
				c.Get(k)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if c.Len() > 50 {
		t.Fatalf("len=%d exceeds entry budget", c.Len())
	}
}
