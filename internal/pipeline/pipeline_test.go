package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/local/pagebinder/internal/render"
	"github.com/local/pagebinder/internal/source"
	"github.com/local/pagebinder/internal/thumbcache"
)

// fakeBackend is an instrumented render backend. When gate is non-nil every
// render blocks until the gate closes, which lets tests observe in-flight
// concurrency.
type fakeBackend struct {
	mu            sync.Mutex
	calls         int
	concurrent    int
	maxConcurrent int
	gate          chan struct{}
	failIndex     map[int]bool
}

func (f *fakeBackend) Render(ctx context.Context, page source.PageRef, box render.Size) (image.Image, error) {
	f.mu.Lock()
	f.calls++
	f.concurrent++
	if f.concurrent > f.maxConcurrent {
		f.maxConcurrent = f.concurrent
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.concurrent--
	fail := f.failIndex[page.Index]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		return nil, fmt.Errorf("backend failure for page %d", page.Index)
	}
	return image.NewRGBA(image.Rect(0, 0, box.W, box.H)), nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) inFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.concurrent
}

func (f *fakeBackend) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}

func page(i int) source.PageRef {
	return source.PageRef{Source: "src", Path: "/tmp/src.pdf", Index: i}
}

func newTestPipeline(b render.Backend, batch int) (*Pipeline, *thumbcache.Cache, chan string) {
	cache := thumbcache.New(100, 1<<20)
	p := New(Options{Backend: b, Cache: cache, Box: render.Size{W: 140, H: 180}, BatchSize: batch})
	published := make(chan string, 100)
	p.SetSink(func(id string, img image.Image) { published <- id })
	p.Start()
	return p, cache, published
}

func waitPublished(t *testing.T, ch chan string, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case id := <-ch:
			out = append(out, id)
		case <-deadline:
			t.Fatalf("timed out waiting for %d publishes, got %d", n, len(out))
		}
	}
	return out
}

func expectNoPublish(t *testing.T, ch chan string, within time.Duration) {
	t.Helper()
	select {
	case id := <-ch:
		t.Fatalf("unexpected publish for %s", id)
	case <-time.After(within):
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSecondRequestServedFromCache(t *testing.T) {
	b := &fakeBackend{}
	p, cache, published := newTestPipeline(b, 5)
	defer p.Stop()

	p.Schedule([]Task{{ID: "e1", Page: page(0)}})
	waitPublished(t, published, 1)

	// same page, different entry: same render key
	p.Schedule([]Task{{ID: "e2", Page: page(0)}})
	got := waitPublished(t, published, 1)

	if got[0] != "e2" {
		t.Fatalf("published %s, want e2", got[0])
	}
	if b.callCount() != 1 {
		t.Fatalf("backend invoked %d times, want exactly 1 (second request is a cache hit)", b.callCount())
	}
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d entries, want 1", cache.Len())
	}
}

func TestBatchBoundsConcurrency(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{})}
	p, _, published := newTestPipeline(b, 5)
	defer p.Stop()

	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = Task{ID: fmt.Sprintf("e%d", i), Page: page(i)}
	}
	p.Schedule(tasks)

	// the first batch fills up and blocks on the gate
	waitUntil(t, func() bool { return b.inFlight() == 5 }, "first batch never reached 5 in-flight renders")
	close(b.gate)

	waitPublished(t, published, 12)
	if b.peak() > 5 {
		t.Fatalf("observed %d concurrent renders, batch size must cap at 5", b.peak())
	}
	if b.callCount() != 12 {
		t.Fatalf("backend invoked %d times, want 12", b.callCount())
	}
}

func TestCancelDropsResult(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{gate: gate}
	p, cache, published := newTestPipeline(b, 5)
	defer p.Stop()

	p.Schedule([]Task{{ID: "doomed", Page: page(0)}})
	waitUntil(t, func() bool { return b.callCount() == 1 }, "render never started")

	p.Cancel("doomed")
	close(gate)

	// a follow-up task settles only after the first one did
	p.Schedule([]Task{{ID: "alive", Page: page(1)}})
	got := waitPublished(t, published, 1)
	if got[0] != "alive" {
		t.Fatalf("published %s, want alive", got[0])
	}
	expectNoPublish(t, published, 50*time.Millisecond)

	if _, ok := cache.Get("src:0:140x180"); ok {
		t.Fatal("cancelled render must not write to the cache")
	}
}

func TestRescheduleReplacesPendingTask(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{gate: gate}
	p, _, published := newTestPipeline(b, 5)
	defer p.Stop()

	p.Schedule([]Task{{ID: "e1", Page: page(0)}})
	waitUntil(t, func() bool { return b.callCount() == 1 }, "first render never started")

	// re-scheduling the same id cancels the in-flight task
	p.Schedule([]Task{{ID: "e1", Page: page(1)}})
	close(gate)

	got := waitPublished(t, published, 1)
	if got[0] != "e1" {
		t.Fatalf("published %s, want e1", got[0])
	}
	expectNoPublish(t, published, 50*time.Millisecond)
	if b.callCount() != 2 {
		t.Fatalf("backend invoked %d times, want 2", b.callCount())
	}
}

func TestRenderFailureDoesNotAbortSiblings(t *testing.T) {
	b := &fakeBackend{failIndex: map[int]bool{0: true}}
	p, cache, published := newTestPipeline(b, 5)
	defer p.Stop()

	p.Schedule([]Task{
		{ID: "bad", Page: page(0)},
		{ID: "good", Page: page(1)},
	})

	got := waitPublished(t, published, 1)
	if got[0] != "good" {
		t.Fatalf("published %s, want good", got[0])
	}
	expectNoPublish(t, published, 50*time.Millisecond)
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d entries, want 1 (failed render stays out)", cache.Len())
	}
}

func TestStopAfterDrain(t *testing.T) {
	b := &fakeBackend{}
	p, _, published := newTestPipeline(b, 2)

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{ID: fmt.Sprintf("e%d", i), Page: page(i)}
	}
	p.Schedule(tasks)
	waitPublished(t, published, 6)
	p.Stop()
}
