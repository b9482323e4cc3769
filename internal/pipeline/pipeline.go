package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagebinder/internal/metrics"
	"github.com/local/pagebinder/internal/render"
	"github.com/local/pagebinder/internal/source"
	"github.com/local/pagebinder/internal/thumbcache"
)

// Task asks for one entry's thumbnail.
type Task struct {
	ID   string
	Page source.PageRef
}

// Sink receives finished thumbnails. Publishing happens from worker
// goroutines; the sink is responsible for its own serialization.
type Sink func(id string, img image.Image)

// Options configures a Pipeline.
type Options struct {
	Backend   render.Backend
	Cache     *thumbcache.Cache
	Box       render.Size
	BatchSize int
	QueueSize int
}

// ticket tracks one in-flight (or queued) render so it can be cancelled and
// replaced. At most one ticket exists per entry id.
type ticket struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type item struct {
	task Task
	tk   *ticket
}

// Pipeline generates thumbnails in fixed-size batches. A single run loop
// consumes scheduled jobs, so peak render concurrency never exceeds the batch
// size no matter how many pages were just added.
type Pipeline struct {
	backend render.Backend
	cache   *thumbcache.Cache
	box     render.Size
	batch   int
	sink    Sink

	mu      sync.Mutex
	pending map[string]*ticket

	jobs chan []item
	stop chan struct{}
	done chan struct{}
}

func New(opts Options) *Pipeline {
	if opts.BatchSize <= 0 { opts.BatchSize = 5 }
	if opts.QueueSize <= 0 { opts.QueueSize = 64 }
	return &Pipeline{
		backend: opts.Backend,
		cache:   opts.Cache,
		box:     opts.Box,
		batch:   opts.BatchSize,
		pending: make(map[string]*ticket),
		jobs:    make(chan []item, opts.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetSink wires the publish target. Must be called before Start.
func (p *Pipeline) SetSink(s Sink) { p.sink = s }

// Start launches the run loop.
func (p *Pipeline) Start() {
	go p.loop()
}

// Stop cancels everything pending and waits for the loop to exit.
func (p *Pipeline) Stop() {
	p.CancelAll()
	close(p.stop)
	<-p.done
}

// Schedule queues thumbnail generation for tasks, in order. An id that
// already has a pending render gets its old ticket cancelled and replaced.
func (p *Pipeline) Schedule(tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	items := make([]item, 0, len(tasks))
	p.mu.Lock()
	for _, t := range tasks {
		if old, ok := p.pending[t.ID]; ok {
			old.cancel()
		}
		ctx, cancel := context.WithCancel(context.Background())
		tk := &ticket{ctx: ctx, cancel: cancel}
		p.pending[t.ID] = tk
		items = append(items, item{task: t, tk: tk})
	}
	p.mu.Unlock()

	select {
	case p.jobs <- items:
	default:
		// queue full; drop the job and roll back the tickets
		log.Error().Int("tasks", len(tasks)).Msg("thumbnail queue full, dropping batch")
		p.mu.Lock()
		for _, it := range items {
			it.tk.cancel()
			if p.pending[it.task.ID] == it.tk {
				delete(p.pending, it.task.ID)
			}
		}
		p.mu.Unlock()
	}
}

// Cancel signals the pending render for id, if any. Best effort: a render
// finishing at the same instant may still publish.
func (p *Pipeline) Cancel(id string) {
	p.mu.Lock()
	if tk, ok := p.pending[id]; ok {
		tk.cancel()
		delete(p.pending, id)
	}
	p.mu.Unlock()
}

// CancelAll cancels every pending render.
func (p *Pipeline) CancelAll() {
	p.mu.Lock()
	for id, tk := range p.pending {
		tk.cancel()
		delete(p.pending, id)
	}
	p.mu.Unlock()
}

func (p *Pipeline) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case items := <-p.jobs:
			for len(items) > 0 {
				n := p.batch
				if n > len(items) { n = len(items) }
				p.runBatch(items[:n])
				items = items[n:]
				select {
				case <-p.stop:
					return
				default:
				}
			}
		}
	}
}

// runBatch renders one batch concurrently and waits for every task to settle.
func (p *Pipeline) runBatch(items []item) {
	var wg sync.WaitGroup
	for _, it := range items {
		wg.Add(1)
		go func(it item) {
			defer wg.Done()
			p.process(it)
		}(it)
	}
	wg.Wait()
}

func (p *Pipeline) process(it item) {
	defer p.clear(it.task.ID, it.tk)

	if it.tk.ctx.Err() != nil {
		metrics.ObserveRender("cancelled", 0)
		return
	}

	key := cacheKey(it.task.Page, p.box)
	if img, ok := p.cache.Get(key); ok {
		metrics.IncCacheHit()
		metrics.ObserveRender("cache_hit", 0)
		p.publish(it.task.ID, img)
		return
	}
	metrics.IncCacheMiss()

	start := time.Now()
	img, err := p.backend.Render(it.tk.ctx, it.task.Page, p.box)
	dur := time.Since(start)
	if err != nil {
		if it.tk.ctx.Err() != nil {
			metrics.ObserveRender("cancelled", dur)
			return
		}
		metrics.ObserveRender("error", dur)
		log.Error().Err(err).
			Str("entry_id", it.task.ID).
			Str("source_id", string(it.task.Page.Source)).
			Int("page", it.task.Page.Index).
			Msg("thumbnail render failed")
		return
	}

	// cancellation checkpoint after the expensive call: a cancelled task must
	// neither publish nor write to the cache
	if it.tk.ctx.Err() != nil {
		metrics.ObserveRender("cancelled", dur)
		return
	}

	p.cache.Put(key, img, render.Cost(img))
	metrics.ObserveRender("ok", dur)
	p.publish(it.task.ID, img)
}

func (p *Pipeline) publish(id string, img image.Image) {
	if p.sink != nil {
		p.sink(id, img)
	}
}

// clear drops the ticket only if it is still the current one; a replacement
// scheduled mid-flight must not be removed by the old task.
func (p *Pipeline) clear(id string, tk *ticket) {
	p.mu.Lock()
	if p.pending[id] == tk {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	tk.cancel()
}

// cacheKey derives the position-independent render key: reordering a page
// never invalidates its thumbnail.
func cacheKey(page source.PageRef, box render.Size) string {
	return fmt.Sprintf("%s:%d:%dx%d", page.Source, page.Index, box.W, box.H)
}
