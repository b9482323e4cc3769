package collection

import (
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pagebinder/internal/metrics"
	"github.com/local/pagebinder/internal/pipeline"
	"github.com/local/pagebinder/internal/source"
	"github.com/local/pagebinder/internal/thumbcache"
)

// Entry is one page drawn from one source document.
type Entry struct {
	id           string
	sourceID     source.ID
	sourceLabel  string
	originIndex  int // 0-based index within the source
	displayIndex int // 1-based position in the current order
	page         source.PageRef
	thumb        image.Image
}

// EntryView is the read-only projection handed to the UI layer.
type EntryView struct {
	ID           string      `json:"id"`
	SourceID     string      `json:"source_id"`
	SourceLabel  string      `json:"source_label"`
	OriginIndex  int         `json:"origin_index"`
	DisplayIndex int         `json:"display_index"`
	Selected     bool        `json:"selected"`
	HasThumbnail bool        `json:"has_thumbnail"`
	Thumbnail    image.Image `json:"-"`
}

// Scheduler is the slice of the thumbnail pipeline the collection drives.
type Scheduler interface {
	Schedule(tasks []pipeline.Task)
	Cancel(id string)
	CancelAll()
}

// Collection owns the ordered page entries, the selection set and the pending
// render bookkeeping. One mutex serializes every structural mutation and every
// thumbnail publish, so delete is atomic across cancel + remove + unselect.
type Collection struct {
	mu       sync.Mutex
	entries  []*Entry
	selected map[string]struct{}
	refs     map[source.ID]int

	registry *source.Registry
	cache    *thumbcache.Cache
	sched    Scheduler
}

// Deps wires the collection's collaborators.
type Deps struct {
	Registry  *source.Registry
	Cache     *thumbcache.Cache
	Scheduler Scheduler
}

func New(deps Deps) *Collection {
	return &Collection{
		selected: make(map[string]struct{}),
		refs:     make(map[source.ID]int),
		registry: deps.Registry,
		cache:    deps.Cache,
		sched:    deps.Scheduler,
	}
}

// AddSource expands doc into one entry per page, appended at the tail in the
// source's own page order, and schedules thumbnail generation for exactly the
// new entries. An empty document is a no-op.
func (c *Collection) AddSource(doc *source.Document) []string {
	if doc == nil || doc.PageCount() == 0 {
		return nil
	}

	c.mu.Lock()
	c.registry.Register(doc)
	ids := make([]string, 0, doc.PageCount())
	tasks := make([]pipeline.Task, 0, doc.PageCount())
	for i := 0; i < doc.PageCount(); i++ {
		e := &Entry{
			id:          uuid.NewString(),
			sourceID:    doc.ID(),
			sourceLabel: doc.Label(),
			originIndex: i,
			page:        doc.Page(i),
		}
		c.entries = append(c.entries, e)
		ids = append(ids, e.id)
		tasks = append(tasks, pipeline.Task{ID: e.id, Page: e.page})
	}
	c.refs[doc.ID()] = doc.PageCount()
	c.renumber()
	c.mu.Unlock()

	log.Info().
		Str("source_id", string(doc.ID())).
		Str("label", doc.Label()).
		Int("pages", len(ids)).
		Msg("source added to collection")
	c.sched.Schedule(tasks)
	return ids
}

// Delete removes the entries in ids. It is rejected, with no mutation, when
// ids selects nothing or would remove every remaining entry; emptying the
// collection is only reachable through RemoveOne or Clear.
func (c *Collection) Delete(ids map[string]struct{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(ids) == 0 {
		return errEmptySelection()
	}
	removing := 0
	for _, e := range c.entries {
		if _, ok := ids[e.id]; ok {
			removing++
		}
	}
	if removing == 0 {
		return errEmptySelection()
	}
	if removing == len(c.entries) {
		return errFullSelection()
	}
	c.removeLocked(ids)
	return nil
}

// RemoveOne deletes a single entry without the cannot-remove-all guard.
// Unknown ids are ignored.
func (c *Collection) RemoveOne(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(map[string]struct{}{id: {}})
}

// removeLocked cancels pending renders, drops entries and their selection,
// releases sources that lost their last page and renumbers. Caller holds mu.
func (c *Collection) removeLocked(ids map[string]struct{}) {
	kept := c.entries[:0]
	removed := 0
	for _, e := range c.entries {
		if _, ok := ids[e.id]; !ok {
			kept = append(kept, e)
			continue
		}
		removed++
		c.sched.Cancel(e.id)
		delete(c.selected, e.id)
		c.refs[e.sourceID]--
		if c.refs[e.sourceID] <= 0 {
			delete(c.refs, e.sourceID)
			c.registry.Remove(e.sourceID)
		}
	}
	c.entries = kept
	c.renumber()
	if removed > 0 {
		log.Info().Int("removed", removed).Int("remaining", len(c.entries)).Msg("pages deleted")
	}
}

// Move relocates the entry from to the slot currently held by to (standard
// move-before semantics: remove, then reinsert at the target's resolved
// index). No-op when either id is absent. Thumbnails and pipeline state are
// untouched; position never invalidates a render.
func (c *Collection) Move(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if from == to {
		return
	}
	i := c.indexOf(from)
	j := c.indexOf(to) // resolved before the removal shifts anything
	if i < 0 || j < 0 {
		return
	}
	e := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	c.entries = append(c.entries, nil)
	copy(c.entries[j+1:], c.entries[j:])
	c.entries[j] = e
	c.renumber()
}

// Reverse flips the entry order.
func (c *Collection) Reverse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, j := 0, len(c.entries)-1; i < j; i, j = i+1, j-1 {
		c.entries[i], c.entries[j] = c.entries[j], c.entries[i]
	}
	c.renumber()
}

// Select marks id selected; unknown ids are ignored.
func (c *Collection) Select(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(id) >= 0 {
		c.selected[id] = struct{}{}
	}
}

// Deselect unmarks id; unknown ids are ignored.
func (c *Collection) Deselect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.selected, id)
}

// SelectAll selects every current entry.
func (c *Collection) SelectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.selected[e.id] = struct{}{}
	}
}

// ClearSelection empties the selection set.
func (c *Collection) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[string]struct{})
}

// Clear cancels all pending renders and empties entries, selection, the
// source registry and the thumbnail cache.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.CancelAll()
	c.entries = nil
	c.selected = make(map[string]struct{})
	c.refs = make(map[source.ID]int)
	c.registry.Clear()
	c.cache.Clear()
	c.renumber()
	log.Info().Msg("collection cleared")
}

// Publish writes a finished thumbnail back into the matching entry. A render
// resolving after its page was deleted finds no entry and is dropped.
func (c *Collection) Publish(id string, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		log.Debug().Str("entry_id", id).Msg("dropping thumbnail for removed entry")
		return
	}
	c.entries[i].thumb = img
}

// Snapshot returns the current entries in display order.
func (c *Collection) Snapshot() []EntryView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EntryView, len(c.entries))
	for i, e := range c.entries {
		_, sel := c.selected[e.id]
		out[i] = EntryView{
			ID:           e.id,
			SourceID:     string(e.sourceID),
			SourceLabel:  e.sourceLabel,
			OriginIndex:  e.originIndex,
			DisplayIndex: e.displayIndex,
			Selected:     sel,
			HasThumbnail: e.thumb != nil,
			Thumbnail:    e.thumb,
		}
	}
	return out
}

// SelectedIDs returns the selected ids in display order.
func (c *Collection) SelectedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.selected))
	for _, e := range c.entries {
		if _, ok := c.selected[e.id]; ok {
			out = append(out, e.id)
		}
	}
	return out
}

// PageRefs returns the page references in display order, for export.
func (c *Collection) PageRefs() []source.PageRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]source.PageRef, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.page
	}
	return out
}

// SourceCount returns the number of distinct sources currently represented.
func (c *Collection) SourceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refs)
}

// Len returns the current entry count.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// renumber reassigns display indices 1..N to match position. Caller holds mu.
func (c *Collection) renumber() {
	for i, e := range c.entries {
		e.displayIndex = i + 1
	}
	metrics.SetEntries(len(c.entries))
	metrics.SetSources(len(c.refs))
}

// indexOf returns the position of id, or -1. Caller holds mu.
func (c *Collection) indexOf(id string) int {
	for i, e := range c.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}
