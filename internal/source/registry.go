package source

import "sync"

// Registry maps source ids to their opened documents. A document is kept only
// while at least one collection entry references it; the collection drives
// Remove when the last entry of a source goes away.
type Registry struct {
	mu   sync.Mutex
	docs map[ID]*Document
}

func NewRegistry() *Registry {
	return &Registry{docs: make(map[ID]*Document)}
}

// Register adds doc and returns its id.
func (r *Registry) Register(doc *Document) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.id] = doc
	return doc.id
}

// Lookup returns the document for id, if registered.
func (r *Registry) Lookup(id ID) (*Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	return d, ok
}

// Remove unregisters id and closes the document.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	d, ok := r.docs[id]
	delete(r.docs, id)
	r.mu.Unlock()
	if ok {
		_ = d.Close()
	}
}

// Clear unregisters and closes everything.
func (r *Registry) Clear() {
	r.mu.Lock()
	docs := r.docs
	r.docs = make(map[ID]*Document)
	r.mu.Unlock()
	for _, d := range docs {
		_ = d.Close()
	}
}

// Len returns the number of registered documents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}
