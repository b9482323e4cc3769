package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pagebinder/internal/collection"
	"github.com/local/pagebinder/internal/export"
	"github.com/local/pagebinder/internal/metrics"
	"github.com/local/pagebinder/internal/source"
	"github.com/local/pagebinder/internal/store"
)

// Opener resolves and opens one source ref. Injectable for tests.
type Opener func(ctx context.Context, ref, password string) (*source.Document, error)

// Exporter assembles the ordered pages into dest. Injectable for tests.
type Exporter func(ctx context.Context, refs []source.PageRef, dest string) error

// Dependencies wires the service's collaborators.
type Dependencies struct {
	Collection *collection.Collection
	Status     store.StatusStore
	Open       Opener
	Export     Exporter
	ExportDir  string
}

// Service exposes the page collection operations and its observable state
// over HTTP.
type Service struct {
	deps Dependencies

	inflight atomic.Int32
	lastMu   sync.Mutex
	lastMsg  string
}

func New(deps Dependencies) *Service {
	if deps.Open == nil {
		deps.Open = source.Open
	}
	if deps.Export == nil {
		deps.Export = export.Assemble
	}
	if deps.ExportDir == "" {
		deps.ExportDir = "exports"
	}
	return &Service{deps: deps}
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/sources", s.handleAddSources)
	mux.HandleFunc("/delete", s.handleDelete)
	mux.HandleFunc("/remove", s.handleRemove)
	mux.HandleFunc("/move", s.handleMove)
	mux.HandleFunc("/reverse", s.handleReverse)
	mux.HandleFunc("/select", s.handleSelect)
	mux.HandleFunc("/deselect", s.handleDeselect)
	mux.HandleFunc("/select_all", s.handleSelectAll)
	mux.HandleFunc("/clear_selection", s.handleClearSelection)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/export", s.handleExport)
	mux.HandleFunc("/status/", s.handleStatus)
}

func (s *Service) setLast(msg string) {
	s.lastMu.Lock()
	s.lastMsg = msg
	s.lastMu.Unlock()
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Collection.Snapshot()
	s.lastMu.Lock()
	last := s.lastMsg
	s.lastMu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entries":      entries,
		"selected":     s.deps.Collection.SelectedIDs(),
		"pages":        len(entries),
		"sources":      s.deps.Collection.SourceCount(),
		"busy":         s.inflight.Load() > 0,
		"last_message": last,
	})
}

type addSourcesReq struct {
	Refs     []string `json:"refs"`
	Password string   `json:"password,omitempty"`
}

// handleAddSources imports each ref as a source document. Opening is
// I/O-bound (remote fetch, large files), so the work runs as a background
// operation tracked in the status store; a ref that fails to open is skipped
// and the rest of the batch still lands.
func (s *Service) handleAddSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	defer r.Body.Close()
	var req addSourcesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest); return
	}
	if len(req.Refs) == 0 {
		http.Error(w, "missing refs", http.StatusBadRequest); return
	}

	opID := uuid.NewString()
	start := time.Now()
	_ = s.deps.Status.Set(r.Context(), opID, store.Status{Status: "processing", Message: "importing sources", Start: &start,
		Metadata: map[string]any{"refs": len(req.Refs)}})
	s.inflight.Add(1)

	go func() {
		ctx := context.Background()
		added, pages, failed := 0, 0, 0
		var failures []string
		for _, ref := range req.Refs {
			doc, err := s.deps.Open(ctx, ref, req.Password)
			if err != nil {
				failed++
				failures = append(failures, fmt.Sprintf("%s: %v", ref, err))
				metrics.IncSourceAdded("open_failed")
				log.Warn().Err(err).Str("ref", ref).Msg("source open failed, skipping")
				continue
			}
			ids := s.deps.Collection.AddSource(doc)
			added++
			pages += len(ids)
			metrics.IncSourceAdded("ok")
		}
		end := time.Now()
		st := store.Status{Status: "success", Progress: 100, End: &end,
			Message:  fmt.Sprintf("added %d sources (%d pages)", added, pages),
			Metadata: map[string]any{"added": added, "pages": pages, "failed": failed}}
		if failed > 0 {
			st.Metadata["failures"] = failures
			if added == 0 {
				st.Status = "failed"
				st.Message = "no source could be opened"
			}
		}
		_ = s.deps.Status.Set(ctx, opID, st)
		s.setLast(st.Message)
		s.inflight.Add(-1)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"op_id": opID})
}

type idsReq struct {
	IDs []string `json:"ids"`
}

// handleDelete removes the listed entries, defaulting to the current
// selection when ids is empty. A selection covering nothing or everything is
// rejected with no mutation.
func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	defer r.Body.Close()
	var req idsReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	ids := req.IDs
	if len(ids) == 0 {
		ids = s.deps.Collection.SelectedIDs()
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	if err := s.deps.Collection.Delete(set); err != nil {
		s.setLast(err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.setLast(fmt.Sprintf("deleted %d pages", len(set)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	id := r.URL.Query().Get("id")
	if id == "" { http.Error(w, "missing id", http.StatusBadRequest); return }
	s.deps.Collection.RemoveOne(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" { http.Error(w, "missing from/to", http.StatusBadRequest); return }
	s.deps.Collection.Move(from, to)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleReverse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	s.deps.Collection.Reverse()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	s.deps.Collection.Select(r.URL.Query().Get("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDeselect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	s.deps.Collection.Deselect(r.URL.Query().Get("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	s.deps.Collection.SelectAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	s.deps.Collection.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	s.deps.Collection.Clear()
	s.setLast("collection cleared")
	w.WriteHeader(http.StatusNoContent)
}

type exportReq struct {
	Dest string `json:"dest"`
}

// handleExport assembles the current page order into a single document. The
// assembly runs in the background; the result path or error lands in the
// status store.
func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	defer r.Body.Close()
	var req exportReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	refs := s.deps.Collection.PageRefs()
	if len(refs) == 0 {
		http.Error(w, "collection is empty", http.StatusBadRequest); return
	}

	opID := uuid.NewString()
	dest := req.Dest
	if dest == "" {
		dest = filepath.Join(s.deps.ExportDir, fmt.Sprintf("pagebinder_%s.pdf", opID))
	}
	start := time.Now()
	_ = s.deps.Status.Set(r.Context(), opID, store.Status{Status: "processing", Message: "exporting", Start: &start,
		Metadata: map[string]any{"pages": len(refs), "dest": dest}})
	s.inflight.Add(1)

	go func() {
		ctx := context.Background()
		err := s.deps.Export(ctx, refs, dest)
		end := time.Now()
		st := store.Status{Status: "success", Progress: 100, End: &end,
			Message: fmt.Sprintf("exported %d pages", len(refs)), Metadata: map[string]any{"dest": dest}}
		if err != nil {
			// surfaced verbatim; retrying is the caller's call
			st = store.Status{Status: "failed", End: &end, Message: err.Error()}
			log.Error().Err(err).Str("dest", dest).Msg("export failed")
		}
		_ = s.deps.Status.Set(ctx, opID, st)
		s.setLast(st.Message)
		s.inflight.Add(-1)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"op_id": opID, "dest": dest})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/status/")
	st, ok, err := s.deps.Status.Get(r.Context(), id)
	if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
	if !ok { http.Error(w, "not found", http.StatusNotFound); return }
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"op_id":      id,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}
