package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	fitz "github.com/gen2brain/go-fitz"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// ID identifies a registered source document.
type ID string

// PageRef is a non-owning reference to one page of a source document.
// It stays valid while the owning Document is registered.
type PageRef struct {
	Source ID
	Path   string
	Index  int // 0-based index within the source
}

// Document is an opened source PDF. The file behind Path may be a downloaded
// temp copy, removed on Close.
type Document struct {
	id    ID
	path  string
	label string
	pages int
	temp  bool
}

func (d *Document) ID() ID          { return d.id }
func (d *Document) Label() string   { return d.label }
func (d *Document) Path() string    { return d.path }
func (d *Document) PageCount() int { return d.pages }

// Page returns the reference for the 0-based page index i.
func (d *Document) Page(i int) PageRef {
	return PageRef{Source: d.id, Path: d.path, Index: i}
}

// Close removes the temp copy if the document was fetched from a remote ref.
func (d *Document) Close() error {
	if d.temp {
		return os.Remove(d.path)
	}
	return nil
}

// Open resolves ref (filesystem path, file://, http(s):// or s3://) to a local
// file, validates it is a PDF by magic bytes and opens it. password is used
// only for encrypted s3 objects.
func Open(ctx context.Context, ref, password string) (*Document, error) {
	localPath, temp, err := fetch(ctx, ref, password)
	if err != nil {
		return nil, err
	}
	doc, err := openLocal(localPath, labelFromRef(ref))
	if err != nil {
		if temp { _ = os.Remove(localPath) }
		return nil, err
	}
	doc.temp = temp
	return doc, nil
}

func openLocal(path, label string) (*Document, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect file type: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return nil, fmt.Errorf("not a PDF document: %s (%s)", label, mtype.String())
	}

	fd, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", label, err)
	}
	pages := fd.NumPage()
	_ = fd.Close()
	if pages <= 0 {
		return nil, fmt.Errorf("document %s has no pages", label)
	}

	// Independent count via pdfcpu as a sanity check; the render handle wins.
	if n, err := api.PageCountFile(path); err == nil && n != pages {
		log.Warn().Str("file", label).Int("fitz", pages).Int("pdfcpu", n).Msg("page count mismatch between backends")
	}

	d := &Document{
		id:    ID(uuid.NewString()),
		path:  path,
		label: label,
		pages: pages,
	}
	log.Debug().Str("source_id", string(d.id)).Str("label", label).Int("pages", pages).Msg("opened source document")
	return d, nil
}

// NewStaticDocument builds a Document over an already-validated local file,
// for callers that manage the file themselves.
func NewStaticDocument(label, path string, pages int) *Document {
	return &Document{
		id:    ID(uuid.NewString()),
		path:  path,
		label: label,
		pages: pages,
	}
}

// labelFromRef derives the display name from the origin ref.
func labelFromRef(ref string) string {
	s := ref
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "file://")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	base := filepath.Base(s)
	if base == "." || base == "/" || base == "" {
		return ref
	}
	return base
}
