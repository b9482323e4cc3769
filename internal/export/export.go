package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/pagebinder/internal/metrics"
	"github.com/local/pagebinder/internal/source"
	"github.com/local/pagebinder/internal/storage"
)

// run is a maximal stretch of consecutive pages drawn from the same file.
type run struct {
	path  string
	pages []int // 1-based page numbers, in output order
}

// planRuns splits the ordered page refs into per-file runs. Each run becomes
// one collect pass; the runs merge in order into the final document.
func planRuns(refs []source.PageRef) []run {
	var runs []run
	for _, r := range refs {
		n := len(runs)
		if n > 0 && runs[n-1].path == r.Path {
			runs[n-1].pages = append(runs[n-1].pages, r.Index+1)
			continue
		}
		runs = append(runs, run{path: r.Path, pages: []int{r.Index + 1}})
	}
	return runs
}

// Assemble writes the pages in refs, in order, into a single PDF at dest.
// dest may be a filesystem path or s3://bucket/key. The failure is returned
// verbatim; no retry.
func Assemble(ctx context.Context, refs []source.PageRef, dest string) error {
	if len(refs) == 0 {
		return fmt.Errorf("nothing to export")
	}

	local := dest
	toS3 := strings.HasPrefix(dest, "s3://")
	if toS3 {
		f, err := os.CreateTemp("", "pbout-*.pdf")
		if err != nil {
			metrics.IncExport("error")
			return err
		}
		local = f.Name()
		_ = f.Close()
		defer os.Remove(local)
	} else if dir := filepath.Dir(local); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			metrics.IncExport("error")
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	if err := assembleLocal(refs, local); err != nil {
		metrics.IncExport("error")
		return err
	}

	if toS3 {
		if err := uploadS3(ctx, local, dest); err != nil {
			metrics.IncExport("error")
			return err
		}
	}
	metrics.IncExport("ok")
	log.Info().Int("pages", len(refs)).Str("dest", dest).Msg("document exported")
	return nil
}

func assembleLocal(refs []source.PageRef, outPath string) error {
	runs := planRuns(refs)

	if len(runs) == 1 {
		if err := api.CollectFile(runs[0].path, outPath, pageSelection(runs[0].pages), nil); err != nil {
			return fmt.Errorf("collect pages: %w", err)
		}
		return nil
	}

	parts := make([]string, 0, len(runs))
	defer func() {
		for _, p := range parts {
			os.Remove(p)
		}
	}()
	for i, r := range runs {
		f, err := os.CreateTemp("", fmt.Sprintf("pbrun%d-*.pdf", i))
		if err != nil {
			return err
		}
		part := f.Name()
		_ = f.Close()
		parts = append(parts, part)
		if err := api.CollectFile(r.path, part, pageSelection(r.pages), nil); err != nil {
			return fmt.Errorf("collect pages from %s: %w", filepath.Base(r.path), err)
		}
	}
	if err := api.MergeCreateFile(parts, outPath, false, nil); err != nil {
		return fmt.Errorf("merge runs: %w", err)
	}
	return nil
}

func pageSelection(pages []int) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p)
	}
	return out
}

func uploadS3(ctx context.Context, localPath, dest string) error {
	path := strings.TrimPrefix(dest, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 {
		return fmt.Errorf("invalid s3 destination: %s", dest)
	}
	bucket := path[:slash]
	key := path[slash+1:]

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	cli, err := storage.New(ctx, bucket)
	if err != nil {
		return err
	}
	return cli.Upload(ctx, key, data, "application/pdf")
}
