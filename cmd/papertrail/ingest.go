package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/papertrail/internal/core/ingestion_engine"
	"github.com/markdave123-py/papertrail/internal/models"
)

var ingestWorkers int

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir|file>...",
	Short: "Import PDFs and run the pipeline on them",
	Long: `Submits every PDF found under the given paths and runs the pipeline on
each one before exiting.

A JSON file next to a PDF with the same base name (paper.pdf, paper.json)
is read as supplied metadata:

  {"title": "...", "authors": ["..."], "venue": "...", "year": 2017, "doi": "..."}

Supplied metadata is stored as external and is never overwritten by the
extracted record.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 2, "documents processed concurrently")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	files, err := collectPDFs(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no PDF files found")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Ingesting %d file(s) with %d worker(s)...\n", len(files), ingestWorkers)

	var completed, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, ingestWorkers))
	for _, path := range files {
		g.Go(func() error {
			jobID, err := ingestFile(gctx, a.Ingestor, path)
			if err != nil {
				failed.Add(1)
				fmt.Printf("  FAIL %s: %v\n", path, err)
				a.Log.Warn("ingest failed", zap.String("path", path), zap.Error(err))
				return nil
			}
			view, err := a.Jobs.Get(gctx, jobID)
			if err != nil {
				return err
			}
			if view.Status == models.JobCompleted {
				completed.Add(1)
				fmt.Printf("  OK   %s -> document %s\n", path, view.DocumentID)
			} else {
				failed.Add(1)
				fmt.Printf("  FAIL %s (job %s): %s\n", path, jobID, view.Error)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Done: %d completed, %d failed in %s\n", completed.Load(), failed.Load(), time.Since(start).Round(time.Millisecond))
	if failed.Load() > 0 {
		return fmt.Errorf("%d file(s) failed", failed.Load())
	}
	return nil
}

func ingestFile(ctx context.Context, ing *ingestion_engine.DocumentIngestor, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	meta, err := readSidecar(path)
	if err != nil {
		return "", err
	}
	jobID, err := ing.Submit(ctx, ingestion_engine.Upload{
		Data:        data,
		Filename:    filepath.Base(path),
		ContentType: "application/pdf",
		Metadata:    meta,
	})
	if err != nil {
		return "", err
	}
	return jobID, ing.ProcessOne(ctx, jobID)
}

// readSidecar loads paper.json for paper.pdf. A missing file is not an error.
func readSidecar(pdfPath string) (*models.Metadata, error) {
	sidecar := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".json"
	raw, err := os.ReadFile(sidecar)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m models.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("sidecar %s: %w", sidecar, err)
	}
	return &m, nil
}

// collectPDFs expands directories recursively and keeps *.pdf files in a
// stable order.
func collectPDFs(paths []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".pdf") {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
