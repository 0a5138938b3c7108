package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired traces as JSONL files to a local directory:
//
//	{basePath}/traces/2026-02-20T15-04-05.000Z-<first trace id>.jsonl[.gz]
//
// Existing files are never overwritten.
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver rooted at basePath.
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) ArchiveTraces(_ context.Context, traces []models.Trace) (path string, err error) {
	dir := filepath.Join(a.basePath, "traces")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	if len(traces) == 0 {
		return "", fmt.Errorf("no traces to archive")
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05.000Z") + "-" + filepath.Base(traces[0].ID) + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
	}()

	enc := json.NewEncoder(f)
	var gw *gzip.Writer
	if a.compress {
		gw = gzip.NewWriter(f)
		enc = json.NewEncoder(gw)
	}

	for _, t := range traces {
		if err := enc.Encode(t); err != nil {
			return "", fmt.Errorf("encode trace %s: %w", t.ID, err)
		}
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			return "", fmt.Errorf("flush archive: %w", err)
		}
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(traces)).
		Msg("Archived traces to local file")

	return fpath, nil
}
