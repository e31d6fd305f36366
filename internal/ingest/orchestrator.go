package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/scan"
	"pdfsearch/internal/text"
	"pdfsearch/internal/vector"
)

const ContentTypePDF = "application/pdf"

type Scanner interface {
	Scan(ctx context.Context, data []byte) scan.Result
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Upsert(ctx context.Context, records []vector.Record) error
	DeleteStale(ctx context.Context, fileName string, keep int) error
	DeleteByFileName(ctx context.Context, fileName string) error
}

// MetadataWriter persists the document state after each transition.
type MetadataWriter interface {
	SaveState(ctx context.Context, s *State) error
}

type Config struct {
	UploadDir        string
	ChunkSize        int
	ChunkOverlap     int
	EmbedConcurrency int
	EmbedTimeout     time.Duration
	IndexTimeout     time.Duration
	// Concurrency bounds how many files Reindex processes at once.
	Concurrency int
}

type Orchestrator struct {
	scanner  Scanner
	embedder Embedder
	index    Index
	meta     MetadataWriter
	cfg      Config
	locks    *KeyedMutex
	extract  func([]byte) (text.Document, error)
}

func New(scanner Scanner, embedder Embedder, index Index, meta MetadataWriter, cfg Config) *Orchestrator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = text.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = text.DefaultChunkOverlap
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Orchestrator{
		scanner:  scanner,
		embedder: embedder,
		index:    index,
		meta:     meta,
		cfg:      cfg,
		locks:    NewKeyedMutex(),
		extract:  text.Extract,
	}
}

// WithTextExtractor replaces the PDF text extractor.
func (o *Orchestrator) WithTextExtractor(fn func([]byte) (text.Document, error)) *Orchestrator {
	o.extract = fn
	return o
}

// Ingest screens, stores and indexes one file. Uploads of the same file
// name are serialized; a later upload overwrites the earlier one. On
// failure the returned error is a *StageError and the Result still
// describes the recorded state.
func (o *Orchestrator) Ingest(ctx context.Context, up Upload) (*Result, error) {
	name, err := cleanName(up.FileName)
	if err != nil {
		return nil, err
	}
	if up.ContentType != "" && up.ContentType != ContentTypePDF {
		return nil, apperr.Validation("Only PDF files are allowed.")
	}

	unlock := o.locks.Lock(name)
	defer unlock()

	data, err := os.ReadFile(up.Path)
	if err != nil {
		return nil, &StageError{FileName: name, Stage: StageUploaded, Err: err}
	}

	state := o.pendingState(name, int64(len(data)))
	res := &Result{FileName: name, Status: StatusPending, StoragePath: state.StoragePath}

	slog.InfoContext(ctx, "ingesting file", "file_name", name, "size", len(data))
	if err := o.meta.SaveState(ctx, state); err != nil {
		o.discard(ctx, up)
		return res, &StageError{FileName: name, Stage: StageUploaded, Err: fmt.Errorf("save metadata: %w", err)}
	}

	verdict := o.scanner.Scan(ctx, data)
	res.Verdict = verdict.Verdict
	switch verdict.Verdict {
	case scan.VerdictClean:
	case scan.VerdictMalicious:
		o.discard(ctx, up)
		o.purge(ctx, state, res, up, false)
		return res, o.fail(ctx, state, res, StatusScannedMalicious, StageScanning, apperr.ErrMalicious)
	default:
		o.discard(ctx, up)
		// a stored copy that could not be scanned stays on disk for a later reindex
		o.purge(ctx, state, res, up, true)
		cause := verdict.Err
		if cause == nil {
			cause = apperr.Scan("no verdict", nil)
		}
		return res, o.fail(ctx, state, res, StatusScanFailed, StageScanning, cause)
	}

	dest, err := o.store(up, name)
	if err != nil {
		return res, o.fail(ctx, state, res, StatusIndexFailed, StageUploaded, fmt.Errorf("store file: %w", err))
	}
	state.StoragePath = dest
	res.StoragePath = dest
	state.Status = StatusScannedClean
	res.Status = StatusScannedClean
	if err := o.meta.SaveState(ctx, state); err != nil {
		return res, &StageError{FileName: name, Stage: StageScanning, Err: fmt.Errorf("save metadata: %w", err)}
	}

	if err := o.indexFile(ctx, state, res, data); err != nil {
		return res, err
	}
	return res, nil
}

// MarkPending records name as pending under the same per-name lock as
// Ingest, so it waits for an ingestion of that name already in flight.
func (o *Orchestrator) MarkPending(ctx context.Context, fileName string, size int64) error {
	name, err := cleanName(fileName)
	if err != nil {
		return err
	}

	unlock := o.locks.Lock(name)
	defer unlock()

	if err := o.meta.SaveState(ctx, o.pendingState(name, size)); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func cleanName(fileName string) (string, error) {
	name := filepath.Base(strings.TrimSpace(fileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", apperr.Validation("file name is required")
	}
	return name, nil
}

// pendingState keeps pointing at the stored copy of an earlier upload
// until the new one either replaces or purges it.
func (o *Orchestrator) pendingState(name string, size int64) *State {
	state := &State{
		FileName:    name,
		ContentType: ContentTypePDF,
		FileSize:    size,
		Status:      StatusPending,
	}
	if o.cfg.UploadDir != "" {
		dest := filepath.Join(o.cfg.UploadDir, name)
		if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() {
			state.StoragePath = dest
		}
	}
	return state
}

// purge drops what an earlier upload of the same name left behind: its
// vectors and its stored copy. With keepInput the stored copy survives
// when it is the file being ingested.
func (o *Orchestrator) purge(ctx context.Context, state *State, res *Result, up Upload, keepInput bool) {
	ctx = context.WithoutCancel(ctx)
	name := state.FileName

	if err := o.index.DeleteByFileName(ctx, name); err != nil {
		slog.ErrorContext(ctx, "failed to delete vectors of rejected file", "file_name", name, "error", err)
	}
	state.ChunkCount = 0
	state.PageCount = 0
	state.ExtractedText = nil

	if state.StoragePath == "" || keepInput && samePath(up.Path, state.StoragePath) {
		res.StoragePath = state.StoragePath
		return
	}
	if err := os.Remove(state.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "failed to remove stored copy of rejected file", "path", state.StoragePath, "error", err)
	}
	state.StoragePath = ""
	res.StoragePath = ""
}

func (o *Orchestrator) indexFile(ctx context.Context, state *State, res *Result, data []byte) error {
	name := state.FileName

	doc, err := o.extract(data)
	if err != nil {
		return o.fail(ctx, state, res, StatusIndexFailed, StageExtracting, err)
	}
	state.PageCount = doc.Pages
	res.PageCount = doc.Pages

	chunks, err := text.Split(name, doc.Text, o.cfg.ChunkSize, o.cfg.ChunkOverlap)
	if err != nil {
		return o.fail(ctx, state, res, StatusIndexFailed, StageChunking, err)
	}

	vectors, err := o.embedAll(ctx, chunks)
	if err != nil {
		return o.fail(ctx, state, res, StatusIndexFailed, StageEmbedding, apperr.External("embed chunks", err))
	}

	records := make([]vector.Record, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		records[i] = vector.Record{
			ID:         c.ID,
			Vector:     vectors[i],
			FileName:   name,
			Source:     vector.SourceUpload,
			Text:       c.Text,
			ChunkIndex: c.Ordinal,
		}
	}

	ictx := ctx
	if o.cfg.IndexTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, o.cfg.IndexTimeout)
		defer cancel()
	}
	if len(records) > 0 {
		if err := o.index.Upsert(ictx, records); err != nil {
			return o.fail(ctx, state, res, StatusIndexFailed, StageIndexing, apperr.External("upsert records", err))
		}
	}
	if err := o.index.DeleteStale(ictx, name, len(records)); err != nil {
		return o.fail(ctx, state, res, StatusIndexFailed, StageIndexing, apperr.External("delete stale records", err))
	}

	extracted := text.Normalize(doc.Text)
	state.ExtractedText = &extracted
	state.Status = StatusIndexed
	state.ChunkCount = len(records)
	state.ErrorStage = ""
	state.Error = ""
	res.Status = StatusIndexed
	res.ChunkCount = len(records)
	res.ChunkIDs = ids

	if err := o.meta.SaveState(ctx, state); err != nil {
		return &StageError{FileName: name, Stage: StageIndexed, Err: fmt.Errorf("save metadata: %w", err)}
	}
	slog.InfoContext(ctx, "file indexed", "file_name", name, "chunks", len(records), "pages", doc.Pages)
	return nil
}

// embedAll embeds every chunk with at most EmbedConcurrency calls in
// flight. The first failure cancels the rest.
func (o *Orchestrator) embedAll(ctx context.Context, chunks []text.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EmbedConcurrency)

	for i, c := range chunks {
		g.Go(func() error {
			ectx := gctx
			if o.cfg.EmbedTimeout > 0 {
				var cancel context.CancelFunc
				ectx, cancel = context.WithTimeout(gctx, o.cfg.EmbedTimeout)
				defer cancel()
			}
			vec, err := o.embedder.Embed(ectx, c.Text)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", c.ID, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (o *Orchestrator) fail(ctx context.Context, state *State, res *Result, status Status, stage Stage, err error) error {
	state.Status = status
	state.ErrorStage = stage
	state.Error = failureMessage(err)
	res.Status = status

	slog.ErrorContext(ctx, "ingestion failed", "file_name", state.FileName, "stage", stage, "error", err)
	// the caller's context may already be cancelled; the failure must still be recorded
	if serr := o.meta.SaveState(context.WithoutCancel(ctx), state); serr != nil {
		slog.ErrorContext(ctx, "failed to record ingestion failure", "file_name", state.FileName, "error", serr)
	}
	return &StageError{FileName: state.FileName, Stage: stage, Err: err}
}

func failureMessage(err error) string {
	if errors.Is(err, apperr.ErrMalicious) {
		return "Malicious PDF detected."
	}
	return err.Error()
}

// store places the clean file at UploadDir/name, overwriting any earlier
// copy.
func (o *Orchestrator) store(up Upload, name string) (string, error) {
	if err := os.MkdirAll(o.cfg.UploadDir, 0o750); err != nil {
		return "", err
	}
	dest := filepath.Join(o.cfg.UploadDir, name)

	if up.KeepSource {
		if samePath(up.Path, dest) {
			return dest, nil
		}
		return dest, copyFile(up.Path, dest)
	}

	if err := os.Rename(up.Path, dest); err == nil {
		return dest, nil
	}
	// rename fails across filesystems
	if err := copyFile(up.Path, dest); err != nil {
		return "", err
	}
	return dest, os.Remove(up.Path)
}

func (o *Orchestrator) discard(ctx context.Context, up Upload) {
	if up.KeepSource {
		return
	}
	if err := os.Remove(up.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "failed to remove temporary upload", "path", up.Path, "error", err)
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- src is a path produced by the upload flow
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// Reindex ingests every PDF in dir, several files at a time. Each file is
// scanned again. Errors of individual files are joined.
func (o *Orchestrator) Reindex(ctx context.Context, dir string) ([]*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []*Result
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		name := e.Name()
		g.Go(func() error {
			res, err := o.Ingest(ctx, Upload{
				FileName:    name,
				ContentType: ContentTypePDF,
				Path:        filepath.Join(dir, name),
				KeepSource:  true,
			})
			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				results = append(results, res)
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	g.Wait()

	slog.InfoContext(ctx, "reindex finished", "dir", dir, "files", len(results), "failed", len(errs))
	return results, errors.Join(errs...)
}
