// Package ingest runs uploaded PDFs through screening, text extraction,
// chunking, embedding and indexing.
package ingest

import (
	"fmt"

	"pdfsearch/internal/scan"
)

// Stage names a step of the pipeline. A failure is reported with the stage
// it happened in.
type Stage string

const (
	StageUploaded   Stage = "uploaded"
	StageScanning   Stage = "scanning"
	StageExtracting Stage = "extracting-text"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
	StageIndexed    Stage = "indexed"
)

// Status is the document status recorded in the metadata store.
type Status string

const (
	StatusPending          Status = "pending"
	StatusScannedClean     Status = "scanned-clean"
	StatusScannedMalicious Status = "scanned-malicious"
	StatusScanFailed       Status = "scan-failed"
	StatusIndexed          Status = "indexed"
	StatusIndexFailed      Status = "index-failed"
)

// State is the metadata snapshot written after every transition.
type State struct {
	FileName      string
	ContentType   string
	FileSize      int64
	PageCount     int
	StoragePath   string
	ExtractedText *string
	Status        Status
	ChunkCount    int
	ErrorStage    Stage
	Error         string
}

// Upload is a file handed to the pipeline. Path points at a temporary copy
// which is moved into the upload directory once the file is clean and
// removed otherwise. With KeepSource the file at Path is left untouched.
type Upload struct {
	FileName    string
	ContentType string
	Path        string
	KeepSource  bool
}

type Result struct {
	FileName    string
	Status      Status
	Verdict     scan.Verdict
	ChunkCount  int
	ChunkIDs    []string
	PageCount   int
	StoragePath string
}

type StageError struct {
	FileName string
	Stage    Stage
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.FileName, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
