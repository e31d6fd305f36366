package worker

import "pdfsearch/internal/ingest"

// IngestTask is the message published on config.TopicIngestFile.
type IngestTask struct {
	FileName      string `json:"file_name"`
	ContentType   string `json:"content_type"`
	Path          string `json:"path"`
	KeepSource    bool   `json:"keep_source,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (t IngestTask) Upload() ingest.Upload {
	return ingest.Upload{
		FileName:    t.FileName,
		ContentType: t.ContentType,
		Path:        t.Path,
		KeepSource:  t.KeepSource,
	}
}
