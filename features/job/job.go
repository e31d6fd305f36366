package job

import (
	"encoding/json"
	"time"
)

// Job is an ingestion that failed after the file was stored. Payload is
// the task that can be published again to retry it.
type Job struct {
	ID        string          `json:"id"`
	FileName  string          `json:"file_name"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
