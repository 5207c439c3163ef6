package job

import (
	"encoding/json"
	"time"
)

// Job is a URL whose ingestion failed. A URL has at most one job; failing
// again updates it and bumps Failures.
type Job struct {
	ID        string          `json:"id"`
	URL       string          `json:"url"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Failures  int             `json:"failures"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
