package worker

// IngestTask asks a worker to re-ingest one URL. It is the payload of
// config.TopicIngestURL and of every recorded failed job.
type IngestTask struct {
	URL           string `json:"url"`
	AllowPDF      bool   `json:"allow_pdf"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
