package config

const (
	// TopicIngestURL carries single-URL re-ingestion tasks.
	TopicIngestURL = "ingest.url"

	// ChannelIngestWorker is the consumer channel used by the ingest worker.
	ChannelIngestWorker = "ingest-worker"
)
