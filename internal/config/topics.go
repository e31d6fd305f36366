package config

const (
	// TopicIngestFile carries uploaded PDFs waiting for the ingestion pipeline.
	TopicIngestFile = "ingest.task.file"

	// ChannelIngest is the consumer channel shared by ingestion workers.
	ChannelIngest = "pdfsearch"
)
