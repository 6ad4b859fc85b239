package config

const (
	defaultAPIListen       = ":8080"
	defaultClientAPITarget = "http://localhost:8080"

	defaultVectorProvider   = "sqlite"
	defaultVectorCollection = "stacks"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultBatchSize              = 5
	defaultBatchIntervalMS        = 1000
	defaultCallTimeoutMS          = 30000
	defaultWorkers                = 3
	defaultQueueSize              = 256
	defaultMaxConsecutiveFailures = 3
	defaultUpsertRetries          = 2
	defaultSimulationIntervalMS   = 1000

	defaultChunkTargetSize = 1000
	defaultChunkOverlap    = 100

	defaultMaxPassages     = 5
	defaultMaxContextChars = 4000

	defaultJobsProvider = "memory"
	defaultRetentionMS  = 3600000

	defaultEventsProvider = "none"
	defaultEventsTopic    = "stacks.jobs"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: defaultVectorCollection,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Ingest: IngestConfig{
			BatchSize:              defaultBatchSize,
			BatchIntervalMS:        defaultBatchIntervalMS,
			CallTimeoutMS:          defaultCallTimeoutMS,
			Workers:                defaultWorkers,
			QueueSize:              defaultQueueSize,
			MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
			UpsertRetries:          defaultUpsertRetries,
			SimulationIntervalMS:   defaultSimulationIntervalMS,
		},
		Chunking: ChunkingConfig{
			TargetSize: defaultChunkTargetSize,
			Overlap:    uintPtr(defaultChunkOverlap),
		},
		Retrieval: RetrievalConfig{
			MaxPassages:     defaultMaxPassages,
			MaxContextChars: defaultMaxContextChars,
		},
		Jobs: JobsConfig{
			Provider:    defaultJobsProvider,
			RetentionMS: defaultRetentionMS,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
	}
}

func uintPtr(v uint) *uint { return &v }
