package gateway

import (
	"log/slog"

	"asahi/internal/batching"
	"asahi/internal/cache/embedding"
	"asahi/internal/cache/exact"
	"asahi/internal/cache/semantic"
	"asahi/internal/config"
	"asahi/internal/domain"
	"asahi/internal/provider"
	"asahi/internal/registry"
	"asahi/internal/resilience"
	"asahi/internal/routing"
	"asahi/internal/telemetry"
	"asahi/internal/vectorstore"
)

// Builder assembles a Gateway from injected components, filling in
// in-memory defaults for anything not provided. There is no process
// global state; every collaborator is owned by the built Gateway.
type Builder struct {
	cfg config.Config

	registry      *registry.Registry
	provider      provider.Client
	exactStore    exact.Store
	vectorStore   vectorstore.Store
	embedClient   embedding.Client
	collector     *telemetry.Collector
	batchExecutor batching.Executor
	providerRetry *resilience.RetryConfig
	logger        *slog.Logger
}

// NewBuilder starts a builder with the given configuration.
func NewBuilder(cfg *config.Config) *Builder {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Builder{cfg: *cfg}
}

// WithRegistry injects the model catalog.
func (b *Builder) WithRegistry(reg *registry.Registry) *Builder {
	b.registry = reg
	return b
}

// WithProvider injects the provider client.
func (b *Builder) WithProvider(client provider.Client) *Builder {
	b.provider = client
	return b
}

// WithExactStore injects the Tier-1 backend (e.g. Redis).
func (b *Builder) WithExactStore(store exact.Store) *Builder {
	b.exactStore = store
	return b
}

// WithVectorStore injects the similarity store (e.g. pgvector).
func (b *Builder) WithVectorStore(store vectorstore.Store) *Builder {
	b.vectorStore = store
	return b
}

// WithEmbeddingClient injects the embedding provider.
func (b *Builder) WithEmbeddingClient(client embedding.Client) *Builder {
	b.embedClient = client
	return b
}

// WithCollector injects a telemetry collector.
func (b *Builder) WithCollector(collector *telemetry.Collector) *Builder {
	b.collector = collector
	return b
}

// WithBatchExecutor injects a custom batch executor. The default calls
// the provider once per queued request.
func (b *Builder) WithBatchExecutor(executor batching.Executor) *Builder {
	b.batchExecutor = executor
	return b
}

// WithProviderRetry overrides the retry policy for direct provider
// calls. The default is three attempts with 1s/2s backoff.
func (b *Builder) WithProviderRetry(cfg resilience.RetryConfig) *Builder {
	b.providerRetry = &cfg
	return b
}

// WithLogger injects the logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build wires the gateway. The scheduler is created but not started;
// call Gateway.Start.
func (b *Builder) Build() (*Gateway, error) {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := b.registry
	if reg == nil {
		reg = registry.NewWithDefaults()
	}
	if reg.Len() == 0 {
		return nil, domain.NewError(domain.ErrConfiguration, "registry contains zero models")
	}

	providerClient := b.provider
	if providerClient == nil {
		providerClient = provider.NewMockClient(reg)
	}

	exactStore := b.exactStore
	if exactStore == nil {
		store, err := exact.NewMemoryStore(b.cfg.Cache.MaxEntries)
		if err != nil {
			return nil, domain.WrapError(domain.ErrConfiguration, err, "creating exact cache store")
		}
		exactStore = store
	}

	vecStore := b.vectorStore
	if vecStore == nil {
		vecStore = vectorstore.NewMemoryStore()
	}

	embedClient := b.embedClient
	if embedClient == nil {
		embedClient = embedding.NewMockClient(b.cfg.Embeddings.Dimension)
	}
	embedder := embedding.NewService(embedClient, embedding.Config{
		Dimension:  b.cfg.Embeddings.Dimension,
		BatchSize:  b.cfg.Embeddings.BatchSize,
		MaxRetries: b.cfg.Embeddings.MaxRetries,
	}, logger)

	collector := b.collector
	if collector == nil {
		collector = telemetry.NewCollector(telemetry.Config{
			Enabled:        b.cfg.Observability.Enabled,
			RetentionHours: b.cfg.Observability.RetentionHours,
		}, logger)
	}

	baseRouter := routing.NewRouter(reg)
	detector := routing.NewTaskDetector()
	interpreter := routing.NewConstraintInterpreter()

	queue := batching.NewQueue()

	providerRetry := resilience.ProviderRetryConfig()
	if b.providerRetry != nil {
		providerRetry = *b.providerRetry
	}

	g := &Gateway{
		registry:        reg,
		router:          baseRouter,
		advRouter:       routing.NewAdvancedRouter(reg, baseRouter, detector, interpreter),
		detector:        detector,
		interpreter:     interpreter,
		exactCache:      exact.New(exactStore, b.cfg.Cache.TTLSeconds, logger),
		semanticCache:   semantic.New(embedder, vecStore, b.cfg.Cache.TTLSeconds, logger),
		engine:          batching.NewEngine(b.cfg.Batching, reg),
		queue:           queue,
		provider:        providerClient,
		providerRetry:   providerRetry,
		collector:       collector,
		routingDefaults: b.cfg.Routing,
		logger:          logger,
	}

	executor := b.batchExecutor
	if executor == nil {
		executor = newProviderExecutor(providerClient, collector, logger)
	}
	g.scheduler = batching.NewScheduler(queue, executor, b.cfg.Batching)

	return g, nil
}
