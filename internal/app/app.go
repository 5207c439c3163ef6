package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"citadex/features/document"
	"citadex/features/job"
	"citadex/features/stats"
	"citadex/internal/adapter/gemini"
	"citadex/internal/adapter/hugot"
	"citadex/internal/adapter/memory"
	"citadex/internal/adapter/pgvector"
	"citadex/internal/adapter/reranker"
	wstore "citadex/internal/adapter/weaviate"
	"citadex/internal/answer"
	"citadex/internal/config"
	"citadex/internal/crawler"
	"citadex/internal/domain"
	"citadex/internal/extract"
	"citadex/internal/fetcher"
	"citadex/internal/index"
	"citadex/internal/ingest"
	"citadex/internal/retrieval"
	"citadex/internal/settings"
	"citadex/internal/snapshot"
	"citadex/internal/text"
)

// Embedder serves both document indexing and query embedding. One instance
// is shared so both sides always use the same model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// Providers are the model-backed collaborators. Reranker may be nil.
type Providers struct {
	Embedder  Embedder
	Generator answer.Generator
	Reranker  retrieval.Reranker

	closers []io.Closer
}

func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewProviders builds the embedder, generator and optional reranker named in
// cfg. Generation always goes through Gemini.
func NewProviders(ctx context.Context, cfg *config.Config) (*Providers, error) {
	p := &Providers{}

	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	p.closers = append(p.closers, client)
	p.Generator = gemini.NewGenerator(client, cfg.GenerationModel)

	switch cfg.EmbeddingProvider {
	case config.ProviderLocal:
		e, err := hugot.NewEmbedder(cfg.LocalModelName, cfg.LocalModelDir)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("local embedder: %w", err)
		}
		p.closers = append(p.closers, e)
		p.Embedder = e
	default:
		p.Embedder = gemini.NewEmbedder(client, cfg.EmbeddingModel)
	}

	if cfg.RerankProvider != "" && cfg.RerankProvider != "none" {
		r, err := reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("reranker: %w", err)
		}
		p.Reranker = r
	}

	slog.InfoContext(ctx, "providers ready", "embedding_model", p.Embedder.ModelID(), "generation_model", cfg.GenerationModel, "reranker", cfg.RerankProvider)
	return p, nil
}

type vectorStore interface {
	index.VectorStore
	retrieval.VectorStore
	stats.VectorStore
	snapshot.Scroller
}

type lineageStore interface {
	index.Lineage
	index.ModelRegistry
	ingest.VersionSource
	Unpromoted(ctx context.Context) (map[string]int, error)
}

type stateStore interface {
	ingest.StateStore
	stats.DocumentRepo
}

// App holds every wired service. Jobs is nil with the memory backend.
type App struct {
	Config   *config.Config
	Crawler  *crawler.Controller
	Writer   *index.Writer
	Answers  *answer.Service
	Settings *settings.Service
	Jobs     *job.Service
	Stats    *stats.Service
	Export   *snapshot.Exporter

	lineage lineageStore
	closers []io.Closer
}

func New(cfg *config.Config, deps *Dependencies, p *Providers) (*App, error) {
	if p == nil || p.Embedder == nil || p.Generator == nil {
		return nil, errors.New("app: embedder and generator are required")
	}

	var (
		store   vectorStore
		lineage lineageStore
		state   stateStore
	)
	switch cfg.VectorBackend {
	case config.BackendMemory:
		store, lineage, state = memory.NewStore(), memory.NewLineage(), memory.NewStateStore()
	case config.BackendWeaviate, config.BackendPGVector:
		if deps == nil || deps.DB == nil {
			return nil, fmt.Errorf("app: backend %q needs a database", cfg.VectorBackend)
		}
		lineage, state = document.NewLineageRepo(deps.DB), document.NewPostgresRepo(deps.DB)
		if cfg.VectorBackend == config.BackendWeaviate {
			if deps.Weaviate == nil {
				return nil, errors.New("app: weaviate client missing")
			}
			store = wstore.NewStore(deps.Weaviate)
		} else {
			store = pgvector.NewStore(deps.DB)
		}
	default:
		return nil, fmt.Errorf("%w: VECTOR_BACKEND=%q", config.ErrInvalidValue, cfg.VectorBackend)
	}

	a := &App{Config: cfg, lineage: lineage}

	defaults := settings.Effective{
		SearchTopK:       cfg.SearchTopK,
		SearchTopN:       cfg.SearchTopN,
		SimilarityCutoff: cfg.SearchSimilarityCutoff,
		HighConfidence:   cfg.SearchHighConfidence,
	}
	var failures crawler.FailureRecorder
	var jobs stats.JobRepo = noJobs{}
	if cfg.UsesPostgres() {
		a.Settings = settings.NewService(settings.NewPostgresRepo(deps.DB), defaults)
		jobRepo := job.NewPostgresRepo(deps.DB)
		if deps.NSQProducer != nil {
			// A recorded URL already passed its crawl's scope, PDFs included.
			a.Jobs = job.NewService(jobRepo, deps.NSQProducer, true)
			failures = a.Jobs
		}
		jobs = jobRepo
	} else {
		a.Settings = settings.NewService(nil, defaults)
	}

	f := fetcher.New(fetcher.Options{
		UserAgent:   cfg.UserAgent,
		RPS:         cfg.RateLimitRPS,
		Timeout:     cfg.FetchTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		BackoffMin:  cfg.FetchBackoffMin,
		BackoffMax:  cfg.FetchBackoffMax,
		RobotsTTL:   cfg.RobotsTTL,
		RobotsRetry: cfg.RobotsRetry,
	}, nil)
	chunker := text.New(text.Options{MinSize: cfg.ChunkMin, MaxSize: cfg.ChunkMax, Overlap: cfg.ChunkOverlap})

	a.Writer = index.NewWriter(p.Embedder, store, lineage, lineage, cfg.EmbedBatchSize)
	pipeline := ingest.NewPipeline(state, extract.New(), chunker, lineage, a.Writer)
	a.Crawler = crawler.NewController(f, pipeline, failures)

	queryLog, err := retrieval.OpenQueryLog(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to open query log, falling back to stdout", "error", err, "path", cfg.QueryLogPath)
		queryLog = retrieval.NewQueryLogger(os.Stdout)
	}
	a.closers = append(a.closers, queryLog)

	retriever := retrieval.NewService(p.Embedder, store, p.Reranker, lineage, cfg.RetrievalTimeout)
	assembler := answer.NewAssembler(p.Generator, cfg.GenerationTimeout)
	a.Answers = answer.NewService(a.Settings, retriever, assembler, queryLog, cfg.FollowUpQuestions)
	a.Stats = stats.NewService(state, jobs, store, lineage)
	a.Export = snapshot.NewExporter(store, 0)

	return a, nil
}

// CrawlOptions turns a crawl profile into controller options.
func (a *App) CrawlOptions(p *config.CrawlProfile) crawler.RunOptions {
	p.ApplyDefaults(a.Config)
	return crawler.RunOptions{
		Seeds:         p.Seeds,
		MaxPages:      p.MaxPages,
		Concurrency:   p.Concurrency,
		AllowPDF:      p.AllowPDF,
		AllowPrefixes: p.AllowPrefixes,
		BlockPrefixes: p.BlockPrefixes,
		UseSitemaps:   *p.UseSitemaps,
		FollowLinks:   true,
	}
}

// Crawl runs one crawl described by p.
func (a *App) Crawl(ctx context.Context, p *config.CrawlProfile) (domain.CrawlReport, error) {
	return a.Crawler.Run(ctx, a.CrawlOptions(p))
}

// Reconcile finishes writes that stopped between a complete upsert and
// supersede. Versions whose upsert never finished are left pending. It
// returns the number of documents promoted.
func (a *App) Reconcile(ctx context.Context) (int, error) {
	pending, err := a.lineage.Unpromoted(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unpromoted documents: %w", err)
	}

	done := 0
	var errs []error
	for url, version := range pending {
		n, err := a.Writer.Supersede(ctx, url, version)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slog.InfoContext(ctx, "interrupted write completed", "url", url, "version", version, "superseded", n)
		done++
	}
	return done, errors.Join(errs...)
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type noJobs struct{}

func (noJobs) Count(context.Context) (int, error) { return 0, nil }
