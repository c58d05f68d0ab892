package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/courtgraph/ai"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
	"github.com/poiesic/courtgraph/storage"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxOpinions is the opinion bound applied when a run asks for zero.
	DefaultMaxOpinions = 100

	// MaxOpinionsLimit is the largest accepted opinion bound.
	MaxOpinionsLimit = 10000

	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
)

// Ingestor walks the record graph below a judge and commits it bottom-up.
// Opinions of one judge are processed concurrently on a bounded worker pool;
// shared ancestors are fetched once per run.
type Ingestor struct {
	entities           storage.EntityRepository
	citations          storage.CitationRepository
	runs               storage.RunRepository
	source             source.RecordSource
	embedder           ai.Embedder
	cache              *EmbeddingCache
	pool               *ants.Pool
	limiter            *rate.Limiter
	sourcePaced        bool
	maxAttempts        int
	retryDelay         time.Duration
	defaultMaxOpinions int
	fetchCitations     bool
	registerer         prometheus.Registerer
	metrics            *ingestMetrics
	logger             *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor) error

// WithPoolSize sets how many opinions are processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(in *Ingestor) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if in.pool != nil {
			in.pool.Release()
		}
		in.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(in *Ingestor) error {
		if logger == nil {
			logger = slog.Default()
		}
		in.logger = logger
		return nil
	}
}

// WithMaxAttempts sets the attempt cap for retryable fetch and embedding failures.
func WithMaxAttempts(n int) Option {
	return func(in *Ingestor) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be at least 1, got %d", n)
		}
		in.maxAttempts = n
		return nil
	}
}

// WithRetryDelay sets the base backoff delay. It doubles on each retry.
func WithRetryDelay(d time.Duration) Option {
	return func(in *Ingestor) error {
		if d < 0 {
			d = 0
		}
		in.retryDelay = d
		return nil
	}
}

// WithRateLimiter sets the request budget shared by every worker.
// A source.PacedSource is handed the limiter and charges it per upstream
// request; any other source is charged once per call.
// Default is unlimited.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(in *Ingestor) error {
		if limiter == nil {
			limiter = rate.NewLimiter(rate.Inf, 1)
		}
		in.limiter = limiter
		return nil
	}
}

// WithDefaultMaxOpinions sets the bound used when IngestJudge is given zero.
func WithDefaultMaxOpinions(n int) Option {
	return func(in *Ingestor) error {
		if n < 1 || n > MaxOpinionsLimit {
			return fmt.Errorf("%w: %d", ErrInvalidMaxOpinions, n)
		}
		in.defaultMaxOpinions = n
		return nil
	}
}

// WithCitations toggles fetching outbound citations for committed opinions.
// Default is enabled.
func WithCitations(enabled bool) Option {
	return func(in *Ingestor) error {
		in.fetchCitations = enabled
		return nil
	}
}

// WithRegisterer sets the Prometheus registerer for ingestion metrics.
// Default is a private registry. Registering two ingestors into the same
// registerer fails with a duplicate registration panic.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(in *Ingestor) error {
		if reg != nil {
			in.registerer = reg
		}
		return nil
	}
}

// WithRunRepository persists every run outcome.
func WithRunRepository(runs storage.RunRepository) Option {
	return func(in *Ingestor) error {
		in.runs = runs
		return nil
	}
}

// NewIngestor creates a new ingestor.
func NewIngestor(
	entities storage.EntityRepository,
	citations storage.CitationRepository,
	src source.RecordSource,
	provider ai.AIProvider,
	opts ...Option,
) (*Ingestor, error) {
	if entities == nil {
		return nil, ErrEntityRepositoryRequired
	}
	if citations == nil {
		return nil, ErrCitationRepositoryRequired
	}
	if src == nil {
		return nil, ErrSourceRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	in := &Ingestor{
		entities:           entities,
		citations:          citations,
		source:             src,
		embedder:           provider.Embedder(),
		pool:               pool,
		limiter:            rate.NewLimiter(rate.Inf, 1),
		maxAttempts:        defaultMaxAttempts,
		retryDelay:         defaultRetryDelay,
		defaultMaxOpinions: DefaultMaxOpinions,
		fetchCitations:     true,
		logger:             slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(in); optErr != nil {
			in.Release()
			return nil, optErr
		}
	}

	if paced, ok := src.(source.PacedSource); ok && in.limiter.Limit() != rate.Inf {
		paced.UseLimiter(in.limiter)
		in.sourcePaced = true
	}

	cache, err := NewEmbeddingCache(entities, in.embedder,
		WithCacheRetry(in.maxAttempts, in.retryDelay),
		WithCacheLogger(in.logger))
	if err != nil {
		in.Release()
		return nil, err
	}
	in.cache = cache

	if in.registerer == nil {
		in.registerer = prometheus.NewRegistry()
	}
	in.metrics = newIngestMetrics(in.registerer)
	in.logger = in.logger.With("component", "ingestor")
	return in, nil
}

// EmbeddingCache returns the cache the ingestor refreshes embeddings through.
func (in *Ingestor) EmbeddingCache() *EmbeddingCache {
	return in.cache
}

// IngestJudge ingests a judge, up to maxOpinions of the opinions they
// authored, each opinion's cluster, docket, and court, and the opinions'
// outbound citations. Zero maxOpinions applies the default bound.
//
// Failures below the root are recorded as skips in the outcome. A failure on
// the judge or its opinion listing, or a store failure, aborts the run and is
// returned along with the outcome. Cancelling ctx stops new fetches; entities
// already committed stay committed and the outcome is marked canceled.
func (in *Ingestor) IngestJudge(ctx context.Context, judgeID core.ID, maxOpinions int) (*core.RunOutcome, error) {
	if judgeID == "" {
		return nil, fmt.Errorf("%w: judge", core.ErrEmptyID)
	}
	if maxOpinions == 0 {
		maxOpinions = in.defaultMaxOpinions
	}
	if maxOpinions < 0 || maxOpinions > MaxOpinionsLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxOpinions, maxOpinions)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := newRun(in, judgeID, cancel)
	in.metrics.activeRuns.Inc()
	defer in.metrics.activeRuns.Dec()
	r.logger.Info("ingesting judge", "max_opinions", maxOpinions)

	opinions, err := r.resolveRoot(runCtx, maxOpinions)
	switch {
	case err != nil && ctx.Err() != nil:
		// Canceled by the caller; finish reports it.
	case err != nil:
		r.fail(err)
	default:
		r.dispatch(runCtx, opinions)
	}

	return in.finish(ctx, r)
}

// finish seals the run outcome, persists it, and picks the error to return.
func (in *Ingestor) finish(ctx context.Context, r *run) (*core.RunOutcome, error) {
	out := r.tally.seal()
	out.FinishedAt = time.Now().UTC()
	slices.SortFunc(out.Skipped, compareSkips)
	slices.SortFunc(out.CitationFailures, compareSkips)

	err := r.fatalError()
	outcome := "ok"
	switch {
	case err != nil:
		out.Error = err.Error()
		outcome = "failed"
		r.logger.Error("ingestion run failed", "err", err)
	case ctx.Err() != nil:
		err = ctx.Err()
		out.Canceled = true
		out.Error = err.Error()
		outcome = "canceled"
		r.logger.Warn("ingestion run canceled", "err", err)
	default:
		r.logger.Info("ingestion run complete",
			"opinions", out.Committed(core.KindOpinion),
			"entities_seen", r.seen.size(),
			"skipped", len(out.Skipped),
			"citation_failures", len(out.CitationFailures),
			"embedding_failures", out.EmbeddingFailures)
	}
	in.metrics.runDurationSeconds.WithLabelValues(outcome).Observe(out.FinishedAt.Sub(out.StartedAt).Seconds())

	if in.runs != nil {
		if saveErr := in.runs.SaveRun(context.WithoutCancel(ctx), out); saveErr != nil {
			r.logger.Error("error saving run outcome", "err", saveErr)
		}
	}
	return out, err
}

// IngestCourts lists courts from the source and upserts them.
// A zero limit lists every court. Returns how many courts were committed.
func (in *Ingestor) IngestCourts(ctx context.Context, limit int) (int, error) {
	if limit < 0 {
		return 0, fmt.Errorf("%w: court limit %d", storage.ErrInvalidQuery, limit)
	}
	r := newRun(in, "", func(error) {})
	recs, err := r.fetchChildren(ctx, core.KindCourt, "", source.Filter{Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("listing courts: %w", err)
	}
	committed := 0
	for _, rec := range recs {
		court, ok := rec.(*core.Court)
		if !ok {
			continue
		}
		if err := r.commit(ctx, court); err != nil {
			if _, fatal := classify(err); fatal || isCancellation(err) {
				return committed, err
			}
			in.logger.Warn("skipping court", "court", court.Id, "err", err)
			continue
		}
		committed++
	}
	in.logger.Info("courts ingested", "committed", committed, "listed", len(recs))
	return committed, nil
}

// Release releases resources including the worker pool.
// The ingestor should not be used after calling Release.
func (in *Ingestor) Release() {
	if in.pool != nil {
		in.pool.Release()
	}
}

func compareSkips(a, b core.Skip) int {
	switch {
	case a.OpinionID < b.OpinionID:
		return -1
	case a.OpinionID > b.OpinionID:
		return 1
	default:
		return 0
	}
}
