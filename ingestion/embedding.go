package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/courtgraph/ai"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/retry"
	"github.com/poiesic/courtgraph/storage"
)

// EmbedStatus reports what Refresh did for one record.
type EmbedStatus int

const (
	// EmbedReused means the stored embedding already matched the record's text.
	EmbedReused EmbedStatus = iota
	// EmbedGenerated means a new embedding was generated and stored.
	EmbedGenerated
	// EmbedSkipped means the record has no text to embed.
	EmbedSkipped
	// EmbedFailed means generation or storage failed; the record stays unembedded.
	EmbedFailed
)

func (s EmbedStatus) String() string {
	switch s {
	case EmbedReused:
		return "reused"
	case EmbedGenerated:
		return "generated"
	case EmbedSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// EmbeddingCache keeps stored embeddings consistent with the text currently
// assembled for each record.
type EmbeddingCache struct {
	entities    storage.EntityRepository
	embedder    ai.Embedder
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// CacheOption configures an EmbeddingCache.
type CacheOption func(*EmbeddingCache) error

// WithCacheRetry sets the attempt cap and base delay for embedding calls.
func WithCacheRetry(maxAttempts int, baseDelay time.Duration) CacheOption {
	return func(c *EmbeddingCache) error {
		if maxAttempts < 1 {
			return fmt.Errorf("max attempts must be at least 1, got %d", maxAttempts)
		}
		c.maxAttempts = maxAttempts
		c.retryDelay = baseDelay
		return nil
	}
}

// WithCacheLogger sets the logger used by the cache.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *EmbeddingCache) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewEmbeddingCache creates an embedding cache over an entity repository.
func NewEmbeddingCache(entities storage.EntityRepository, embedder ai.Embedder, opts ...CacheOption) (*EmbeddingCache, error) {
	if entities == nil {
		return nil, ErrEntityRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrAIProviderRequired
	}
	c := &EmbeddingCache{
		entities:    entities,
		embedder:    embedder,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "embedding-cache")
	return c, nil
}

// Refresh makes sure rec's stored embedding matches its assembled text.
// rec must reflect the stored record, including its current embedding.
// A matching fingerprint reuses the stored vector without calling the model;
// otherwise the model is called once (with retries) and the unit-length vector
// is stored together with the new fingerprint. On success rec carries the new embedding.
func (c *EmbeddingCache) Refresh(ctx context.Context, rec core.Embeddable) (EmbedStatus, error) {
	text := rec.EmbeddingText()
	if text == "" {
		return EmbedSkipped, nil
	}
	fingerprint := core.Fingerprint(text)
	if rec.CurrentEmbedding().IsCurrent(fingerprint) {
		return EmbedReused, nil
	}

	var vector []float32
	err := retry.WithBackoff(ctx, func() error {
		v, err := c.embedder.EmbedText(ctx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return errors.New("embedder returned an empty vector")
		}
		vector = core.NormalizeVector(v)
		return nil
	}, c.maxAttempts, c.retryDelay)
	if err != nil {
		c.logger.Warn("embedding generation failed", "kind", rec.Kind(), "id", rec.NaturalID(), "err", err)
		return EmbedFailed, fmt.Errorf("%w: %s %s: %w", ErrEmbeddingFailed, rec.Kind(), rec.NaturalID(), err)
	}

	emb := core.Embedding{Vector: vector, Fingerprint: fingerprint}
	if err := c.entities.SetEmbedding(ctx, rec.Kind(), rec.NaturalID(), emb); err != nil {
		c.logger.Warn("storing embedding failed", "kind", rec.Kind(), "id", rec.NaturalID(), "err", err)
		return EmbedFailed, fmt.Errorf("%w: %s %s: %w", ErrEmbeddingFailed, rec.Kind(), rec.NaturalID(), err)
	}
	attachEmbedding(rec, &emb)
	c.logger.Debug("embedding generated", "kind", rec.Kind(), "id", rec.NaturalID())
	return EmbedGenerated, nil
}

func attachEmbedding(rec core.Record, emb *core.Embedding) {
	switch r := rec.(type) {
	case *core.Judge:
		r.Embedding = emb
	case *core.Docket:
		r.Embedding = emb
	case *core.Opinion:
		r.Embedding = emb
	}
}
