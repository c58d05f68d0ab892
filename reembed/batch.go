package reembed

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

// BatchProcessor generates and stores embeddings for batches of records.
type BatchProcessor struct {
	repo           storage.EntityRepository
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *slog.Logger
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(repo storage.EntityRepository, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		repo:           repo,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         logger,
	}
}

// Process embeds a batch of records and stores each vector with the
// fingerprint of the text it came from. Vectors are normalized to unit length.
// Returns how many embeddings were stored. A record that changed since it was
// read is skipped rather than given a vector for its old text.
func (bp *BatchProcessor) Process(ctx context.Context, records []core.Embeddable) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.EmbeddingText()
	}

	var embeddings [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(records) {
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(records), len(embeddings))
	}

	stored := 0
	for i, record := range records {
		if len(embeddings[i]) == 0 {
			bp.logger.Warn("empty embedding", "kind", record.Kind(), "id", record.NaturalID())
			continue
		}
		emb := core.Embedding{
			Vector:      core.NormalizeVector(embeddings[i]),
			Fingerprint: core.Fingerprint(texts[i]),
		}
		err := bp.repo.SetEmbedding(ctx, record.Kind(), record.NaturalID(), emb)
		switch {
		case err == nil:
			stored++
		case errors.Is(err, storage.ErrStaleFingerprint), errors.Is(err, storage.ErrNotFound):
			bp.logger.Warn("record changed during reembedding", "kind", record.Kind(), "id", record.NaturalID(), "err", err)
		default:
			return stored, fmt.Errorf("failed to store embedding for %s %s: %w", record.Kind(), record.NaturalID(), err)
		}
	}
	return stored, nil
}
