// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/courtgraph/ai"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for failed embedding calls
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Kinds selects the embedding spaces to process; empty means all of them
	Kinds []core.EntityKind

	// Force regenerates embeddings that are already current
	Force bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// KindSummary counts what a run did for one entity kind.
type KindSummary struct {
	Scanned   int
	Stale     int
	Generated int
}

// Summary reports a reembedding run per entity kind.
type Summary struct {
	Kinds   map[core.EntityKind]*KindSummary
	Elapsed time.Duration
}

// Generated returns the total number of embeddings stored.
func (s *Summary) Generated() int {
	total := 0
	for _, k := range s.Kinds {
		total += k.Generated
	}
	return total
}

// Reembedder regenerates missing or stale embeddings across the embedding spaces.
type Reembedder struct {
	repo      storage.EntityRepository
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *StaleIterator
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(repo storage.EntityRepository, embedder ai.Embedder, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if repo == nil {
		return nil, ErrEntityRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reembedder")

	return &Reembedder{
		repo:      repo,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(repo, embedder, config.MaxRetries, config.RetryDelay, logger),
		iterator:  NewStaleIterator(repo, config.BatchSize, config.Force),
		logger:    logger,
	}, nil
}

// Run regenerates embeddings for every configured kind.
// Progress is reported to the configured writer.
func (r *Reembedder) Run(ctx context.Context) (*Summary, error) {
	kinds := r.config.Kinds
	if len(kinds) == 0 {
		kinds = core.EmbeddedKinds
	}

	start := time.Now()
	summary := &Summary{Kinds: make(map[core.EntityKind]*KindSummary, len(kinds))}
	for _, kind := range kinds {
		ks, err := r.runKind(ctx, kind)
		summary.Kinds[kind] = ks
		if err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}
	}
	summary.Elapsed = time.Since(start)

	fmt.Fprintf(r.progress, "Reembedding complete. Stored %d embeddings in %v\n",
		summary.Generated(), summary.Elapsed.Round(time.Millisecond))
	return summary, nil
}

func (r *Reembedder) runKind(ctx context.Context, kind core.EntityKind) (*KindSummary, error) {
	ks := &KindSummary{}
	stale, scanned, err := r.iterator.Scan(ctx, kind)
	ks.Scanned = scanned
	if err != nil {
		return ks, fmt.Errorf("failed to scan %s records: %w", kind, err)
	}
	ks.Stale = len(stale)

	if len(stale) == 0 {
		fmt.Fprintf(r.progress, "No stale %s embeddings (%d records)\n", kind, scanned)
		return ks, nil
	}

	fmt.Fprintf(r.progress, "Reembedding %d of %d %s records (batch size: %d)\n",
		len(stale), scanned, kind, r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, kind.String(), len(stale), r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, kind, stale, func(batch []core.Embeddable) error {
		stored, err := r.processor.Process(ctx, batch)
		ks.Generated += stored
		if err != nil {
			return fmt.Errorf("failed to process %s batch: %w", kind, err)
		}
		tracker.Increment(len(batch))
		return nil
	})
	if err != nil {
		return ks, err
	}

	tracker.Finish()
	r.logger.Info("reembedded kind", "kind", kind, "scanned", scanned, "stale", ks.Stale, "generated", ks.Generated)
	return ks, nil
}
