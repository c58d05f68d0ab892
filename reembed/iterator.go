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
	"errors"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/storage"
)

const (
	// DefaultBatchSize is the default number of records embedded per call.
	DefaultBatchSize = 100
)

// StaleIterator walks the records of one kind that need a new embedding.
type StaleIterator struct {
	repo      storage.EntityRepository
	batchSize int
	force     bool
}

// NewStaleIterator creates a new iterator.
// batchSize: number of records handed to fn at once (defaults when <= 0)
// force: treat every record with text as stale
func NewStaleIterator(repo storage.EntityRepository, batchSize int, force bool) *StaleIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &StaleIterator{
		repo:      repo,
		batchSize: batchSize,
		force:     force,
	}
}

func (it *StaleIterator) isStale(e core.Embeddable) bool {
	text := e.EmbeddingText()
	if text == "" {
		return false
	}
	return it.force || !e.CurrentEmbedding().IsCurrent(core.Fingerprint(text))
}

// Scan returns the ids of records of kind whose embedding is missing or stale,
// and the number of records scanned. Records without text are never stale.
// Only ids are retained; records are loaded again batch by batch in ForEach.
func (it *StaleIterator) Scan(ctx context.Context, kind core.EntityKind) ([]core.ID, int, error) {
	var stale []core.ID
	scanned := 0
	err := it.repo.ForEach(ctx, kind, func(rec core.Record) error {
		scanned++
		if e, ok := rec.(core.Embeddable); ok && it.isStale(e) {
			stale = append(stale, e.NaturalID())
		}
		return nil
	})
	if err != nil {
		return nil, scanned, err
	}
	return stale, scanned, nil
}

// ForEach loads the records named by ids in batches and calls fn with each
// batch. Records deleted or made current since Scan are dropped from their
// batch, and an emptied batch is skipped.
// Iteration stops on the first error from fn.
// Context cancellation is checked between batches.
func (it *StaleIterator) ForEach(ctx context.Context, kind core.EntityKind, ids []core.ID, fn func([]core.Embeddable) error) error {
	for i := 0; i < len(ids); i += it.batchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := min(i+it.batchSize, len(ids))
		batch, err := it.load(ctx, kind, ids[i:end])
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (it *StaleIterator) load(ctx context.Context, kind core.EntityKind, ids []core.ID) ([]core.Embeddable, error) {
	batch := make([]core.Embeddable, 0, len(ids))
	for _, id := range ids {
		rec, err := it.repo.Get(ctx, kind, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if e, ok := rec.(core.Embeddable); ok && it.isStale(e) {
			batch = append(batch, e)
		}
	}
	return batch, nil
}
