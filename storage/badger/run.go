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


package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend owns the database handle.
func (r *RunRepository) Close() error {
	return nil
}

// SaveRun persists a run outcome.
func (r *RunRepository) SaveRun(ctx context.Context, run *core.RunOutcome) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	value, err := storage.MarshalRunOutcome(run)
	if err != nil {
		return err
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeRunKey(run.JudgeID, run.StartedAt), value)
	})
}

// ListRuns retrieves stored runs, most recent first.
func (r *RunRepository) ListRuns(ctx context.Context, judgeID core.ID, limit int) ([]*core.RunOutcome, error) {
	prefix := []byte(runPrefix)
	if judgeID != "" {
		prefix = makePartialPairKey(runPrefix, judgeID)
	}

	var runs []*core.RunOutcome
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				run, err := storage.UnmarshalRunOutcome(val)
				if err != nil {
					return err
				}
				runs = append(runs, run)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(runs, func(a, b *core.RunOutcome) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
