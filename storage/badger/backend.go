package badger

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/storage"
)

const (
	// maxConflictRetries bounds how often a write transaction is replayed
	// after losing an optimistic concurrency race.
	maxConflictRetries = 16
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ storage.SimilarityIndex = (*Backend)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool) (*Backend, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Ensure directory exists
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, err
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		opts = badger.DefaultOptions(filePath)
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn in a read-write transaction and commits it.
// A commit that loses a write conflict is replayed from scratch, so fn must
// derive everything it writes from what it reads inside tx.
func (b *Backend) Update(ctx context.Context, fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = b.WithTx(func(tx *badger.Txn) error {
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.logger.Debug("write conflict, retrying transaction", "attempt", attempt+1)
	}
	return err
}

// FindNearest returns up to k records of one kind ordered by ascending cosine
// distance to vector. Records whose embedding is missing or no longer matches
// their assembled text are skipped. Equal distances are ordered by id.
func (b *Backend) FindNearest(ctx context.Context, kind core.EntityKind, vector []float32, k int) ([]core.Neighbor, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, fmt.Errorf("%w: k=%d, dimensions=%d", storage.ErrInvalidQuery, k, len(vector))
	}
	prefix, ok := kindPrefix(kind)
	if !ok || !slices.Contains(core.EmbeddedKinds, kind) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotEmbeddable, kind)
	}

	best := &neighborHeap{}
	err := b.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec core.Record
			err := iter.Item().Value(func(val []byte) error {
				var err error
				rec, err = storage.UnmarshalRecord(kind, val)
				return err
			})
			if err != nil {
				return err
			}

			e, ok := rec.(core.Embeddable)
			if !ok {
				continue
			}
			emb := e.CurrentEmbedding()
			if emb == nil || !emb.IsCurrent(core.Fingerprint(e.EmbeddingText())) {
				continue
			}

			n := core.Neighbor{Kind: kind, Id: rec.NaturalID(), Distance: core.CosineDistance(vector, emb.Vector)}
			if best.Len() < k {
				heap.Push(best, n)
			} else if closer(n, (*best)[0]) {
				(*best)[0] = n
				heap.Fix(best, 0)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	results := []core.Neighbor(*best)
	slices.SortFunc(results, compareNeighbors)
	return results, nil
}

// closer reports whether a ranks ahead of b.
func closer(a, b core.Neighbor) bool {
	return compareNeighbors(a, b) < 0
}

func compareNeighbors(a, b core.Neighbor) int {
	if a.Distance < b.Distance {
		return -1
	}
	if a.Distance > b.Distance {
		return 1
	}
	if a.Id < b.Id {
		return -1
	}
	if a.Id > b.Id {
		return 1
	}
	return 0
}

// neighborHeap is a max-heap on rank: the root is the worst of the kept candidates.
type neighborHeap []core.Neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x any)        { *h = append(*h, x.(core.Neighbor)) }
func (h *neighborHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}
