package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/storage"
)

// EntityRepository implements storage.EntityRepository for BadgerDB.
type EntityRepository struct {
	backend *Backend
}

var _ storage.EntityRepository = (*EntityRepository)(nil)

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(backend *Backend) *EntityRepository {
	return &EntityRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend owns the database handle.
func (r *EntityRepository) Close() error {
	return nil
}

// Upsert inserts or replaces a record by natural id.
func (r *EntityRepository) Upsert(ctx context.Context, rec core.Record) (bool, error) {
	if err := core.ValidateRecord(rec); err != nil {
		return false, err
	}
	prefix, ok := kindPrefix(rec.Kind())
	if !ok {
		return false, fmt.Errorf("%w: %s is not an entity record", storage.ErrInvalidQuery, rec.Kind())
	}

	var created bool
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		if err := checkParent(tx, rec); err != nil {
			return err
		}

		key := makeEntityKey(prefix, rec.NaturalID())
		old, err := readRecord(tx, rec.Kind(), key)
		if err != nil {
			return err
		}
		created = old == nil

		now := time.Now().UTC()
		inserted := now
		if old != nil {
			inserted = insertedAt(old)
			carryEmbedding(old, rec)
		}
		setTimestamps(rec, inserted, now)

		value, err := storage.MarshalRecord(rec)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}

		if op, ok := rec.(*core.Opinion); ok {
			return r.updateAuthorIndex(tx, old, op)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// updateAuthorIndex keeps the judge-to-opinion index in step with an opinion's author.
func (r *EntityRepository) updateAuthorIndex(tx *badger.Txn, old core.Record, op *core.Opinion) error {
	if prev, ok := old.(*core.Opinion); ok && prev.AuthorID != "" && prev.AuthorID != op.AuthorID {
		if err := tx.Delete(makePairKey(authorPrefix, prev.AuthorID, op.Id)); err != nil {
			return err
		}
	}
	if op.AuthorID == "" {
		return nil
	}
	return tx.Set(makePairKey(authorPrefix, op.AuthorID, op.Id), nil)
}

// Get retrieves a record by kind and natural id.
func (r *EntityRepository) Get(ctx context.Context, kind core.EntityKind, id core.ID) (core.Record, error) {
	prefix, ok := kindPrefix(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownKind, kind)
	}
	var rec core.Record
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		rec, err = readRecord(tx, kind, makeEntityKey(prefix, id))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrNotFound, kind, id)
	}
	return rec, nil
}

// Exists reports whether a record is stored.
func (r *EntityRepository) Exists(ctx context.Context, kind core.EntityKind, id core.ID) (bool, error) {
	prefix, ok := kindPrefix(kind)
	if !ok {
		return false, fmt.Errorf("%w: %d", core.ErrUnknownKind, kind)
	}
	var found bool
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		found, err = keyExists(tx, makeEntityKey(prefix, id))
		return err
	}, false)
	return found, err
}

// GetCourt retrieves a court by id.
func (r *EntityRepository) GetCourt(ctx context.Context, id core.ID) (*core.Court, error) {
	return getTyped[*core.Court](ctx, r, core.KindCourt, id)
}

// GetJudge retrieves a judge by id.
func (r *EntityRepository) GetJudge(ctx context.Context, id core.ID) (*core.Judge, error) {
	return getTyped[*core.Judge](ctx, r, core.KindJudge, id)
}

// GetDocket retrieves a docket by id.
func (r *EntityRepository) GetDocket(ctx context.Context, id core.ID) (*core.Docket, error) {
	return getTyped[*core.Docket](ctx, r, core.KindDocket, id)
}

// GetCluster retrieves a cluster by id.
func (r *EntityRepository) GetCluster(ctx context.Context, id core.ID) (*core.Cluster, error) {
	return getTyped[*core.Cluster](ctx, r, core.KindCluster, id)
}

// GetOpinion retrieves an opinion by id.
func (r *EntityRepository) GetOpinion(ctx context.Context, id core.ID) (*core.Opinion, error) {
	return getTyped[*core.Opinion](ctx, r, core.KindOpinion, id)
}

func getTyped[T core.Record](ctx context.Context, r *EntityRepository, kind core.EntityKind, id core.ID) (T, error) {
	var zero T
	rec, err := r.Get(ctx, kind, id)
	if err != nil {
		return zero, err
	}
	typed, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s %s has type %T", storage.ErrSerializationFailed, kind, id, rec)
	}
	return typed, nil
}

// SetEmbedding stores an embedding if its fingerprint matches the record's current text.
func (r *EntityRepository) SetEmbedding(ctx context.Context, kind core.EntityKind, id core.ID, emb core.Embedding) error {
	if !slices.Contains(core.EmbeddedKinds, kind) {
		return fmt.Errorf("%w: %s", storage.ErrNotEmbeddable, kind)
	}
	if len(emb.Vector) == 0 || emb.Fingerprint == "" {
		return fmt.Errorf("%w: embedding for %s %s needs a vector and a fingerprint", storage.ErrInvalidQuery, kind, id)
	}
	prefix, _ := kindPrefix(kind)

	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeEntityKey(prefix, id)
		rec, err := readRecord(tx, kind, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%w: %s %s", storage.ErrNotFound, kind, id)
		}

		e := rec.(core.Embeddable)
		if core.Fingerprint(e.EmbeddingText()) != emb.Fingerprint {
			return fmt.Errorf("%w: %s %s", storage.ErrStaleFingerprint, kind, id)
		}
		stored := core.Embedding{Vector: slices.Clone(emb.Vector), Fingerprint: emb.Fingerprint}
		setEmbedding(rec, &stored)

		value, err := storage.MarshalRecord(rec)
		if err != nil {
			return err
		}
		return tx.Set(key, value)
	})
}

// ForEach calls fn for every stored record of a kind, in id order.
func (r *EntityRepository) ForEach(ctx context.Context, kind core.EntityKind, fn func(core.Record) error) error {
	prefix, ok := kindPrefix(kind)
	if !ok {
		return fmt.Errorf("%w: %d", core.ErrUnknownKind, kind)
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
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
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// OpinionsByAuthor returns the ids of opinions attributed to a judge.
func (r *EntityRepository) OpinionsByAuthor(ctx context.Context, judgeID core.ID) ([]core.ID, error) {
	var ids []core.ID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartialPairKey(authorPrefix, judgeID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			_, opinionID, ok := splitPairKey(authorPrefix, iter.Item().Key())
			if ok {
				ids = append(ids, opinionID)
			}
		}
		return nil
	}, false)
	return ids, err
}

// Count returns the number of stored records of a kind.
func (r *EntityRepository) Count(ctx context.Context, kind core.EntityKind) (int, error) {
	prefix, ok := kindPrefix(kind)
	if !ok {
		return 0, fmt.Errorf("%w: %d", core.ErrUnknownKind, kind)
	}
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// readRecord reads and deserializes a record. Returns nil, nil if the key is absent.
func readRecord(tx *badger.Txn, kind core.EntityKind, key []byte) (core.Record, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec core.Record
	err = item.Value(func(val []byte) error {
		var err error
		rec, err = storage.UnmarshalRecord(kind, val)
		return err
	})
	return rec, err
}

func keyExists(tx *badger.Txn, key []byte) (bool, error) {
	_, err := tx.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// checkParent verifies that the owner of a child record is already stored.
func checkParent(tx *badger.Txn, rec core.Record) error {
	var (
		prefix     string
		parentKind core.EntityKind
		parentID   core.ID
	)
	switch r := rec.(type) {
	case *core.Docket:
		prefix, parentKind, parentID = courtPrefix, core.KindCourt, r.CourtID
	case *core.Cluster:
		prefix, parentKind, parentID = docketPrefix, core.KindDocket, r.DocketID
	case *core.Opinion:
		prefix, parentKind, parentID = clusterPrefix, core.KindCluster, r.ClusterID
	default:
		return nil
	}
	found, err := keyExists(tx, makeEntityKey(prefix, parentID))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s %s requires %s %s", storage.ErrMissingParent, rec.Kind(), rec.NaturalID(), parentKind, parentID)
	}
	return nil
}

func insertedAt(rec core.Record) time.Time {
	switch r := rec.(type) {
	case *core.Court:
		return r.InsertedAt
	case *core.Judge:
		return r.InsertedAt
	case *core.Docket:
		return r.InsertedAt
	case *core.Cluster:
		return r.InsertedAt
	case *core.Opinion:
		return r.InsertedAt
	}
	return time.Time{}
}

func setTimestamps(rec core.Record, inserted, updated time.Time) {
	switch r := rec.(type) {
	case *core.Court:
		r.InsertedAt, r.UpdatedAt = inserted, updated
	case *core.Judge:
		r.InsertedAt, r.UpdatedAt = inserted, updated
	case *core.Docket:
		r.InsertedAt, r.UpdatedAt = inserted, updated
	case *core.Cluster:
		r.InsertedAt, r.UpdatedAt = inserted, updated
	case *core.Opinion:
		r.InsertedAt, r.UpdatedAt = inserted, updated
	}
}

func setEmbedding(rec core.Record, emb *core.Embedding) {
	switch r := rec.(type) {
	case *core.Judge:
		r.Embedding = emb
	case *core.Docket:
		r.Embedding = emb
	case *core.Opinion:
		r.Embedding = emb
	}
}

// carryEmbedding keeps the stored embedding when the incoming record has none.
// A carried embedding may be stale; readers compare fingerprints.
func carryEmbedding(old, rec core.Record) {
	prev, ok := old.(core.Embeddable)
	if !ok || prev.CurrentEmbedding() == nil {
		return
	}
	if next, ok := rec.(core.Embeddable); ok && next.CurrentEmbedding() == nil {
		setEmbedding(rec, prev.CurrentEmbedding())
	}
}
