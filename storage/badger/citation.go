package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// CitationRepository implements storage.CitationRepository for BadgerDB.
//
// Each edge is stored under cite:<citing>0x00<cited> with a reverse index
// entry under citedby:<cited>0x00<citing>.
type CitationRepository struct {
	backend *Backend
}

var _ storage.CitationRepository = (*CitationRepository)(nil)

// NewCitationRepository creates a new CitationRepository.
func NewCitationRepository(backend *Backend) *CitationRepository {
	return &CitationRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend owns the database handle.
func (r *CitationRepository) Close() error {
	return nil
}

// UpsertCitation inserts or updates an edge. The citing opinion must be stored.
func (r *CitationRepository) UpsertCitation(ctx context.Context, c *core.Citation) (bool, error) {
	if err := core.ValidateCitation(c); err != nil {
		return false, err
	}

	var created bool
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		found, err := keyExists(tx, makeEntityKey(opinionPrefix, c.CitingID))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: citation %s requires opinion %s", storage.ErrMissingParent, c.NaturalID(), c.CitingID)
		}

		key := makePairKey(citationPrefix, c.CitingID, c.CitedID)
		old, err := readCitation(tx, key)
		if err != nil {
			return err
		}
		created = old == nil

		now := time.Now().UTC()
		c.UpdatedAt = now
		c.InsertedAt = now
		if old != nil {
			c.InsertedAt = old.InsertedAt
		}

		value, err := storage.MarshalRecord(c)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Set(makePairKey(citedByPrefix, c.CitedID, c.CitingID), nil)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// CitationsFrom returns the edges leaving an opinion.
func (r *CitationRepository) CitationsFrom(ctx context.Context, citingID core.ID) ([]core.CitationRef, error) {
	var refs []core.CitationRef
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanCitations(ctx, tx, makePartialPairKey(citationPrefix, citingID), func(ref core.CitationRef) {
			refs = append(refs, ref)
		})
	}, false)
	return refs, err
}

// CitationsTo returns the edges pointing at an opinion.
func (r *CitationRepository) CitationsTo(ctx context.Context, citedID core.ID) ([]core.CitationRef, error) {
	var refs []core.CitationRef
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		dangling, err := keyExists(tx, makeEntityKey(opinionPrefix, citedID))
		if err != nil {
			return err
		}
		dangling = !dangling

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartialPairKey(citedByPrefix, citedID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, citingID, ok := splitPairKey(citedByPrefix, iter.Item().Key())
			if !ok {
				continue
			}
			c, err := readCitation(tx, makePairKey(citationPrefix, citingID, citedID))
			if err != nil {
				return err
			}
			if c == nil {
				continue
			}
			refs = append(refs, core.CitationRef{Citation: *c, Dangling: dangling})
		}
		return nil
	}, false)
	return refs, err
}

// DanglingCitations returns every edge whose cited opinion is not stored.
func (r *CitationRepository) DanglingCitations(ctx context.Context) ([]core.CitationRef, error) {
	var refs []core.CitationRef
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanCitations(ctx, tx, []byte(citationPrefix), func(ref core.CitationRef) {
			if ref.Dangling {
				refs = append(refs, ref)
			}
		})
	}, false)
	return refs, err
}

// scanCitations iterates edges under prefix and resolves whether each target is stored.
func scanCitations(ctx context.Context, tx *badger.Txn, prefix []byte, fn func(core.CitationRef)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var c core.Citation
		err := iter.Item().Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &c)
		})
		if err != nil {
			return fmt.Errorf("%w: citation: %w", storage.ErrSerializationFailed, err)
		}
		found, err := keyExists(tx, makeEntityKey(opinionPrefix, c.CitedID))
		if err != nil {
			return err
		}
		fn(core.CitationRef{Citation: c, Dangling: !found})
	}
	return nil
}

func readCitation(tx *badger.Txn, key []byte) (*core.Citation, error) {
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
		rec, err = storage.UnmarshalRecord(core.KindCitation, val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec.(*core.Citation), nil
}
