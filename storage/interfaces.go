package storage

import (
	"context"

	"github.com/poiesic/courtgraph/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close closes the storage backend and releases resources.
	Close() error
}

// EntityRepository provides keyed storage for courts, judges, dockets, clusters and opinions.
type EntityRepository interface {
	Repository

	// Upsert inserts or replaces a record by its natural id.
	// The record is validated and its parent must already be stored
	// (ErrMissingParent otherwise). InsertedAt survives replacement.
	// If the incoming record carries no embedding, the stored one is kept.
	// Returns true when the record did not exist before.
	Upsert(ctx context.Context, rec core.Record) (created bool, err error)

	// Get retrieves a record by kind and natural id.
	// Returns ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, kind core.EntityKind, id core.ID) (core.Record, error)

	// Exists reports whether a record is stored.
	Exists(ctx context.Context, kind core.EntityKind, id core.ID) (bool, error)

	// GetCourt retrieves a court. Returns ErrNotFound if it doesn't exist.
	GetCourt(ctx context.Context, id core.ID) (*core.Court, error)

	// GetJudge retrieves a judge. Returns ErrNotFound if it doesn't exist.
	GetJudge(ctx context.Context, id core.ID) (*core.Judge, error)

	// GetDocket retrieves a docket. Returns ErrNotFound if it doesn't exist.
	GetDocket(ctx context.Context, id core.ID) (*core.Docket, error)

	// GetCluster retrieves a cluster. Returns ErrNotFound if it doesn't exist.
	GetCluster(ctx context.Context, id core.ID) (*core.Cluster, error)

	// GetOpinion retrieves an opinion. Returns ErrNotFound if it doesn't exist.
	GetOpinion(ctx context.Context, id core.ID) (*core.Opinion, error)

	// SetEmbedding stores an embedding on an embeddable record.
	// The fingerprint must match the record's current assembled text,
	// otherwise ErrStaleFingerprint is returned and nothing is written.
	SetEmbedding(ctx context.Context, kind core.EntityKind, id core.ID, emb core.Embedding) error

	// ForEach calls fn for every stored record of a kind, in id order.
	// Iteration stops at the first error returned by fn.
	ForEach(ctx context.Context, kind core.EntityKind, fn func(core.Record) error) error

	// OpinionsByAuthor returns the ids of opinions attributed to a judge, in id order.
	OpinionsByAuthor(ctx context.Context, judgeID core.ID) ([]core.ID, error)

	// Count returns the number of stored records of a kind.
	Count(ctx context.Context, kind core.EntityKind) (int, error)
}

// CitationRepository provides storage for directed citation edges between opinions.
type CitationRepository interface {
	Repository

	// UpsertCitation inserts or updates an edge keyed by (citing, cited).
	// The citing opinion must be stored; the cited opinion need not be.
	// Returns true when the edge did not exist before.
	UpsertCitation(ctx context.Context, c *core.Citation) (created bool, err error)

	// CitationsFrom returns the edges leaving an opinion, annotated with
	// whether their target is stored.
	CitationsFrom(ctx context.Context, citingID core.ID) ([]core.CitationRef, error)

	// CitationsTo returns the edges pointing at an opinion.
	CitationsTo(ctx context.Context, citedID core.ID) ([]core.CitationRef, error)

	// DanglingCitations returns every edge whose target opinion is not stored.
	DanglingCitations(ctx context.Context) ([]core.CitationRef, error)
}

// SimilarityIndex answers k-nearest-neighbor queries over stored embeddings.
type SimilarityIndex interface {
	// FindNearest returns up to k records of one kind ordered by ascending
	// cosine distance to vector, ties broken by id ascending.
	// Records with a missing or stale embedding are not candidates.
	FindNearest(ctx context.Context, kind core.EntityKind, vector []float32, k int) ([]core.Neighbor, error)
}

// RunRepository persists the outcomes of ingestion runs.
type RunRepository interface {
	Repository

	// SaveRun stores a run outcome keyed by judge and start time.
	SaveRun(ctx context.Context, run *core.RunOutcome) error

	// ListRuns returns stored runs for a judge, most recent first.
	// An empty judgeID lists runs for every judge.
	ListRuns(ctx context.Context, judgeID core.ID, limit int) ([]*core.RunOutcome, error)
}
