package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/courtgraph/ai"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/storage"
)

const (
	// DefaultPerSpaceK is how many hits are requested from each space.
	DefaultPerSpaceK = 10

	// DefaultResultCap limits the fused result list.
	DefaultResultCap = 20

	// DefaultTimeout bounds the concurrent per-space searches.
	DefaultTimeout = 10 * time.Second
)

// Result is one fused hit. Kind selects which of Opinion, Docket, or Judge is
// set when the ranker hydrates results.
type Result struct {
	Kind      core.EntityKind
	ID        core.ID
	Distance  float64
	Relevance float64

	Opinion *core.Opinion
	Docket  *core.Docket
	Judge   *core.Judge
}

// Response is the outcome of a fused query.
type Response struct {
	Query   string
	Results []Result
	// Errors holds the failure of each space that contributed no hits.
	Errors map[core.EntityKind]error
}

// Failed reports whether a space failed for this query.
func (r *Response) Failed(kind core.EntityKind) bool {
	_, ok := r.Errors[kind]
	return ok
}

// Ranker fuses nearest-neighbor results from every embedding space.
type Ranker struct {
	index       storage.SimilarityIndex
	entities    storage.EntityRepository
	embedder    ai.Embedder
	perSpaceK   int
	resultCap   int
	minPerSpace int
	timeout     time.Duration
	hydrate     bool
	logger      *slog.Logger
}

// Option configures a Ranker.
type Option func(*Ranker) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Ranker) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithPerSpaceK sets how many hits are requested from each space.
func WithPerSpaceK(k int) Option {
	return func(r *Ranker) error {
		if k < 1 {
			return fmt.Errorf("%w: per-space k %d", storage.ErrInvalidQuery, k)
		}
		r.perSpaceK = k
		return nil
	}
}

// WithResultCap limits the number of fused results.
func WithResultCap(n int) Option {
	return func(r *Ranker) error {
		if n < 1 {
			return fmt.Errorf("%w: result cap %d", storage.ErrInvalidQuery, n)
		}
		r.resultCap = n
		return nil
	}
}

// WithMinPerSpace reserves up to n slots for each space's best hits so a
// space with lower relevance scores still appears in the results.
func WithMinPerSpace(n int) Option {
	return func(r *Ranker) error {
		if n < 0 {
			return fmt.Errorf("%w: min per space %d", storage.ErrInvalidQuery, n)
		}
		r.minPerSpace = n
		return nil
	}
}

// WithTimeout bounds the concurrent per-space searches.
func WithTimeout(d time.Duration) Option {
	return func(r *Ranker) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout %s", storage.ErrInvalidQuery, d)
		}
		r.timeout = d
		return nil
	}
}

// WithHydration toggles loading the full record for each result.
// Default is enabled.
func WithHydration(enabled bool) Option {
	return func(r *Ranker) error {
		r.hydrate = enabled
		return nil
	}
}

// NewRanker creates a new fusion ranker.
func NewRanker(
	index storage.SimilarityIndex,
	entities storage.EntityRepository,
	provider ai.AIProvider,
	opts ...Option,
) (*Ranker, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if entities == nil {
		return nil, ErrEntityRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	r := &Ranker{
		index:     index,
		entities:  entities,
		embedder:  provider.Embedder(),
		perSpaceK: DefaultPerSpaceK,
		resultCap: DefaultResultCap,
		timeout:   DefaultTimeout,
		hydrate:   true,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "ranker")

	return r, nil
}

// Query embeds the query text and returns fused results from every space.
func (r *Ranker) Query(ctx context.Context, query string) (*Response, error) {
	return r.QueryWithMonitor(ctx, query, nil)
}

// QueryWithMonitor is Query with callbacks at each stage.
// A failure to embed the query fails the call; a failing space does not.
func (r *Ranker) QueryWithMonitor(ctx context.Context, query string, monitor QueryMonitor) (*Response, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	query = normalizeQuery(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	monitor.Start(query)

	vector, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		r.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrQueryEmbedding, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrQueryEmbedding)
	}
	monitor.AfterQueryEmbedding(len(vector))

	hits, failures := r.searchSpaces(ctx, vector, monitor)

	// Hits are loaded before fusion so that a vanished record gives up its
	// slot under the cap to the next eligible hit.
	var records map[resultKey]core.Record
	if r.hydrate {
		hits, records = r.loadHits(ctx, hits)
	}

	results := r.fuse(hits)
	if r.hydrate {
		attachRecords(results, records)
	}
	monitor.AfterFusion(results)

	resp := &Response{Query: query, Results: results, Errors: failures}
	monitor.Finish(resp)
	return resp, nil
}

type spaceResult struct {
	kind core.EntityKind
	hits []core.Neighbor
	err  error
}

// searchSpaces runs one FindNearest per space concurrently. Spaces that have
// not answered when the timeout expires are reported as failed.
func (r *Ranker) searchSpaces(ctx context.Context, vector []float32, monitor QueryMonitor) (map[core.EntityKind][]core.Neighbor, map[core.EntityKind]error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	spaces := core.EmbeddedKinds
	ch := make(chan spaceResult, len(spaces))
	for _, kind := range spaces {
		go func() {
			hits, err := r.index.FindNearest(ctx, kind, vector, r.perSpaceK)
			ch <- spaceResult{kind: kind, hits: hits, err: err}
		}()
	}

	hits := make(map[core.EntityKind][]core.Neighbor, len(spaces))
	failures := make(map[core.EntityKind]error)
	pending := make(map[core.EntityKind]bool, len(spaces))
	for _, kind := range spaces {
		pending[kind] = true
	}

	for len(pending) > 0 {
		select {
		case res := <-ch:
			delete(pending, res.kind)
			if res.err != nil {
				r.logger.Warn("similarity space failed", "space", res.kind, "err", res.err)
				failures[res.kind] = res.err
			} else {
				hits[res.kind] = res.hits
			}
			monitor.SpaceSearched(res.kind, res.hits, res.err)
		case <-ctx.Done():
			for kind := range pending {
				err := fmt.Errorf("%w: %s: %w", ErrSpaceTimeout, kind, ctx.Err())
				r.logger.Warn("similarity space timed out", "space", kind)
				failures[kind] = err
				monitor.SpaceSearched(kind, nil, err)
			}
			clear(pending)
		}
	}
	return hits, failures
}

// fuse normalizes each space's distances, pools every hit, and selects the
// final ranked list.
func (r *Ranker) fuse(hits map[core.EntityKind][]core.Neighbor) []Result {
	bySpace := make(map[core.EntityKind][]Result, len(hits))
	var pooled []Result
	for kind, neighbors := range hits {
		scored := normalize(kind, neighbors)
		slices.SortFunc(scored, compareResults)
		bySpace[kind] = scored
		pooled = append(pooled, scored...)
	}
	slices.SortFunc(pooled, compareResults)

	if len(pooled) <= r.resultCap && r.minPerSpace == 0 {
		return pooled
	}

	selected := make([]Result, 0, min(r.resultCap, len(pooled)))
	taken := make(map[resultKey]bool)
	if r.minPerSpace > 0 {
		for _, kind := range core.EmbeddedKinds {
			for i, res := range bySpace[kind] {
				if i == r.minPerSpace || len(selected) == r.resultCap {
					break
				}
				selected = append(selected, res)
				taken[resultKey{res.Kind, res.ID}] = true
			}
		}
	}
	for _, res := range pooled {
		if len(selected) == r.resultCap {
			break
		}
		if taken[resultKey{res.Kind, res.ID}] {
			continue
		}
		selected = append(selected, res)
	}
	slices.SortFunc(selected, compareResults)
	return selected
}

type resultKey struct {
	kind core.EntityKind
	id   core.ID
}

// normalize maps a space's distances to [0, 1] relevance by min-max scaling.
// A single distinct distance gives every hit relevance 1.
func normalize(kind core.EntityKind, neighbors []core.Neighbor) []Result {
	if len(neighbors) == 0 {
		return nil
	}
	lo, hi := neighbors[0].Distance, neighbors[0].Distance
	for _, n := range neighbors[1:] {
		lo = min(lo, n.Distance)
		hi = max(hi, n.Distance)
	}

	results := make([]Result, len(neighbors))
	for i, n := range neighbors {
		relevance := 1.0
		if hi > lo {
			relevance = (hi - n.Distance) / (hi - lo)
		}
		results[i] = Result{Kind: kind, ID: n.Id, Distance: n.Distance, Relevance: relevance}
	}
	return results
}

// compareResults orders by relevance descending, then space priority
// (Opinion, Docket, Judge), then id ascending.
func compareResults(a, b Result) int {
	if c := cmp.Compare(b.Relevance, a.Relevance); c != 0 {
		return c
	}
	if c := cmp.Compare(priority(a.Kind), priority(b.Kind)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func priority(kind core.EntityKind) int {
	switch kind {
	case core.KindOpinion:
		return 0
	case core.KindDocket:
		return 1
	case core.KindJudge:
		return 2
	default:
		return 3
	}
}

// loadHits loads the record behind every hit. Hits whose record can no
// longer be loaded are dropped.
func (r *Ranker) loadHits(ctx context.Context, hits map[core.EntityKind][]core.Neighbor) (map[core.EntityKind][]core.Neighbor, map[resultKey]core.Record) {
	loaded := make(map[core.EntityKind][]core.Neighbor, len(hits))
	records := make(map[resultKey]core.Record)
	for kind, neighbors := range hits {
		kept := make([]core.Neighbor, 0, len(neighbors))
		for _, n := range neighbors {
			rec, err := r.entities.Get(ctx, kind, n.Id)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					r.logger.Warn("error loading result record", "kind", kind, "id", n.Id, "err", err)
				}
				continue
			}
			records[resultKey{kind, n.Id}] = rec
			kept = append(kept, n)
		}
		loaded[kind] = kept
	}
	return loaded, records
}

func attachRecords(results []Result, records map[resultKey]core.Record) {
	for i := range results {
		switch v := records[resultKey{results[i].Kind, results[i].ID}].(type) {
		case *core.Opinion:
			results[i].Opinion = v
		case *core.Docket:
			results[i].Docket = v
		case *core.Judge:
			results[i].Judge = v
		}
	}
}

// SimilarDockets returns up to k dockets nearest to a stored docket, excluding itself.
func (r *Ranker) SimilarDockets(ctx context.Context, docketID core.ID, k int) ([]core.Neighbor, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k %d", storage.ErrInvalidQuery, k)
	}
	docket, err := r.entities.GetDocket(ctx, docketID)
	if err != nil {
		return nil, err
	}
	if !docket.Embedding.IsCurrent(core.Fingerprint(docket.EmbeddingText())) {
		return nil, fmt.Errorf("%w: docket %s", ErrNoEmbedding, docketID)
	}

	neighbors, err := r.index.FindNearest(ctx, core.KindDocket, docket.Embedding.Vector, k+1)
	if err != nil {
		return nil, err
	}
	neighbors = slices.DeleteFunc(neighbors, func(n core.Neighbor) bool { return n.Id == docketID })
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}
