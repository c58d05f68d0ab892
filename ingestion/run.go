package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/retry"
	"github.com/poiesic/courtgraph/source"
)

// run is the state of one IngestJudge call. Every run owns its seen set.
type run struct {
	in      *Ingestor
	judgeID core.ID
	seen    *seenSet
	tally   *tally
	cancel  context.CancelCauseFunc
	logger  *slog.Logger

	mu       sync.Mutex
	fatalErr error
}

func newRun(in *Ingestor, judgeID core.ID, cancel context.CancelCauseFunc) *run {
	return &run{
		in:      in,
		judgeID: judgeID,
		seen:    newSeenSet(),
		tally:   newTally(core.NewRunOutcome(judgeID)),
		cancel:  cancel,
		logger:  in.logger.With("judge", judgeID),
	}
}

// fail aborts the run. Only the first fatal error is kept.
func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatalErr == nil {
		r.fatalErr = err
		r.cancel(err)
	}
}

func (r *run) fatalError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalErr
}

// resolveRoot commits the judge and lists its opinions, deduplicated by id and
// truncated to maxOpinions in source order.
func (r *run) resolveRoot(ctx context.Context, maxOpinions int) ([]*core.Opinion, error) {
	if _, err := r.resolve(ctx, core.KindJudge, r.judgeID); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRootFailed, r.judgeID, err)
	}

	recs, err := r.fetchChildren(ctx, core.KindOpinion, r.judgeID, source.Filter{Limit: maxOpinions})
	if err != nil {
		return nil, fmt.Errorf("%w: listing opinions of %s: %w", ErrRootFailed, r.judgeID, err)
	}

	opinions := make([]*core.Opinion, 0, len(recs))
	listed := make(map[core.ID]struct{}, len(recs))
	for _, rec := range recs {
		op, ok := rec.(*core.Opinion)
		if !ok || op.Id == "" {
			continue
		}
		if _, dup := listed[op.Id]; dup {
			continue
		}
		listed[op.Id] = struct{}{}
		opinions = append(opinions, op)
		if len(opinions) == maxOpinions {
			break
		}
	}
	r.logger.Debug("opinions listed", "listed", len(recs), "accepted", len(opinions))
	return opinions, nil
}

// dispatch processes opinions on the worker pool and waits for all of them.
// Opinions not yet started when the run is canceled are recorded as canceled.
func (r *run) dispatch(ctx context.Context, opinions []*core.Opinion) {
	var wg sync.WaitGroup
	for _, op := range opinions {
		if err := ctx.Err(); err != nil {
			r.skip(op.Id, core.KindOpinion, err)
			continue
		}
		wg.Add(1)
		submitErr := r.in.pool.Submit(func() {
			defer wg.Done()
			r.processOpinion(ctx, op)
		})
		if submitErr != nil {
			wg.Done()
			r.fail(fmt.Errorf("submitting opinion %s: %w", op.Id, submitErr))
			r.skip(op.Id, core.KindOpinion, submitErr)
		}
	}
	wg.Wait()
}

// processOpinion resolves an opinion's cluster chain, commits the opinion,
// then fetches its citations. Any failure skips this opinion only, unless it
// is fatal to the run.
func (r *run) processOpinion(ctx context.Context, op *core.Opinion) {
	if err := ctx.Err(); err != nil {
		r.skip(op.Id, core.KindOpinion, err)
		return
	}
	if _, err := r.resolve(ctx, core.KindCluster, op.ClusterID); err != nil {
		r.skip(op.Id, core.KindCluster, err)
		return
	}

	op.AuthorID = r.judgeID
	if err := r.commit(ctx, op); err != nil {
		r.skip(op.Id, core.KindOpinion, err)
		return
	}

	if r.in.fetchCitations {
		r.ingestCitations(ctx, op.Id)
	}
}

// skip records an opinion that was not committed, aborting the run if the
// failure is fatal.
func (r *run) skip(opinionID core.ID, fallback core.EntityKind, err error) {
	if err == nil {
		err = context.Canceled
	}
	class, fatal := classify(err)
	if fatal {
		r.fail(err)
	}
	s := core.Skip{
		OpinionID: opinionID,
		Stage:     stage(err, fallback),
		Class:     class,
		Reason:    err.Error(),
	}
	r.tally.skip(s)
	r.in.metrics.skipsTotal.WithLabelValues(string(class)).Inc()
	if class != core.FailureCanceled {
		r.logger.Warn("skipping opinion", "opinion", opinionID, "stage", s.Stage, "class", class, "err", err)
	}
}

// resolve returns the committed record for (kind, id), fetching it and
// resolving its parent chain first if this run has not seen it.
func (r *run) resolve(ctx context.Context, kind core.EntityKind, id core.ID) (core.Record, error) {
	if id == "" {
		return nil, &resolveError{Kind: kind, ID: id, Err: fmt.Errorf("%w: %w", source.ErrPermanent, core.ErrMissingParentRef)}
	}
	rec, hit, err := r.seen.resolve(kind, id, func() (core.Record, error) {
		rec, err := r.fetch(ctx, kind, id)
		if err != nil {
			return nil, &resolveError{Kind: kind, ID: id, Err: err}
		}
		if parentKind, parentID, ok := parentOf(rec); ok {
			if _, err := r.resolve(ctx, parentKind, parentID); err != nil {
				return nil, err
			}
		}
		if err := r.commit(ctx, rec); err != nil {
			return nil, &resolveError{Kind: kind, ID: id, Err: err}
		}
		return rec, nil
	})
	if hit {
		r.in.metrics.memoHitsTotal.WithLabelValues(kind.String()).Inc()
	}
	return rec, err
}

// fetch retrieves one record under the shared rate limit, retrying
// rate-limited and transient failures.
func (r *run) fetch(ctx context.Context, kind core.EntityKind, id core.ID) (core.Record, error) {
	var rec core.Record
	err := r.call(ctx, kind, func() error {
		got, err := r.in.source.Fetch(ctx, kind, id)
		if err != nil {
			return err
		}
		if got == nil || got.Kind() != kind || got.NaturalID() != id {
			return fmt.Errorf("%w: source returned wrong record for %s %s", source.ErrPermanent, kind, id)
		}
		rec = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// fetchChildren lists related records under the shared rate limit with retries.
func (r *run) fetchChildren(ctx context.Context, kind core.EntityKind, parentID core.ID, filter source.Filter) ([]core.Record, error) {
	var recs []core.Record
	err := r.call(ctx, kind, func() error {
		got, err := r.in.source.FetchChildren(ctx, kind, parentID, filter)
		if err != nil {
			return err
		}
		recs = got
		return nil
	})
	return recs, err
}

func (r *run) call(ctx context.Context, kind core.EntityKind, op func() error) error {
	start := time.Now()
	err := retry.WithBackoffIf(ctx, func() error {
		if !r.in.sourcePaced {
			if err := r.in.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
			}
		}
		return op()
	}, r.in.maxAttempts, r.in.retryDelay, source.IsRetryable)

	result := "ok"
	if err != nil {
		result = "error"
	}
	r.in.metrics.fetchesTotal.WithLabelValues(kind.String(), result).Inc()
	r.in.metrics.fetchDurationSeconds.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	return err
}

// commit upserts a record and refreshes its embedding. Embedding failures are
// counted but never fail the commit.
func (r *run) commit(ctx context.Context, rec core.Record) error {
	created, err := r.in.entities.Upsert(ctx, rec)
	if err != nil {
		return storeError(err)
	}
	r.tally.committed(rec.Kind(), created)
	op := "updated"
	if created {
		op = "created"
	}
	r.in.metrics.commitsTotal.WithLabelValues(rec.Kind().String(), op).Inc()

	if e, ok := rec.(core.Embeddable); ok {
		status, _ := r.in.cache.Refresh(ctx, e)
		r.in.metrics.embeddingsTotal.WithLabelValues(status.String()).Inc()
		if status == EmbedFailed {
			r.tally.embeddingFailed()
		}
	}
	return nil
}

// parentOf returns the owning record a child must be committed after.
func parentOf(rec core.Record) (core.EntityKind, core.ID, bool) {
	switch r := rec.(type) {
	case *core.Docket:
		return core.KindCourt, r.CourtID, true
	case *core.Cluster:
		return core.KindDocket, r.DocketID, true
	case *core.Opinion:
		return core.KindCluster, r.ClusterID, true
	default:
		return 0, "", false
	}
}

// tally accumulates a run outcome from concurrent workers.
type tally struct {
	mu     sync.Mutex
	out    *core.RunOutcome
	sealed bool
}

func newTally(out *core.RunOutcome) *tally {
	return &tally{out: out}
}

func (t *tally) committed(kind core.EntityKind, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	if created {
		t.out.Created[kind.String()]++
	} else {
		t.out.Updated[kind.String()]++
	}
}

func (t *tally) skip(s core.Skip) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sealed {
		t.out.Skipped = append(t.out.Skipped, s)
	}
}

func (t *tally) citationFailure(s core.Skip) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sealed {
		t.out.CitationFailures = append(t.out.CitationFailures, s)
	}
}

func (t *tally) embeddingFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sealed {
		t.out.EmbeddingFailures++
	}
}

// seal stops further updates and returns the outcome.
func (t *tally) seal() *core.RunOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed = true
	return t.out
}
