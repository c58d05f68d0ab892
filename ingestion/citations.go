package ingestion

import (
	"context"
	"errors"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
)

// ingestCitations fetches the outbound citations of a committed opinion and
// upserts them. Edges to opinions that are not stored are kept as dangling.
// Failures are recorded against the opinion and never undo its commit.
func (r *run) ingestCitations(ctx context.Context, opinionID core.ID) {
	recs, err := r.fetchChildren(ctx, core.KindCitation, opinionID, source.Filter{})
	if err != nil {
		r.citationFailure(opinionID, err)
		return
	}

	for _, rec := range recs {
		c, ok := rec.(*core.Citation)
		if !ok {
			continue
		}
		if c.CitingID == "" {
			c.CitingID = opinionID
		}
		if c.CitingID != opinionID || c.CitedID == c.CitingID {
			continue
		}
		created, err := r.in.citations.UpsertCitation(ctx, c)
		if err != nil {
			err = storeError(err)
			if errors.Is(err, core.ErrInvalidRecord) {
				r.logger.Debug("dropping invalid citation", "opinion", opinionID, "cited", c.CitedID, "err", err)
				continue
			}
			r.citationFailure(opinionID, err)
			return
		}
		r.tally.committed(core.KindCitation, created)
		op := "updated"
		if created {
			op = "created"
		}
		r.in.metrics.commitsTotal.WithLabelValues(core.KindCitation.String(), op).Inc()
	}
}

func (r *run) citationFailure(opinionID core.ID, err error) {
	class, fatal := classify(err)
	if fatal {
		r.fail(err)
	}
	r.tally.citationFailure(core.Skip{
		OpinionID: opinionID,
		Stage:     core.KindCitation.String(),
		Class:     class,
		Reason:    err.Error(),
	})
	if class != core.FailureCanceled {
		r.logger.Warn("citation fetch failed", "opinion", opinionID, "class", class, "err", err)
	}
}
