package source

import (
	"context"

	"github.com/poiesic/courtgraph/core"
	"golang.org/x/time/rate"
)

// Filter narrows a child listing.
type Filter struct {
	// Limit caps the number of records returned. Zero means no limit.
	Limit int
}

// RecordSource is the upstream judicial-records service.
//
// FetchChildren supports these relations:
//   - KindOpinion under a judge id: opinions authored by the judge, in source order
//   - KindCitation under an opinion id: the opinion's outbound citation edges
//   - KindCourt with an empty parent id: every court
type RecordSource interface {
	// Fetch retrieves a single record by kind and natural id.
	Fetch(ctx context.Context, kind core.EntityKind, id core.ID) (core.Record, error)

	// FetchChildren lists records of kind related to parentID.
	FetchChildren(ctx context.Context, kind core.EntityKind, parentID core.ID, filter Filter) ([]core.Record, error)
}

// PacedSource is a RecordSource that charges a rate limiter once per upstream
// request. A single Fetch may issue several requests (a judge with positions and
// education, or a listing spanning pages), so callers sharing a request budget
// hand the limiter to the source instead of charging it per call.
type PacedSource interface {
	RecordSource

	// UseLimiter replaces the limiter charged before each upstream request.
	UseLimiter(limiter *rate.Limiter)
}
