package ingestion

import (
	"context"
	"errors"
	"sync"

	"github.com/poiesic/courtgraph/core"
	"golang.org/x/sync/singleflight"
)

// seenSet is the run-local memo of resolved entities keyed by (kind, id).
// Concurrent requests for the same unresolved entity share one in-flight
// resolution; later requests reuse its result without touching the network.
type seenSet struct {
	mu       sync.Mutex
	resolved map[string]resolution
	group    singleflight.Group
}

type resolution struct {
	rec core.Record
	err error
}

func newSeenSet() *seenSet {
	return &seenSet{resolved: make(map[string]resolution)}
}

func seenKey(kind core.EntityKind, id core.ID) string {
	return kind.String() + "\x00" + string(id)
}

// lookup returns a memoized resolution.
func (s *seenSet) lookup(kind core.EntityKind, id core.ID) (resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resolved[seenKey(kind, id)]
	return r, ok
}

// resolve returns the memoized result for (kind, id), or runs fn exactly once
// across concurrent callers and memoizes its outcome. Cancellation is not
// memoized. Callers always wait for fn, so fn must observe its own context.
// hit is false only for the caller that ran fn.
func (s *seenSet) resolve(kind core.EntityKind, id core.ID, fn func() (core.Record, error)) (rec core.Record, hit bool, err error) {
	if r, ok := s.lookup(kind, id); ok {
		return r.rec, true, r.err
	}

	key := seenKey(kind, id)
	ran := false
	v, err, _ := s.group.Do(key, func() (any, error) {
		// Another caller may have finished between lookup and Do.
		if r, ok := s.lookup(kind, id); ok {
			return r.rec, r.err
		}
		ran = true
		rec, err := fn()
		if !isCancellation(err) {
			s.mu.Lock()
			s.resolved[key] = resolution{rec: rec, err: err}
			s.mu.Unlock()
		}
		return rec, err
	})
	rec, _ = v.(core.Record)
	return rec, !ran, err
}

// size returns the number of memoized entities.
func (s *seenSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resolved)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
