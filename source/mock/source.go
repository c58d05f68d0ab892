package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
	"golang.org/x/time/rate"
)

type recordKey struct {
	kind core.EntityKind
	id   core.ID
}

type failure struct {
	err       error
	remaining int // <0 means fail forever
}

// MockSource is an in-memory source.RecordSource for tests.
// It counts fetches per (kind, id) and supports injected delays and failures.
type MockSource struct {
	// OnFetch, if set, is called after each successful single-record fetch and
	// before the record is returned to the caller.
	OnFetch func(kind core.EntityKind, id core.ID)

	mu        sync.Mutex
	records   map[recordKey]core.Record
	byAuthor  map[core.ID][]core.ID
	citations map[core.ID][]*core.Citation
	fetches   map[recordKey]int
	listings  map[recordKey]int
	failures  map[recordKey]*failure
	delays    map[core.EntityKind]time.Duration
	limiter   *rate.Limiter
}

var _ source.PacedSource = (*MockSource)(nil)

// NewMockSource creates an empty mock source.
func NewMockSource() *MockSource {
	return &MockSource{
		records:   make(map[recordKey]core.Record),
		byAuthor:  make(map[core.ID][]core.ID),
		citations: make(map[core.ID][]*core.Citation),
		fetches:   make(map[recordKey]int),
		listings:  make(map[recordKey]int),
		failures:  make(map[recordKey]*failure),
		delays:    make(map[core.EntityKind]time.Duration),
	}
}

// Add registers records. Opinions with an author are listed under that judge
// in the order they are added; citations are listed under their citing opinion.
func (m *MockSource) Add(recs ...core.Record) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		if c, ok := rec.(*core.Citation); ok {
			m.citations[c.CitingID] = append(m.citations[c.CitingID], c)
			continue
		}
		key := recordKey{rec.Kind(), rec.NaturalID()}
		_, existed := m.records[key]
		m.records[key] = rec
		if op, ok := rec.(*core.Opinion); ok && op.AuthorID != "" && !existed {
			m.byAuthor[op.AuthorID] = append(m.byAuthor[op.AuthorID], op.Id)
		}
	}
	return m
}

// Fail makes fetches of (kind, id) return err. times < 0 fails forever;
// otherwise the next times fetches fail and later ones succeed.
// Use KindOpinion or KindCitation with a parent id to fail child listings.
func (m *MockSource) Fail(kind core.EntityKind, id core.ID, err error, times int) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[recordKey{kind, id}] = &failure{err: err, remaining: times}
	return m
}

// Delay makes every fetch of a kind wait d (or until the context ends).
func (m *MockSource) Delay(kind core.EntityKind, d time.Duration) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[kind] = d
	return m
}

// FetchCount returns how many times Fetch was called for (kind, id).
func (m *MockSource) FetchCount(kind core.EntityKind, id core.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[recordKey{kind, id}]
}

// TotalFetches returns how many times Fetch was called for any id of a kind.
func (m *MockSource) TotalFetches(kind core.EntityKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for k, n := range m.fetches {
		if k.kind == kind {
			total += n
		}
	}
	return total
}

// ListCount returns how many times FetchChildren was called for (kind, parentID).
func (m *MockSource) ListCount(kind core.EntityKind, parentID core.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[recordKey{kind, parentID}]
}

// UseLimiter makes every Fetch and FetchChildren call take one token first,
// as one upstream request.
func (m *MockSource) UseLimiter(limiter *rate.Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiter = limiter
}

func (m *MockSource) pace(ctx context.Context) error {
	m.mu.Lock()
	limiter := m.limiter
	m.mu.Unlock()
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return nil
}

// Fetch returns a copy of a registered record.
func (m *MockSource) Fetch(ctx context.Context, kind core.EntityKind, id core.ID) (core.Record, error) {
	key := recordKey{kind, id}
	if err := m.pace(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.fetches[key]++
	delay := m.delays[kind]
	m.mu.Unlock()

	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if err := m.takeFailure(key); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	rec, ok := m.records[key]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", source.ErrNotFound, kind, id)
	}

	if m.OnFetch != nil {
		m.OnFetch(kind, id)
	}
	return cloneRecord(rec), nil
}

// FetchChildren lists opinions by author, citations from an opinion, or all courts.
func (m *MockSource) FetchChildren(ctx context.Context, kind core.EntityKind, parentID core.ID, filter source.Filter) ([]core.Record, error) {
	key := recordKey{kind, parentID}
	if err := m.pace(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.listings[key]++
	delay := m.delays[kind]
	m.mu.Unlock()

	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(key); err != nil {
		return nil, err
	}

	var out []core.Record
	switch {
	case kind == core.KindOpinion && parentID != "":
		for _, id := range m.byAuthor[parentID] {
			out = append(out, cloneRecord(m.records[recordKey{core.KindOpinion, id}]))
		}
	case kind == core.KindCitation && parentID != "":
		for _, c := range m.citations[parentID] {
			copied := *c
			out = append(out, &copied)
		}
	case kind == core.KindCourt && parentID == "":
		for k, rec := range m.records {
			if k.kind == core.KindCourt {
				out = append(out, cloneRecord(rec))
			}
		}
		slices.SortFunc(out, func(a, b core.Record) int {
			if a.NaturalID() < b.NaturalID() {
				return -1
			}
			if a.NaturalID() > b.NaturalID() {
				return 1
			}
			return 0
		})
	default:
		return nil, fmt.Errorf("%w: children of kind %s under %q", source.ErrUnsupported, kind, parentID)
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// takeFailure consumes one injected failure for key. Caller holds m.mu.
func (m *MockSource) takeFailure(key recordKey) error {
	f, ok := m.failures[key]
	if !ok {
		return nil
	}
	if f.remaining == 0 {
		delete(m.failures, key)
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cloneRecord returns a shallow copy so callers can mutate what they receive.
func cloneRecord(rec core.Record) core.Record {
	switch r := rec.(type) {
	case *core.Court:
		c := *r
		return &c
	case *core.Judge:
		c := *r
		return &c
	case *core.Docket:
		c := *r
		return &c
	case *core.Cluster:
		c := *r
		return &c
	case *core.Opinion:
		c := *r
		return &c
	case *core.Citation:
		c := *r
		return &c
	}
	return rec
}
