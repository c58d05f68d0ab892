package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	aimock "github.com/poiesic/courtgraph/ai/mock"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
	"github.com/poiesic/courtgraph/source/courtlistener"
	srcmock "github.com/poiesic/courtgraph/source/mock"
	"github.com/poiesic/courtgraph/storage/badger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fixture struct {
	repos    *badger.Repositories
	src      *srcmock.MockSource
	embedder *aimock.MockEmbedder
	ingestor *Ingestor
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupIngestor(t *testing.T, src *srcmock.MockSource, opts ...Option) *fixture {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	embedder := aimock.NewMockEmbedder()
	defaults := []Option{
		WithLogger(quietLogger()),
		WithPoolSize(4),
		WithRetryDelay(time.Millisecond),
		WithRunRepository(repos.Runs),
		WithRegisterer(prometheus.NewRegistry()),
	}
	in, err := NewIngestor(repos.Entities, repos.Citations, src,
		aimock.NewMockProviderWithEmbedder(embedder), append(defaults, opts...)...)
	require.NoError(t, err)
	t.Cleanup(in.Release)

	return &fixture{repos: repos, src: src, embedder: embedder, ingestor: in}
}

// scenarioSource builds judge J1 with opinions O1 (C1, D1, K1) and O2 (C2, D1, K1).
func scenarioSource() *srcmock.MockSource {
	return srcmock.NewMockSource().Add(
		&core.Judge{Id: "J1", NameFirst: "Ruth", NameLast: "Ginsburg", Biography: "Associate Justice."},
		&core.Court{Id: "K1", Name: "Supreme Court", ShortName: "SCOTUS"},
		&core.Docket{Id: "D1", CourtID: "K1", CaseName: "Doe v. Roe", NatureOfSuit: "Civil rights"},
		&core.Cluster{Id: "C1", DocketID: "D1", CaseName: "Doe v. Roe"},
		&core.Cluster{Id: "C2", DocketID: "D1", CaseName: "Doe v. Roe (rehearing)"},
		&core.Opinion{Id: "O1", ClusterID: "C1", AuthorID: "J1", Type: core.OpinionMajority, PlainText: "The judgment is affirmed."},
		&core.Opinion{Id: "O2", ClusterID: "C2", AuthorID: "J1", Type: core.OpinionDissent, PlainText: "I respectfully dissent."},
	)
}

// chainSource builds judge J1 with n opinions O1..On, each on its own cluster
// Ci, with cluster i on docket D(i % dockets) in court K1.
func chainSource(n, dockets int) *srcmock.MockSource {
	src := srcmock.NewMockSource().Add(
		&core.Judge{Id: "J1", NameLast: "Marshall"},
		&core.Court{Id: "K1", Name: "Supreme Court"},
	)
	for d := 0; d < dockets; d++ {
		src.Add(&core.Docket{Id: core.ID(fmt.Sprintf("D%d", d)), CourtID: "K1", CaseName: fmt.Sprintf("Case %d", d)})
	}
	for i := 1; i <= n; i++ {
		src.Add(
			&core.Cluster{Id: core.ID(fmt.Sprintf("C%d", i)), DocketID: core.ID(fmt.Sprintf("D%d", i%dockets))},
			&core.Opinion{
				Id:        core.ID(fmt.Sprintf("O%d", i)),
				ClusterID: core.ID(fmt.Sprintf("C%d", i)),
				AuthorID:  "J1",
				PlainText: fmt.Sprintf("Opinion text %d", i),
			},
		)
	}
	return src
}

func TestNewIngestor_RequiresCollaborators(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	src := srcmock.NewMockSource()
	provider := aimock.NewMockProvider()

	tests := []struct {
		name    string
		build   func() (*Ingestor, error)
		wantErr error
	}{
		{"entities", func() (*Ingestor, error) { return NewIngestor(nil, repos.Citations, src, provider) }, ErrEntityRepositoryRequired},
		{"citations", func() (*Ingestor, error) { return NewIngestor(repos.Entities, nil, src, provider) }, ErrCitationRepositoryRequired},
		{"source", func() (*Ingestor, error) { return NewIngestor(repos.Entities, repos.Citations, nil, provider) }, ErrSourceRequired},
		{"provider", func() (*Ingestor, error) { return NewIngestor(repos.Entities, repos.Citations, src, nil) }, ErrAIProviderRequired},
		{"bad default bound", func() (*Ingestor, error) {
			return NewIngestor(repos.Entities, repos.Citations, src, provider, WithDefaultMaxOpinions(MaxOpinionsLimit+1))
		}, ErrInvalidMaxOpinions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := tt.build()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, in)
		})
	}
}

func TestIngestJudge_EndToEndScenario(t *testing.T) {
	f := setupIngestor(t, scenarioSource())
	ctx := context.Background()

	out, err := f.ingestor.IngestJudge(ctx, "J1", 2)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Created["judge"])
	assert.Equal(t, 1, out.Created["court"])
	assert.Equal(t, 1, out.Created["docket"])
	assert.Equal(t, 2, out.Created["cluster"])
	assert.Equal(t, 2, out.Created["opinion"])
	assert.Empty(t, out.Skipped)
	assert.False(t, out.Canceled)
	assert.Empty(t, out.Error)

	assert.Equal(t, 1, f.src.FetchCount(core.KindDocket, "D1"))
	assert.Equal(t, 1, f.src.FetchCount(core.KindCourt, "K1"))

	for kind, want := range map[core.EntityKind]int{
		core.KindJudge:   1,
		core.KindCourt:   1,
		core.KindDocket:  1,
		core.KindCluster: 2,
		core.KindOpinion: 2,
	} {
		n, err := f.repos.Entities.Count(ctx, kind)
		require.NoError(t, err)
		assert.Equal(t, want, n, kind.String())
	}

	op, err := f.repos.Entities.GetOpinion(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, core.ID("J1"), op.AuthorID)
	assert.True(t, op.Embedding.IsCurrent(core.Fingerprint(op.EmbeddingText())))

	authored, err := f.repos.Entities.OpinionsByAuthor(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, []core.ID{"O1", "O2"}, authored)

	runs, err := f.repos.Runs.ListRuns(ctx, "J1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Created["opinion"])
}

func TestIngestJudge_Idempotent(t *testing.T) {
	f := setupIngestor(t, scenarioSource())
	ctx := context.Background()

	_, err := f.ingestor.IngestJudge(ctx, "J1", 0)
	require.NoError(t, err)
	embedCalls := f.embedder.CallCount()
	first, err := f.repos.Entities.GetDocket(ctx, "D1")
	require.NoError(t, err)

	out, err := f.ingestor.IngestJudge(ctx, "J1", 0)
	require.NoError(t, err)

	assert.Empty(t, out.Created)
	assert.Equal(t, 2, out.Updated["opinion"])
	assert.Equal(t, 1, out.Updated["docket"])
	assert.Equal(t, embedCalls, f.embedder.CallCount(), "unchanged text must reuse stored embeddings")

	for kind, want := range map[core.EntityKind]int{core.KindDocket: 1, core.KindCluster: 2, core.KindOpinion: 2} {
		n, err := f.repos.Entities.Count(ctx, kind)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	second, err := f.repos.Entities.GetDocket(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, first.InsertedAt, second.InsertedAt)
	assert.Equal(t, first.Embedding.Fingerprint, second.Embedding.Fingerprint)
}

func TestIngestJudge_ParentsCommittedBeforeChildren(t *testing.T) {
	src := chainSource(1, 1).Delay(core.KindCourt, 30*time.Millisecond)
	f := setupIngestor(t, src)
	ctx := context.Background()

	var mu sync.Mutex
	var violations []string
	src.OnFetch = func(kind core.EntityKind, id core.ID) {
		mu.Lock()
		defer mu.Unlock()
		check := func(k core.EntityKind, child core.ID) {
			ok, err := f.repos.Entities.Exists(ctx, k, child)
			if err != nil || ok {
				violations = append(violations, fmt.Sprintf("%s %s visible while fetching %s %s", k, child, kind, id))
			}
		}
		switch kind {
		case core.KindCourt:
			check(core.KindDocket, "D1")
			check(core.KindCluster, "C1")
			check(core.KindOpinion, "O1")
		case core.KindDocket:
			check(core.KindCluster, "C1")
			check(core.KindOpinion, "O1")
		case core.KindCluster:
			check(core.KindOpinion, "O1")
		}
	}

	out, err := f.ingestor.IngestJudge(ctx, "J1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Committed(core.KindOpinion))

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, violations)
}

func TestIngestJudge_SharedDocketsFetchedOnce(t *testing.T) {
	src := chainSource(6, 2).Delay(core.KindDocket, 10*time.Millisecond)
	f := setupIngestor(t, src)

	out, err := f.ingestor.IngestJudge(context.Background(), "J1", 0)
	require.NoError(t, err)

	assert.Equal(t, 6, out.Committed(core.KindOpinion))
	assert.Equal(t, 2, src.TotalFetches(core.KindDocket))
	assert.Equal(t, 1, src.FetchCount(core.KindDocket, "D0"))
	assert.Equal(t, 1, src.FetchCount(core.KindDocket, "D1"))
	assert.Equal(t, 1, src.TotalFetches(core.KindCourt))
	assert.Equal(t, 6, src.TotalFetches(core.KindCluster))
}

func TestIngestJudge_PartialFailureSkipsOneOpinion(t *testing.T) {
	src := chainSource(5, 5).Fail(core.KindCluster, "C3", source.ErrPermanent, -1)
	f := setupIngestor(t, src)
	ctx := context.Background()

	out, err := f.ingestor.IngestJudge(ctx, "J1", 0)
	require.NoError(t, err)

	assert.Equal(t, 4, out.Committed(core.KindOpinion))
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, core.ID("O3"), out.Skipped[0].OpinionID)
	assert.Equal(t, "cluster", out.Skipped[0].Stage)
	assert.Equal(t, core.FailurePermanent, out.Skipped[0].Class)
	assert.NotEmpty(t, out.Skipped[0].Reason)

	for _, id := range []core.ID{"O4", "O5"} {
		ok, err := f.repos.Entities.Exists(ctx, core.KindOpinion, id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
	ok, err := f.repos.Entities.Exists(ctx, core.KindOpinion, "O3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIngestJudge_FailureClasses(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		times     int
		wantClass core.FailureClass
		wantSkip  bool
		fetches   int
	}{
		{"not found is not retried", source.ErrNotFound, -1, core.FailureNotFound, true, 1},
		{"transient exhausts attempts", source.ErrTransient, -1, core.FailureTransient, true, 3},
		{"rate limit exhausts attempts", source.ErrRateLimited, -1, core.FailureTransient, true, 3},
		{"transient recovers", source.ErrTransient, 2, "", false, 3},
		{"permanent is not retried", source.ErrPermanent, -1, core.FailurePermanent, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := chainSource(1, 1).Fail(core.KindDocket, "D0", tt.err, tt.times)
			f := setupIngestor(t, src, WithMaxAttempts(3))

			out, err := f.ingestor.IngestJudge(context.Background(), "J1", 0)
			require.NoError(t, err)
			assert.Equal(t, tt.fetches, src.FetchCount(core.KindDocket, "D0"))

			if !tt.wantSkip {
				assert.Empty(t, out.Skipped)
				assert.Equal(t, 1, out.Committed(core.KindOpinion))
				return
			}
			require.Len(t, out.Skipped, 1)
			assert.Equal(t, "docket", out.Skipped[0].Stage)
			assert.Equal(t, tt.wantClass, out.Skipped[0].Class)
			assert.Equal(t, 0, out.Committed(core.KindCluster))
		})
	}
}

func TestIngestJudge_RootFailures(t *testing.T) {
	t.Run("judge not found", func(t *testing.T) {
		src := srcmock.NewMockSource()
		f := setupIngestor(t, src)

		out, err := f.ingestor.IngestJudge(context.Background(), "J404", 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRootFailed)
		assert.ErrorIs(t, err, source.ErrNotFound)
		require.NotNil(t, out)
		assert.NotEmpty(t, out.Error)
		assert.Equal(t, 0, src.ListCount(core.KindOpinion, "J404"))
	})

	t.Run("opinion listing fails", func(t *testing.T) {
		src := scenarioSource().Fail(core.KindOpinion, "J1", source.ErrPermanent, -1)
		f := setupIngestor(t, src)

		out, err := f.ingestor.IngestJudge(context.Background(), "J1", 0)
		assert.ErrorIs(t, err, ErrRootFailed)
		assert.Equal(t, 1, out.Created["judge"])
		assert.Equal(t, 0, src.TotalFetches(core.KindCluster))
	})

	t.Run("empty judge id", func(t *testing.T) {
		f := setupIngestor(t, srcmock.NewMockSource())
		_, err := f.ingestor.IngestJudge(context.Background(), "", 0)
		assert.ErrorIs(t, err, core.ErrEmptyID)
	})
}

func TestIngestJudge_MaxOpinions(t *testing.T) {
	t.Run("truncates listing", func(t *testing.T) {
		src := chainSource(5, 1)
		f := setupIngestor(t, src)

		out, err := f.ingestor.IngestJudge(context.Background(), "J1", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, out.Committed(core.KindOpinion))
		assert.Equal(t, 1, src.FetchCount(core.KindCluster, "C1"))
		assert.Equal(t, 1, src.FetchCount(core.KindCluster, "C2"))
		assert.Equal(t, 0, src.FetchCount(core.KindCluster, "C3"))
	})

	for _, bound := range []int{-1, MaxOpinionsLimit + 1} {
		t.Run(fmt.Sprintf("rejects %d", bound), func(t *testing.T) {
			f := setupIngestor(t, chainSource(1, 1))
			_, err := f.ingestor.IngestJudge(context.Background(), "J1", bound)
			assert.ErrorIs(t, err, ErrInvalidMaxOpinions)
		})
	}
}

func TestIngestJudge_TextChangeRegeneratesEmbeddingOnce(t *testing.T) {
	src := scenarioSource()
	f := setupIngestor(t, src)
	ctx := context.Background()

	_, err := f.ingestor.IngestJudge(ctx, "J1", 0)
	require.NoError(t, err)
	before := f.embedder.CallCount()

	revised := &core.Opinion{Id: "O1", ClusterID: "C1", AuthorID: "J1", PlainText: "The judgment is reversed."}
	src.Add(revised)

	_, err = f.ingestor.IngestJudge(ctx, "J1", 0)
	require.NoError(t, err)

	assert.Equal(t, before+1, f.embedder.CallCount())
	assert.Equal(t, 1, f.embedder.TextCount(revised.EmbeddingText()))

	stored, err := f.repos.Entities.GetOpinion(ctx, "O1")
	require.NoError(t, err)
	require.NotNil(t, stored.Embedding)
	assert.Equal(t, core.Fingerprint(revised.EmbeddingText()), stored.Embedding.Fingerprint)
}

func TestIngestJudge_EmbeddingFailureStillCommits(t *testing.T) {
	src := scenarioSource()
	f := setupIngestor(t, src, WithMaxAttempts(2))
	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("model unavailable")
	}

	out, err := f.ingestor.IngestJudge(context.Background(), "J1", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Committed(core.KindOpinion))
	assert.Equal(t, 4, out.EmbeddingFailures) // judge, docket, two opinions
	assert.Empty(t, out.Skipped)

	op, err := f.repos.Entities.GetOpinion(context.Background(), "O1")
	require.NoError(t, err)
	assert.Nil(t, op.Embedding)
}

func TestIngestJudge_Cancellation(t *testing.T) {
	src := chainSource(4, 4).Delay(core.KindCluster, 200*time.Millisecond)
	f := setupIngestor(t, src, WithPoolSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	out, err := f.ingestor.IngestJudge(ctx, "J1", 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.NotNil(t, out)
	assert.True(t, out.Canceled)
	assert.Equal(t, 0, out.Committed(core.KindOpinion))
	require.Len(t, out.Skipped, 4)
	for _, s := range out.Skipped {
		assert.Equal(t, core.FailureCanceled, s.Class)
	}

	// Work committed before cancellation stays.
	ok, err := f.repos.Entities.Exists(context.Background(), core.KindJudge, "J1")
	require.NoError(t, err)
	assert.True(t, ok)

	runs, err := f.repos.Runs.ListRuns(context.Background(), "J1", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Canceled)
}

func TestIngestJudge_Citations(t *testing.T) {
	src := scenarioSource().Add(
		&core.Citation{CitingID: "O1", CitedID: "O2", Depth: 2},
		&core.Citation{CitingID: "O1", CitedID: "X9", Depth: 1},
		&core.Citation{CitingID: "O1", CitedID: "O1", Depth: 1},
	)
	f := setupIngestor(t, src)
	ctx := context.Background()

	out, err := f.ingestor.IngestJudge(ctx, "J1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Created["citation"])
	assert.Empty(t, out.CitationFailures)

	refs, err := f.repos.Citations.CitationsFrom(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	dangling := map[core.ID]bool{}
	for _, ref := range refs {
		dangling[ref.CitedID] = ref.Dangling
	}
	assert.Equal(t, map[core.ID]bool{"O2": false, "X9": true}, dangling)

	citedBy, err := f.repos.Citations.CitationsTo(ctx, "O2")
	require.NoError(t, err)
	require.Len(t, citedBy, 1)
	assert.Equal(t, core.ID("O1"), citedBy[0].CitingID)
}

func TestIngestJudge_CitationFailureKeepsOpinion(t *testing.T) {
	src := scenarioSource().Fail(core.KindCitation, "O2", source.ErrPermanent, -1)
	f := setupIngestor(t, src)

	out, err := f.ingestor.IngestJudge(context.Background(), "J1", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Committed(core.KindOpinion))
	assert.Empty(t, out.Skipped)
	require.Len(t, out.CitationFailures, 1)
	assert.Equal(t, core.ID("O2"), out.CitationFailures[0].OpinionID)
	assert.Equal(t, "citation", out.CitationFailures[0].Stage)
}

func TestIngestJudge_CitationsDisabled(t *testing.T) {
	src := scenarioSource().Add(&core.Citation{CitingID: "O1", CitedID: "O2"})
	f := setupIngestor(t, src, WithCitations(false))

	_, err := f.ingestor.IngestJudge(context.Background(), "J1", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, src.ListCount(core.KindCitation, "O1"))
}

func TestIngestJudge_Metrics(t *testing.T) {
	src := chainSource(4, 1)
	f := setupIngestor(t, src)

	_, err := f.ingestor.IngestJudge(context.Background(), "J1", 0)
	require.NoError(t, err)

	m := f.ingestor.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchesTotal.WithLabelValues("docket", "ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.commitsTotal.WithLabelValues("opinion", "created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.memoHitsTotal.WithLabelValues("docket")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
}

func TestIngestCourts(t *testing.T) {
	src := srcmock.NewMockSource().Add(
		&core.Court{Id: "ca1", Name: "First Circuit"},
		&core.Court{Id: "ca2", Name: "Second Circuit"},
		&core.Court{Id: "scotus", Name: "Supreme Court"},
	)
	f := setupIngestor(t, src)
	ctx := context.Background()

	n, err := f.ingestor.IngestCourts(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.ingestor.IngestCourts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := f.repos.Entities.Count(ctx, core.KindCourt)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = f.ingestor.IngestCourts(ctx, -1)
	assert.Error(t, err)
}

func TestIngestor_RateLimiterSharedAcrossWorkers(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(10*time.Millisecond), 1)
	f := setupIngestor(t, chainSource(4, 1), WithPoolSize(4), WithRateLimiter(limiter))

	start := time.Now()
	out, err := f.ingestor.IngestJudge(context.Background(), "J1", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Committed(core.KindOpinion))

	// judge, opinion list, 4 clusters, 1 docket, 1 court, 4 citation lists
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestIngestor_PacedSourceChargedOncePerRequest(t *testing.T) {
	// judge, opinion list, 4 clusters, 1 docket, 1 court, 4 citation lists
	limiter := rate.NewLimiter(rate.Every(time.Hour), 12)
	f := setupIngestor(t, chainSource(4, 1), WithRateLimiter(limiter))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := f.ingestor.IngestJudge(ctx, "J1", 0)
	require.NoError(t, err)
	assert.Empty(t, out.Skipped)
	assert.Equal(t, 4, out.Committed(core.KindOpinion))
	assert.Less(t, limiter.Tokens(), 1.0)
}

func TestIngestor_CourtListenerRequestsShareBudget(t *testing.T) {
	var requests atomic.Int32
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/people/1/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"id": 1, "name_last": "Breyer"}`)
	})
	for _, path := range []string{"/positions/", "/educations/"} {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			fmt.Fprint(w, `{"next": null, "results": []}`)
		})
	}
	mux.HandleFunc("/opinions/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"next": null, "results": [{"id": 2, "cluster": "/clusters/20/"}]}`)
			return
		}
		fmt.Fprintf(w, `{"next": "%s/opinions/?author=1&page=2", "results": [{"id": 1, "cluster": "/clusters/10/"}]}`, srvURL)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	client, err := courtlistener.NewClient(courtlistener.WithBaseURL(srv.URL), courtlistener.WithLogger(quietLogger()))
	require.NoError(t, err)

	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	in, err := NewIngestor(repos.Entities, repos.Citations, client, aimock.NewMockProvider(),
		WithLogger(quietLogger()),
		WithRetryDelay(time.Millisecond),
		WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 2)))
	require.NoError(t, err)
	defer in.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = in.IngestJudge(ctx, "1", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRootFailed)
	assert.Equal(t, int32(2), requests.Load())
}
