package courtlistener

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(WithBaseURL(srv.URL), WithToken("secret"))
	require.NoError(t, err)
	return c
}

func TestFetchJudge_WithPositionsAndEducation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/people/42/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id": 42, "name_first": "Sonia", "name_last": "Sotomayor", "date_dob": "1954-06-25"}`)
	})
	mux.HandleFunc("/positions/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("person"))
		fmt.Fprint(w, `{"next": null, "results": [
			{"position_type": "jus", "court": "https://x/api/rest/v4/courts/scotus/", "appointer": {"name_full": "Barack Obama"}, "date_start": "2009-08-08", "date_termination": null}
		]}`)
	})
	mux.HandleFunc("/educations/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"next": null, "results": [{"school": {"name": "Yale Law School"}, "degree_level": "jd", "degree_year": 1979}]}`)
	})
	c := newTestClient(t, mux)

	rec, err := c.Fetch(context.Background(), core.KindJudge, "42")
	require.NoError(t, err)

	judge, ok := rec.(*core.Judge)
	require.True(t, ok)
	assert.Equal(t, core.ID("42"), judge.Id)
	assert.Equal(t, "Sonia Sotomayor", judge.FullName())
	require.NotNil(t, judge.DateOfBirth)
	assert.Equal(t, 1954, judge.DateOfBirth.Year())
	require.Len(t, judge.Positions, 1)
	assert.Equal(t, core.Position{PositionType: "jus", Court: "scotus", Appointer: "Barack Obama", DateStart: "2009-08-08"}, judge.Positions[0])
	require.Len(t, judge.Education, 1)
	assert.Equal(t, core.Education{School: "Yale Law School", Degree: "jd", Year: "1979"}, judge.Education[0])
}

func TestFetchChain_ExtractsParentIDsFromURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/opinions/7/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 7, "cluster": "https://x/api/rest/v4/clusters/70/", "author": "https://x/api/rest/v4/people/42/", "type": "040dissent", "plain_text": "I dissent."}`)
	})
	mux.HandleFunc("/clusters/70/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 70, "docket": "https://x/api/rest/v4/dockets/700/", "case_name": "A v. B", "date_filed": "2010-01-02"}`)
	})
	mux.HandleFunc("/dockets/700/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 700, "court": "https://x/api/rest/v4/courts/scotus/", "case_name": "A v. B", "nature_of_suit": "Civil Rights"}`)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	rec, err := c.Fetch(ctx, core.KindOpinion, "7")
	require.NoError(t, err)
	op := rec.(*core.Opinion)
	assert.Equal(t, core.ID("70"), op.ClusterID)
	assert.Equal(t, core.ID("42"), op.AuthorID)
	assert.Equal(t, core.OpinionDissent, op.Type)

	rec, err = c.Fetch(ctx, core.KindCluster, "70")
	require.NoError(t, err)
	assert.Equal(t, core.ID("700"), rec.(*core.Cluster).DocketID)

	rec, err = c.Fetch(ctx, core.KindDocket, "700")
	require.NoError(t, err)
	docket := rec.(*core.Docket)
	assert.Equal(t, core.ID("scotus"), docket.CourtID)
	assert.Equal(t, "Civil Rights", docket.NatureOfSuit)
}

func TestFetchChildren_FollowsPagesAndHonorsLimit(t *testing.T) {
	var calls atomic.Int32
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/opinions/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"next": null, "results": [{"id": 3, "cluster": "/clusters/30/"}, {"id": 4, "cluster": "/clusters/40/"}]}`)
			return
		}
		assert.Equal(t, "42", r.URL.Query().Get("author"))
		fmt.Fprintf(w, `{"next": "%s/opinions/?author=42&page=2", "results": [{"id": 1, "cluster": "/clusters/10/"}, {"id": 2, "cluster": "/clusters/20/"}]}`, srvURL)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c, err := NewClient(WithBaseURL(srv.URL))
	require.NoError(t, err)
	ctx := context.Background()

	recs, err := c.FetchChildren(ctx, core.KindOpinion, "42", source.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, core.ID("4"), recs[3].NaturalID())
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	recs, err = c.FetchChildren(ctx, core.KindOpinion, "42", source.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchChildren_Citations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/opinions-cited/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("citing_opinion"))
		fmt.Fprint(w, `{"next": null, "results": [{"citing_opinion": "/opinions/7/", "cited_opinion": "/opinions/9/", "depth": 2}]}`)
	})
	c := newTestClient(t, mux)

	recs, err := c.FetchChildren(context.Background(), core.KindCitation, "7", source.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, &core.Citation{CitingID: "7", CitedID: "9", Depth: 2}, recs[0])
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, source.ErrNotFound},
		{http.StatusTooManyRequests, source.ErrRateLimited},
		{http.StatusBadGateway, source.ErrTransient},
		{http.StatusServiceUnavailable, source.ErrTransient},
		{http.StatusUnauthorized, source.ErrPermanent},
		{http.StatusBadRequest, source.ErrPermanent},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			_, err := c.Fetch(context.Background(), core.KindCourt, "scotus")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMalformedBodyIsPermanent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": `)
	}))
	_, err := c.Fetch(context.Background(), core.KindCourt, "scotus")
	assert.ErrorIs(t, err, source.ErrPermanent)
}

func TestUnsupportedQueries(t *testing.T) {
	c, err := NewClient()
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), core.KindCitation, "1")
	assert.ErrorIs(t, err, source.ErrUnsupported)

	_, err = c.FetchChildren(context.Background(), core.KindDocket, "1", source.Filter{})
	assert.ErrorIs(t, err, source.ErrUnsupported)
}

func TestOpinionType(t *testing.T) {
	for code, want := range map[string]core.OpinionType{
		"010combined":         core.OpinionCombined,
		"020lead":             core.OpinionMajority,
		"025plurality":        core.OpinionMajority,
		"030concurrence":      core.OpinionConcurrence,
		"035concurrenceinpar": core.OpinionConcurrence,
		"040dissent":          core.OpinionDissent,
		"":                    core.OpinionCombined,
		"060remittitur":       core.OpinionCombined,
	} {
		assert.Equal(t, want, opinionType(code), code)
	}
}

func TestWithBaseURL_Invalid(t *testing.T) {
	_, err := NewClient(WithBaseURL("not a url"))
	assert.Error(t, err)
}

func TestRateLimiter_ChargesEveryRequest(t *testing.T) {
	var requests atomic.Int32
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/people/1/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"id": 1, "name_last": "Kagan"}`)
	})
	mux.HandleFunc("/positions/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"next": null, "results": []}`)
	})
	mux.HandleFunc("/educations/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"next": null, "results": []}`)
	})
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

	newLimited := func(t *testing.T, burst int) *Client {
		c, err := NewClient(WithBaseURL(srv.URL), WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), burst)))
		require.NoError(t, err)
		return c
	}

	t.Run("judge lookups draw one token each", func(t *testing.T) {
		requests.Store(0)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := newLimited(t, 2).Fetch(ctx, core.KindJudge, "1")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("every page draws a token", func(t *testing.T) {
		requests.Store(0)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := newLimited(t, 1).FetchChildren(ctx, core.KindOpinion, "1", source.Filter{})
		require.Error(t, err)
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("enough budget completes", func(t *testing.T) {
		requests.Store(0)
		recs, err := newLimited(t, 2).FetchChildren(context.Background(), core.KindOpinion, "1", source.Filter{})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("UseLimiter replaces the budget", func(t *testing.T) {
		requests.Store(0)
		c := newLimited(t, 1)
		c.UseLimiter(rate.NewLimiter(rate.Inf, 0))
		_, err := c.Fetch(context.Background(), core.KindJudge, "1")
		require.NoError(t, err)
		assert.Equal(t, int32(3), requests.Load())
	})
}

func TestWithRateLimiter_Nil(t *testing.T) {
	_, err := NewClient(WithRateLimiter(nil))
	assert.Error(t, err)
}
