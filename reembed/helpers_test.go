package reembed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/storage/badger"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestDB stores a court, two dockets, a cluster, two opinions, and a judge.
// Docket D1 carries a current embedding; everything else has none.
func setupTestDB(t *testing.T) *badger.Repositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	ctx := context.Background()

	d1 := &core.Docket{Id: "D1", CourtID: "K1", CaseName: "Gideon v. Wainwright"}
	for _, rec := range []core.Record{
		&core.Court{Id: "K1", Name: "Supreme Court"},
		d1,
		&core.Docket{Id: "D2", CourtID: "K1", CaseName: "Miranda v. Arizona"},
		&core.Cluster{Id: "C1", DocketID: "D2"},
		&core.Opinion{Id: "O1", ClusterID: "C1", PlainText: "The right to counsel is fundamental."},
		&core.Opinion{Id: "O2", ClusterID: "C1"},
		&core.Judge{Id: "J1", NameLast: "Black"},
	} {
		_, err := repos.Entities.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	err = repos.Entities.SetEmbedding(ctx, core.KindDocket, "D1", core.Embedding{
		Vector:      []float32{1, 0, 0},
		Fingerprint: core.Fingerprint(d1.EmbeddingText()),
	})
	require.NoError(t, err)
	return repos
}
