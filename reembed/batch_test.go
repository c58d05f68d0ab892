package reembed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/courtgraph/ai/mock"
	"github.com/poiesic/courtgraph/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unnormalized returns a vector with magnitude 3 for every text.
func unnormalized(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1.0, 2.0, 2.0}
	}
	return result, nil
}

func TestBatchProcessor_Process(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = unnormalized
	processor := NewBatchProcessor(repos.Entities, embedder, 3, time.Millisecond, quietLogger())

	d2, err := repos.Entities.GetDocket(ctx, "D2")
	require.NoError(t, err)
	o1, err := repos.Entities.GetOpinion(ctx, "O1")
	require.NoError(t, err)

	stored, err := processor.Process(ctx, []core.Embeddable{d2, o1})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	updated, err := repos.Entities.GetDocket(ctx, "D2")
	require.NoError(t, err)
	require.NotNil(t, updated.Embedding)
	assert.Equal(t, core.Fingerprint(updated.EmbeddingText()), updated.Embedding.Fingerprint)

	var magnitude float32
	for _, v := range updated.Embedding.Vector {
		magnitude += v * v
	}
	assert.InDelta(t, 1.0, magnitude, 0.01, "vector should be normalized")
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	repos := setupTestDB(t)
	embedder := mock.NewMockEmbedder()
	processor := NewBatchProcessor(repos.Entities, embedder, 3, time.Millisecond, nil)

	stored, err := processor.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
	assert.Equal(t, 0, embedder.CallCount())
}

func TestBatchProcessor_RetriesThenFails(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	attempts := 0
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		return nil, errors.New("api error")
	}
	processor := NewBatchProcessor(repos.Entities, embedder, 3, time.Millisecond, quietLogger())

	judge, err := repos.Entities.GetJudge(ctx, "J1")
	require.NoError(t, err)

	_, err = processor.Process(ctx, []core.Embeddable{judge})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestBatchProcessor_RetrySucceeds(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	attempts := 0
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("temporary error")
		}
		return unnormalized(ctx, texts)
	}
	processor := NewBatchProcessor(repos.Entities, embedder, 3, time.Millisecond, quietLogger())

	judge, err := repos.Entities.GetJudge(ctx, "J1")
	require.NoError(t, err)

	stored, err := processor.Process(ctx, []core.Embeddable{judge})
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.Equal(t, 2, attempts)
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}
	processor := NewBatchProcessor(repos.Entities, embedder, 1, time.Millisecond, quietLogger())

	judge, err := repos.Entities.GetJudge(ctx, "J1")
	require.NoError(t, err)
	d2, err := repos.Entities.GetDocket(ctx, "D2")
	require.NoError(t, err)

	_, err = processor.Process(ctx, []core.Embeddable{judge, d2})
	assert.ErrorIs(t, err, ErrEmbeddingCountMismatch)
}

func TestBatchProcessor_SkipsChangedRecord(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	embedder := mock.NewMockEmbedder()
	processor := NewBatchProcessor(repos.Entities, embedder, 1, time.Millisecond, quietLogger())

	judge, err := repos.Entities.GetJudge(ctx, "J1")
	require.NoError(t, err)

	// The stored judge changes after it was read.
	_, err = repos.Entities.Upsert(ctx, &core.Judge{Id: "J1", NameLast: "Black", Biography: "Alabama senator."})
	require.NoError(t, err)

	stored, err := processor.Process(ctx, []core.Embeddable{judge})
	require.NoError(t, err)
	assert.Equal(t, 0, stored)

	current, err := repos.Entities.GetJudge(ctx, "J1")
	require.NoError(t, err)
	assert.Nil(t, current.Embedding)
}
