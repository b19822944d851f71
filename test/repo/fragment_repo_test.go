package repo_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/model"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
	"github.com/quarrylabs/quarry/internal/pkg/timeutil"
	"github.com/quarrylabs/quarry/internal/repo"
	"github.com/quarrylabs/quarry/test/testutil"
)

const vectorDim = 1536

// unitQueryVector points along the first axis, so similarityVector(s)
// scores exactly s against it.
func unitQueryVector() []float32 {
	v := make([]float32, vectorDim)
	v[0] = 1
	return v
}

// similarityVector builds a unit vector whose cosine similarity against
// unitQueryVector is sim.
func similarityVector(sim float64) []float32 {
	v := make([]float32, vectorDim)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func newTestFragment(id, docID, kbID string, chunkIndex int, content string, embedding []float32) model.Fragment {
	return model.Fragment{
		ID:         id,
		DocumentID: docID,
		KBID:       kbID,
		ChunkIndex: chunkIndex,
		Content:    content,
		Embedding:  embedding,
		Metadata:   map[string]interface{}{"file_name": "notes.txt"},
		Ctime:      timeutil.NowUnix(),
	}
}

func TestFragmentRepoSearchRanksByScore(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.ResetTables(t, db)

	frags := repo.NewFragmentRepo(db)
	ctx := context.Background()
	sims := []float64{0.95, 0.9, 0.8, 0.5, 0.2}
	batch := make([]model.Fragment, 0, len(sims))
	for i, sim := range sims {
		batch = append(batch, newTestFragment(
			fragID(i), "doc-1", "kb-1", i, contentFor(i), similarityVector(sim)))
	}
	require.NoError(t, frags.InsertBatch(ctx, batch))

	hits, err := frags.Search(ctx, "kb-1", unitQueryVector(), 3, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	require.Equal(t, contentFor(0), hits[0].Content)
	require.Equal(t, contentFor(1), hits[1].Content)
	require.Equal(t, contentFor(2), hits[2].Content)
	require.InDelta(t, 0.95, hits[0].Score, 0.01)
	require.InDelta(t, 0.9, hits[1].Score, 0.01)
	require.InDelta(t, 0.8, hits[2].Score, 0.01)
	require.Equal(t, "notes.txt", hits[0].Metadata["file_name"])

	require.NoError(t, frags.DeleteByDocument(ctx, "doc-1"))
	count, err := frags.CountByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Zero(t, count)

	// Deleting an already-empty scope is a no-op.
	require.NoError(t, frags.DeleteByDocument(ctx, "doc-1"))
}

func TestFragmentRepoSearchTieBreak(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.ResetTables(t, db)

	frags := repo.NewFragmentRepo(db)
	ctx := context.Background()
	same := similarityVector(0.9)
	require.NoError(t, frags.InsertBatch(ctx, []model.Fragment{
		newTestFragment("frag-1", "doc-b", "kb-1", 0, "b0", same),
		newTestFragment("frag-2", "doc-a", "kb-1", 1, "a1", same),
		newTestFragment("frag-3", "doc-a", "kb-1", 0, "a0", same),
	}))

	hits, err := frags.Search(ctx, "kb-1", unitQueryVector(), 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	require.Equal(t, "a0", hits[0].Content)
	require.Equal(t, "b0", hits[1].Content)
	require.Equal(t, "a1", hits[2].Content)
}

func TestFragmentRepoSearchExcludesEmbeddinglessRows(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.ResetTables(t, db)

	frags := repo.NewFragmentRepo(db)
	ctx := context.Background()
	require.NoError(t, frags.InsertBatch(ctx, []model.Fragment{
		newTestFragment("frag-1", "doc-1", "kb-1", 0, "real", similarityVector(0.9)),
		newTestFragment("frag-2", "doc-1", "kb-1", 1, "blank", make([]float32, vectorDim)),
	}))

	hits, err := frags.Search(ctx, "kb-1", unitQueryVector(), 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "real", hits[0].Content)

	// Counts still include the row search skips.
	count, err := frags.CountByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestFragmentRepoSearchMinScoreFilters(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.ResetTables(t, db)

	frags := repo.NewFragmentRepo(db)
	ctx := context.Background()
	require.NoError(t, frags.InsertBatch(ctx, []model.Fragment{
		newTestFragment("frag-1", "doc-1", "kb-1", 0, "close", similarityVector(0.9)),
		newTestFragment("frag-2", "doc-1", "kb-1", 1, "far", similarityVector(0.4)),
	}))

	hits, err := frags.Search(ctx, "kb-1", unitQueryVector(), 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "close", hits[0].Content)
}

func TestFragmentRepoSearchMultipleGloballyRanked(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.ResetTables(t, db)

	frags := repo.NewFragmentRepo(db)
	ctx := context.Background()
	require.NoError(t, frags.InsertBatch(ctx, []model.Fragment{
		newTestFragment("frag-1", "doc-1", "kb-1", 0, "kb1-best", similarityVector(0.9)),
		newTestFragment("frag-2", "doc-1", "kb-1", 1, "kb1-worst", similarityVector(0.3)),
		newTestFragment("frag-3", "doc-2", "kb-2", 0, "kb2-mid", similarityVector(0.7)),
		newTestFragment("frag-4", "doc-3", "kb-3", 0, "other-kb", similarityVector(0.99)),
	}))

	hits, err := frags.SearchMultiple(ctx, []string{"kb-1", "kb-2"}, unitQueryVector(), 2, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "kb1-best", hits[0].Content)
	require.Equal(t, "kb2-mid", hits[1].Content)

	hits, err = frags.SearchMultiple(ctx, nil, unitQueryVector(), 2, 0)
	require.NoError(t, err)
	require.NotNil(t, hits)
	require.Empty(t, hits)
}

func TestFragmentRepoInsertDuplicateChunkConflicts(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.ResetTables(t, db)

	frags := repo.NewFragmentRepo(db)
	ctx := context.Background()
	first := newTestFragment("frag-1", "doc-1", "kb-1", 0, "one", similarityVector(0.9))
	require.NoError(t, frags.InsertBatch(ctx, []model.Fragment{first}))

	dup := newTestFragment("frag-2", "doc-1", "kb-1", 0, "two", similarityVector(0.8))
	require.ErrorIs(t, frags.InsertBatch(ctx, []model.Fragment{dup}), appErr.ErrConflict)
}

func TestFragmentRepoDeleteByKnowledgeBase(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.ResetTables(t, db)

	frags := repo.NewFragmentRepo(db)
	ctx := context.Background()
	require.NoError(t, frags.InsertBatch(ctx, []model.Fragment{
		newTestFragment("frag-1", "doc-1", "kb-1", 0, "a", similarityVector(0.9)),
		newTestFragment("frag-2", "doc-2", "kb-1", 0, "b", similarityVector(0.8)),
		newTestFragment("frag-3", "doc-3", "kb-2", 0, "c", similarityVector(0.7)),
	}))

	require.NoError(t, frags.DeleteByKnowledgeBase(ctx, "kb-1"))
	count, err := frags.CountByKnowledgeBase(ctx, "kb-1")
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = frags.CountByKnowledgeBase(ctx, "kb-2")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func contentFor(i int) string {
	return "chunk-" + string(rune('a'+i))
}

func fragID(i int) string {
	return "frag-" + string(rune('a'+i))
}
