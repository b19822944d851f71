package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

type fakeEmbedder struct {
	dim       int
	calls     [][]string
	taskTypes []string
	failOn    int
	badDim    bool
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.taskTypes = append(f.taskTypes, taskType)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, errors.New("provider down")
	}
	dim := f.dim
	if f.badDim {
		dim = f.dim + 1
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dim)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string {
	return "fake-embed"
}

func newTestClient(f *fakeEmbedder, batchSize int) *Client {
	return NewClient(f, Config{
		Dimension:  f.dim,
		BatchSize:  batchSize,
		BatchDelay: time.Millisecond,
	})
}

func TestEmbedBatchShapeInvariant(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	client := newTestClient(fake, 100)
	inputs := [][]string{
		{},
		{"only one"},
		{"", "   ", "\t\n"},
		{"a", "", "b", "   ", "c"},
	}
	for _, texts := range inputs {
		out, err := client.EmbedBatch(context.Background(), texts)
		require.NoError(t, err)
		require.Len(t, out, len(texts))
	}
}

func TestEmbedBatchZeroVectorSubstitution(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	client := newTestClient(fake, 100)
	out, err := client.EmbedBatch(context.Background(), []string{"hello", "   ", "world"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.True(t, isZero(out[1]), "blank input must become a zero vector")
	require.Len(t, out[1], 4)
	require.False(t, isZero(out[0]))
	require.False(t, isZero(out[2]))
	// the provider must never have seen the blank entry
	require.Len(t, fake.calls, 1)
	require.Equal(t, []string{"hello", "world"}, fake.calls[0])
}

func TestEmbedBatchPartitioning(t *testing.T) {
	fake := &fakeEmbedder{dim: 2}
	client := newTestClient(fake, 2)
	texts := []string{"t0", "t1", "", "t3", "t4"}
	out, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, 5)
	// windows of two over the raw input, blanks dropped per window
	require.Equal(t, [][]string{{"t0", "t1"}, {"t3"}, {"t4"}}, fake.calls)
}

func TestEmbedBatchTrimsBeforeProvider(t *testing.T) {
	fake := &fakeEmbedder{dim: 2}
	client := newTestClient(fake, 100)
	_, err := client.EmbedBatch(context.Background(), []string{"  hello  "})
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, fake.calls[0])
	require.Equal(t, []string{TaskTypeDocument}, fake.taskTypes)
}

func TestEmbedBatchProviderFailureAborts(t *testing.T) {
	fake := &fakeEmbedder{dim: 2, failOn: 2}
	client := newTestClient(fake, 2)
	out, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrEmbeddingFailure)
	require.Nil(t, out, "no partial result on failure")
}

func TestEmbedBatchDimensionMismatch(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, badDim: true}
	client := newTestClient(fake, 100)
	_, err := client.EmbedBatch(context.Background(), []string{"hello"})
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrEmbeddingFailure)
}

func TestEmbedBatchPacesBetweenBatches(t *testing.T) {
	fake := &fakeEmbedder{dim: 2}
	client := NewClient(fake, Config{Dimension: 2, BatchSize: 1, BatchDelay: 30 * time.Millisecond})
	start := time.Now()
	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond,
		"second batch must wait out the configured delay")
}

func TestEmbedQuery(t *testing.T) {
	fake := &fakeEmbedder{dim: 3}
	client := newTestClient(fake, 100)

	_, err := client.EmbedQuery(context.Background(), "   ")
	require.ErrorIs(t, err, appErr.ErrInvalid)

	vec, err := client.EmbedQuery(context.Background(), "what is quarry")
	require.NoError(t, err)
	require.Len(t, vec, 3)
	require.Equal(t, []string{TaskTypeQuery}, fake.taskTypes)
}

func TestQueryCacheAvoidsRepeatCalls(t *testing.T) {
	fake := &fakeEmbedder{dim: 3}
	client := newTestClient(fake, 100)
	cache := NewQueryCache(client, 16, time.Minute)

	first, err := cache.EmbedQuery(context.Background(), "same question")
	require.NoError(t, err)
	second, err := cache.EmbedQuery(context.Background(), "same question")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, fake.calls, 1, "second lookup must come from cache")

	_, err = cache.EmbedQuery(context.Background(), "different question")
	require.NoError(t, err)
	require.Len(t, fake.calls, 2)
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
