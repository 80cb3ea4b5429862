package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codestory-dev/codestory/pkg/model"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.vectors[text], nil
}

func TestRelevanceFilterEmbeddingScoreIdenticalVectors(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"add caching":  {1, 0, 0},
		"file-content": {1, 0, 0},
	}}

	f := &RelevanceFilter{Enabled: true, Intent: "add caching", Embedder: embedder}
	group := &model.SemanticGroup{
		Files:              map[string]struct{}{"file-content": {}},
		IdentifiersTouched: map[string]struct{}{},
	}

	score, err := f.Score(context.Background(), group)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 0.0001)
}

func TestRelevanceFilterEmbeddingScorePropagatesError(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{err: errors.New("provider unreachable")}
	f := &RelevanceFilter{Enabled: true, Intent: "x", Embedder: embedder}

	_, err := f.Score(context.Background(), &model.SemanticGroup{})
	require.Error(t, err)
}

func TestRelevanceFilterLocalScoreSharedTokens(t *testing.T) {
	t.Parallel()

	f := &RelevanceFilter{Enabled: true, Intent: "fix cache eviction bug"}

	group := &model.SemanticGroup{
		IdentifiersTouched: map[string]struct{}{"evictCache": {}},
		Files:              map[string]struct{}{},
	}

	score, err := f.Score(context.Background(), group)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 0.0001)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 0.0001)
	assert.InDelta(t, 0.0, cosineSimilarity(nil, []float32{1}), 0.0001)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1}), 0.0001)
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"fix", "cache", "bug"}, tokenize("Fix-Cache_Bug!!"))
}
