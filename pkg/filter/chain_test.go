package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codestory-dev/codestory/pkg/model"
)

func TestChainRunNoFiltersAcceptsEverything(t *testing.T) {
	t.Parallel()

	groups := []*model.SemanticGroup{
		{ID: 1, Chunks: []*model.Chunk{{NewLines: []string{"clean"}}}},
		{ID: 2, Chunks: []*model.Chunk{{NewLines: []string{"also clean"}}}},
	}

	chain := &Chain{}

	accepted, rejected := chain.Run(context.Background(), groups)
	assert.Len(t, accepted, 2)
	assert.Empty(t, rejected)
}

func TestChainRunRejectsSecretGroup(t *testing.T) {
	t.Parallel()

	groups := []*model.SemanticGroup{
		{ID: 1, Chunks: []*model.Chunk{{NewLines: []string{"AKIA0123456789ABCDEF"}}}},
		{ID: 2, Chunks: []*model.Chunk{{NewLines: []string{"clean line"}}}},
	}

	chain := &Chain{Secrets: NewSecretScanner(AggressionStandard, 1024)}

	accepted, rejected := chain.Run(context.Background(), groups)
	require.Len(t, accepted, 1)
	assert.Equal(t, 2, accepted[0].ID)

	require.Len(t, rejected, 1)
	assert.Equal(t, ReasonSecretDetected, rejected[0].Reason)
}

func TestChainRunRejectsBelowRelevanceThreshold(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"add caching": {1, 0},
		"":            {0, 1},
	}}

	groups := []*model.SemanticGroup{
		{ID: 1, Files: map[string]struct{}{}, IdentifiersTouched: map[string]struct{}{}},
	}

	chain := &Chain{Relevance: &RelevanceFilter{
		Enabled: true, Intent: "add caching", Threshold: 0.5, Embedder: embedder,
	}}

	accepted, rejected := chain.Run(context.Background(), groups)
	assert.Empty(t, accepted)
	require.Len(t, rejected, 1)
	assert.Equal(t, ReasonBelowRelevance, rejected[0].Reason)
}

func TestChainRunSyntaxRejectionRequiresFailOnErrors(t *testing.T) {
	t.Parallel()

	groups := []*model.SemanticGroup{
		{ID: 1, Files: map[string]struct{}{"a.go": {}}},
	}

	chain := &Chain{
		Syntax: &SyntaxValidator{Enabled: false},
	}

	accepted, rejected := chain.Run(context.Background(), groups)
	assert.Len(t, accepted, 1)
	assert.Empty(t, rejected)
}
