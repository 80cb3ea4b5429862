package filter

import (
	"context"
	"math"
	"strings"

	"github.com/codestory-dev/codestory/pkg/alg/minhash"
	"github.com/codestory-dev/codestory/pkg/model"
)

// numHashFuncs is the number of hash functions used by the local MinHash
// fallback similarity estimator.
const numHashFuncs = 128

// Embedder is the narrow capability the relevance filter uses to score
// similarity between an intent string and a group's rendered content. A
// concrete provider is selected at configuration-resolution time (§9); when
// none is configured, Score falls back to a local MinHash Jaccard estimate.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RelevanceFilter rejects semantic groups whose similarity to the user's
// intent falls below a configured threshold.
type RelevanceFilter struct {
	Enabled   bool
	Intent    string
	Threshold float64
	Embedder  Embedder
}

// Score returns a similarity score in [0,1] between the group's touched
// identifiers/file content and the configured intent string.
func (f *RelevanceFilter) Score(ctx context.Context, group *model.SemanticGroup) (float64, error) {
	if f.Embedder != nil {
		return f.embeddingScore(ctx, group)
	}

	return f.localScore(group)
}

func (f *RelevanceFilter) embeddingScore(ctx context.Context, group *model.SemanticGroup) (float64, error) {
	intentVec, err := f.Embedder.Embed(ctx, f.Intent)
	if err != nil {
		return 0, err
	}

	groupVec, err := f.Embedder.Embed(ctx, renderGroup(group))
	if err != nil {
		return 0, err
	}

	return cosineSimilarity(intentVec, groupVec), nil
}

// localScore estimates similarity with MinHash Jaccard over case-folded
// identifier and filename tokens — the documented fallback for Open
// Question (a) when no embedding provider is configured.
func (f *RelevanceFilter) localScore(group *model.SemanticGroup) (float64, error) {
	intentSig, err := minhash.New(numHashFuncs)
	if err != nil {
		return 0, err
	}

	for _, tok := range tokenize(f.Intent) {
		intentSig.Add([]byte(tok))
	}

	groupSig, err := minhash.New(numHashFuncs)
	if err != nil {
		return 0, err
	}

	for name := range group.IdentifiersTouched {
		groupSig.Add([]byte(strings.ToLower(name)))
	}

	for path := range group.Files {
		for _, tok := range tokenize(path) {
			groupSig.Add([]byte(tok))
		}
	}

	return intentSig.Similarity(groupSig)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	return fields
}

func renderGroup(group *model.SemanticGroup) string {
	var b strings.Builder

	for path := range group.Files {
		b.WriteString(path)
		b.WriteByte(' ')
	}

	for name := range group.IdentifiersTouched {
		b.WriteString(name)
		b.WriteByte(' ')
	}

	return b.String()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
