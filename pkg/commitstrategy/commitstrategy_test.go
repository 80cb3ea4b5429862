package commitstrategy_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codestory-dev/codestory/pkg/cache"
	"github.com/codestory-dev/codestory/pkg/commitstrategy"
	"github.com/codestory-dev/codestory/pkg/gitlib"
	"github.com/codestory-dev/codestory/pkg/model"
)

// newTestRepo opens a fresh repository with one commit containing a.txt and
// returns the repository handle, HEAD commit hash, and HEAD tree hash.
func newTestRepo(t *testing.T, path, fileContent string) (*gitlib.Repository, gitlib.Hash, gitlib.Hash) {
	t.Helper()

	native, err := git2go.InitRepository(path, false)
	require.NoError(t, err)
	defer native.Free()

	repo, err := gitlib.OpenRepository(path)
	require.NoError(t, err)

	blobHash, err := repo.WriteBlob([]byte(fileContent))
	require.NoError(t, err)

	treeHash, err := repo.WriteTree([]gitlib.TreeEntryWrite{
		{Path: "a.txt", Hash: blobHash, Mode: 0o100644},
	})
	require.NoError(t, err)

	sig := gitlib.Signature{Name: "seed", Email: "seed@localhost", When: time.Now()}

	commitHash, err := repo.WriteCommit(treeHash, nil, "seed", sig, sig)
	require.NoError(t, err)

	return repo, commitHash, treeHash
}

func signature() gitlib.Signature {
	return gitlib.Signature{Name: "codestory", Email: "codestory@localhost", When: time.Now()}
}

func TestAccumulatorApplySingleGroupWritesCommit(t *testing.T) {
	dir := t.TempDir()
	repo, headCommit, headTree := newTestRepo(t, filepath.Join(dir, "repo"), "line1\nline2\n")
	defer repo.Free()

	oldBlobHash, err := repo.WriteBlob([]byte("line1\nline2\n"))
	require.NoError(t, err)

	blobCache := cache.NewLRUBlobCache(1 << 20)

	opts := commitstrategy.Options{
		Author:    signature(),
		Committer: signature(),
		BaseTree:  headTree,
		Parent:    headCommit,
		Deltas: map[string]*model.FileDelta{
			"a.txt": {OldBlob: &oldBlobHash, Path: "a.txt", Kind: model.Modified},
		},
	}

	acc := commitstrategy.NewAccumulator(repo, blobCache, opts)

	group := &model.LogicalGroup{
		Message: "update line1",
		Members: []*model.SemanticGroup{
			{
				Chunks: []*model.Chunk{
					{
						ID:       1,
						FilePath: "a.txt",
						OldRange: model.LineRange{Start: 0, End: 1},
						NewRange: model.LineRange{Start: 0, End: 1},
						OldLines: []string{"line1\n"},
						NewLines: []string{"line1 changed\n"},
					},
				},
			},
		},
	}

	step, err := acc.Apply(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, group, step.Group)
	assert.False(t, step.CommitHash.IsZero())
	assert.False(t, step.TreeHash.IsZero())

	commit, err := repo.LookupCommit(context.Background(), step.CommitHash)
	require.NoError(t, err)

	defer commit.Free()

	assert.Equal(t, 1, commit.NumParents())
	assert.Equal(t, headCommit, commit.ParentHash(0))
	assert.Equal(t, "update line1", commit.Message())

	tree, err := repo.LookupTree(step.TreeHash)
	require.NoError(t, err)

	defer tree.Free()

	entry, err := tree.EntryByPath("a.txt")
	require.NoError(t, err)

	blob, err := repo.LookupBlob(context.Background(), entry.Hash())
	require.NoError(t, err)

	defer blob.Free()

	assert.Equal(t, "line1 changed\nline2\n", string(blob.Contents()))
}

func TestAccumulatorAppliesMultipleGroupsInSequence(t *testing.T) {
	dir := t.TempDir()
	repo, headCommit, headTree := newTestRepo(t, filepath.Join(dir, "repo"), "one\ntwo\n")
	defer repo.Free()

	oldBlobHash, err := repo.WriteBlob([]byte("one\ntwo\n"))
	require.NoError(t, err)

	blobCache := cache.NewLRUBlobCache(1 << 20)

	opts := commitstrategy.Options{
		Author:    signature(),
		Committer: signature(),
		BaseTree:  headTree,
		Parent:    headCommit,
		Deltas: map[string]*model.FileDelta{
			"a.txt": {OldBlob: &oldBlobHash, Path: "a.txt", Kind: model.Modified},
		},
	}

	acc := commitstrategy.NewAccumulator(repo, blobCache, opts)

	firstGroup := &model.LogicalGroup{
		Message: "change first line",
		Members: []*model.SemanticGroup{
			{Chunks: []*model.Chunk{
				{ID: 1, FilePath: "a.txt",
					OldRange: model.LineRange{Start: 0, End: 1}, NewRange: model.LineRange{Start: 0, End: 1},
					OldLines: []string{"one\n"}, NewLines: []string{"ONE\n"}},
			}},
		},
	}

	firstStep, err := acc.Apply(context.Background(), firstGroup)
	require.NoError(t, err)

	secondGroup := &model.LogicalGroup{
		Message: "change second line",
		Members: []*model.SemanticGroup{
			{Chunks: []*model.Chunk{
				{ID: 2, FilePath: "a.txt",
					OldRange: model.LineRange{Start: 1, End: 2}, NewRange: model.LineRange{Start: 1, End: 2},
					OldLines: []string{"two\n"}, NewLines: []string{"TWO\n"}},
			}},
		},
	}

	secondStep, err := acc.Apply(context.Background(), secondGroup)
	require.NoError(t, err)

	secondCommit, err := repo.LookupCommit(context.Background(), secondStep.CommitHash)
	require.NoError(t, err)

	defer secondCommit.Free()

	assert.Equal(t, 1, secondCommit.NumParents())
	assert.Equal(t, firstStep.CommitHash, secondCommit.ParentHash(0))

	tree, err := repo.LookupTree(secondStep.TreeHash)
	require.NoError(t, err)

	defer tree.Free()

	entry, err := tree.EntryByPath("a.txt")
	require.NoError(t, err)

	blob, err := repo.LookupBlob(context.Background(), entry.Hash())
	require.NoError(t, err)

	defer blob.Free()

	assert.Equal(t, "ONE\nTWO\n", string(blob.Contents()))

	finalTree, finalCommit := acc.Final()
	assert.Equal(t, secondStep.TreeHash, finalTree)
	assert.Equal(t, secondStep.CommitHash, finalCommit)
}

func TestAccumulatorCarriesForwardUntouchedFiles(t *testing.T) {
	dir := t.TempDir()
	native, err := git2go.InitRepository(filepath.Join(dir, "repo"), false)
	require.NoError(t, err)
	defer native.Free()

	repo, err := gitlib.OpenRepository(filepath.Join(dir, "repo"))
	require.NoError(t, err)
	defer repo.Free()

	blobA, err := repo.WriteBlob([]byte("a content\n"))
	require.NoError(t, err)
	blobB, err := repo.WriteBlob([]byte("b content\n"))
	require.NoError(t, err)

	headTree, err := repo.WriteTree([]gitlib.TreeEntryWrite{
		{Path: "a.txt", Hash: blobA, Mode: 0o100644},
		{Path: "b.txt", Hash: blobB, Mode: 0o100644},
	})
	require.NoError(t, err)

	sig := signature()
	headCommit, err := repo.WriteCommit(headTree, nil, "seed", sig, sig)
	require.NoError(t, err)

	blobCache := cache.NewLRUBlobCache(1 << 20)

	opts := commitstrategy.Options{
		Author:    sig,
		Committer: sig,
		BaseTree:  headTree,
		Parent:    headCommit,
		Deltas: map[string]*model.FileDelta{
			"a.txt": {OldBlob: &blobA, Path: "a.txt", Kind: model.Modified},
		},
	}

	acc := commitstrategy.NewAccumulator(repo, blobCache, opts)

	group := &model.LogicalGroup{
		Message: "touch only a.txt",
		Members: []*model.SemanticGroup{
			{Chunks: []*model.Chunk{
				{ID: 1, FilePath: "a.txt",
					OldRange: model.LineRange{Start: 0, End: 1}, NewRange: model.LineRange{Start: 0, End: 1},
					OldLines: []string{"a content\n"}, NewLines: []string{"a content changed\n"}},
			}},
		},
	}

	step, err := acc.Apply(context.Background(), group)
	require.NoError(t, err)

	tree, err := repo.LookupTree(step.TreeHash)
	require.NoError(t, err)
	defer tree.Free()

	bEntry, err := tree.EntryByPath("b.txt")
	require.NoError(t, err)
	assert.Equal(t, blobB, bEntry.Hash(), "untouched file must be carried forward unchanged")
}
