package gitlib_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codestory-dev/codestory/pkg/gitlib"
)

func TestResolveAndUpdateRef(t *testing.T) {
	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("a.txt", "one")
	firstHash := tr.commit("first")

	tr.createFile("a.txt", "two")
	secondHash := tr.commit("second")

	repo, err := gitlib.OpenRepository(tr.path)
	require.NoError(t, err)

	defer repo.Free()

	current, err := repo.ResolveRef("refs/heads/master")
	if err != nil {
		current, err = repo.ResolveRef("refs/heads/main")
	}

	require.NoError(t, err)
	assert.Equal(t, secondHash, current)

	branch := "refs/heads/master"
	if _, resolveErr := repo.ResolveRef(branch); resolveErr != nil {
		branch = "refs/heads/main"
	}

	err = repo.UpdateRef(branch, secondHash, firstHash)
	require.NoError(t, err)

	rolledBack, err := repo.ResolveRef(branch)
	require.NoError(t, err)
	assert.Equal(t, firstHash, rolledBack)
}

func TestUpdateRefRejectsStaleExpectedHash(t *testing.T) {
	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("a.txt", "one")
	firstHash := tr.commit("first")

	tr.createFile("a.txt", "two")
	tr.commit("second")

	repo, err := gitlib.OpenRepository(tr.path)
	require.NoError(t, err)

	defer repo.Free()

	branch := "refs/heads/master"
	if _, resolveErr := repo.ResolveRef(branch); resolveErr != nil {
		branch = "refs/heads/main"
	}

	err = repo.UpdateRef(branch, firstHash, firstHash)
	require.Error(t, err)
	assert.ErrorIs(t, err, gitlib.ErrRefConflict)
}

func TestEnsureRefUnchanged(t *testing.T) {
	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("a.txt", "one")
	firstHash := tr.commit("first")

	repo, err := gitlib.OpenRepository(tr.path)
	require.NoError(t, err)

	defer repo.Free()

	branch := "refs/heads/master"
	if _, resolveErr := repo.ResolveRef(branch); resolveErr != nil {
		branch = "refs/heads/main"
	}

	require.NoError(t, repo.EnsureRefUnchanged(branch, firstHash))

	tr.createFile("a.txt", "two")
	secondHash := tr.commit("second")

	err = repo.EnsureRefUnchanged(branch, firstHash)
	require.Error(t, err)
	assert.ErrorIs(t, err, gitlib.ErrRefConflict)

	require.NoError(t, repo.EnsureRefUnchanged(branch, secondHash))
}
