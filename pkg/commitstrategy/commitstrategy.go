// Package commitstrategy builds the final linear commit sequence: for each
// ordered logical group it materializes the next tree by applying that
// group's chunks on top of the accumulated state, then writes a commit
// whose sole parent is the previous step's commit (§4.7 Incremental
// accumulation).
package commitstrategy

import (
	"context"
	"fmt"

	"github.com/codestory-dev/codestory/pkg/cache"
	"github.com/codestory-dev/codestory/pkg/chunker"
	"github.com/codestory-dev/codestory/pkg/gitlib"
	"github.com/codestory-dev/codestory/pkg/model"
)

// Options configures a single accumulation run.
type Options struct {
	// Author and committer signatures applied to every generated commit.
	Author    gitlib.Signature
	Committer gitlib.Signature
	// BaseTree is the tree the first logical group's chunks are applied on
	// top of (the working tree's common ancestor with the target state, or
	// the current HEAD tree for a plain commit run).
	BaseTree gitlib.Hash
	// Parent is the commit the first synthesized commit is built on top of.
	// Zero hash means the first commit is a root commit.
	Parent gitlib.Hash
	// Deltas indexes every file the full change touches, by path, so that
	// any path not referenced by a chunk but whose mode or identity changed
	// can still be staged (copy-forward of unaffected files is handled by
	// reusing the previous step's tree entries directly).
	Deltas map[string]*model.FileDelta
}

// Step is the materialized result of applying one logical group: the new
// tree hash, the new commit hash, and the files touched in this step.
type Step struct {
	Group      *model.LogicalGroup
	TreeHash   gitlib.Hash
	CommitHash gitlib.Hash
}

// Accumulator threads AccumulatedTree/Commit_k state across logical groups,
// reusing a cross-step blob cache and the repository write path.
type Accumulator struct {
	repo      *gitlib.Repository
	blobCache *cache.LRUBlobCache
	opts      Options

	// fileText holds each touched path's current (accumulated) content, so
	// that later groups can compose their chunks on top of earlier groups'
	// edits to the same file rather than re-reading the base blob.
	fileText map[string][]byte
	fileMode map[string]uint16

	currentTree   gitlib.Hash
	currentParent gitlib.Hash
}

// NewAccumulator creates an Accumulator seeded at opts.BaseTree/opts.Parent.
func NewAccumulator(repo *gitlib.Repository, blobCache *cache.LRUBlobCache, opts Options) *Accumulator {
	return &Accumulator{
		repo:          repo,
		blobCache:     blobCache,
		opts:          opts,
		fileText:      make(map[string][]byte),
		fileMode:      make(map[string]uint16),
		currentTree:   opts.BaseTree,
		currentParent: opts.Parent,
	}
}

// Apply materializes one logical group on top of the accumulator's current
// state and returns the resulting Step. Groups must be applied in the
// caller's already-determined commit order.
func (a *Accumulator) Apply(ctx context.Context, group *model.LogicalGroup) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, fmt.Errorf("commitstrategy: %w", err)
	}

	touched := groupChunksByFile(group)

	for path, chunks := range touched {
		base, err := a.baseContent(path)
		if err != nil {
			return Step{}, err
		}

		a.fileText[path] = chunker.ComposeText(base, chunks)
	}

	treeHash, err := a.writeTree()
	if err != nil {
		return Step{}, fmt.Errorf("commitstrategy: write tree: %w", err)
	}

	commitHash, err := a.repo.WriteCommit(treeHash, parentSlice(a.currentParent), group.Message, a.opts.Author, a.opts.Committer)
	if err != nil {
		return Step{}, fmt.Errorf("commitstrategy: write commit: %w", err)
	}

	a.currentTree = treeHash
	a.currentParent = commitHash

	return Step{Group: group, TreeHash: treeHash, CommitHash: commitHash}, nil
}

// Final returns the last materialized tree and commit, for the caller to
// finalize the destination ref against.
func (a *Accumulator) Final() (tree, commit gitlib.Hash) {
	return a.currentTree, a.currentParent
}

func parentSlice(h gitlib.Hash) []gitlib.Hash {
	if h.IsZero() {
		return nil
	}

	return []gitlib.Hash{h}
}

func groupChunksByFile(group *model.LogicalGroup) map[string][]*model.Chunk {
	byFile := make(map[string][]*model.Chunk)

	for _, sg := range group.Members {
		for _, c := range sg.Chunks {
			byFile[c.FilePath] = append(byFile[c.FilePath], c)
		}
	}

	return byFile
}

// baseContent returns path's content as of the start of this Apply call:
// either a prior step's accumulated edit, or the original blob named by
// Deltas, read through the cross-step blob cache.
func (a *Accumulator) baseContent(path string) ([]byte, error) {
	if text, ok := a.fileText[path]; ok {
		return text, nil
	}

	delta, ok := a.opts.Deltas[path]
	if !ok || delta.OldBlob == nil {
		return nil, nil
	}

	if cached := a.blobCache.Get(*delta.OldBlob); cached != nil {
		return cached.Data, nil
	}

	blob, err := gitlib.NewCachedBlobFromRepo(a.repo, *delta.OldBlob)
	if err != nil {
		return nil, fmt.Errorf("commitstrategy: read base content for %s: %w", path, err)
	}

	a.blobCache.Put(*delta.OldBlob, blob)

	return blob.Data, nil
}

// writeTree writes every touched file as a new blob, carries forward any
// path already present in the previous tree unchanged, and assembles the
// full tree through the repository gateway's write path.
func (a *Accumulator) writeTree() (gitlib.Hash, error) {
	entries := make([]gitlib.TreeEntryWrite, 0, len(a.fileText))

	written := make(map[string]bool, len(a.fileText))

	for path, text := range a.fileText {
		hash, err := a.repo.WriteBlob(text)
		if err != nil {
			return gitlib.Hash{}, fmt.Errorf("write blob for %s: %w", path, err)
		}

		entries = append(entries, gitlib.TreeEntryWrite{Path: path, Hash: hash, Mode: a.modeFor(path)})
		written[path] = true
	}

	carried, err := a.carryForward(written)
	if err != nil {
		return gitlib.Hash{}, err
	}

	entries = append(entries, carried...)

	return a.repo.WriteTree(entries)
}

// carryForward walks the previous tree's files (if any) and re-adds every
// path not already staged in this step, so that files untouched by the
// current logical group are preserved into the new tree.
func (a *Accumulator) carryForward(written map[string]bool) ([]gitlib.TreeEntryWrite, error) {
	if a.currentTree.IsZero() {
		return nil, nil
	}

	tree, err := a.repo.LookupTree(a.currentTree)
	if err != nil {
		return nil, fmt.Errorf("lookup previous tree: %w", err)
	}
	defer tree.Free()

	files, err := gitlib.TreeFiles(a.repo, tree)
	if err != nil {
		return nil, fmt.Errorf("list previous tree files: %w", err)
	}

	out := make([]gitlib.TreeEntryWrite, 0, len(files))

	for _, f := range files {
		if written[f.Name] {
			continue
		}

		out = append(out, gitlib.TreeEntryWrite{Path: f.Name, Hash: f.Hash, Mode: a.modeFor(f.Name)})
	}

	return out, nil
}

func (a *Accumulator) modeFor(path string) uint16 {
	if mode, ok := a.fileMode[path]; ok {
		return mode
	}

	return 0
}

// SetFileMode records an explicit tree entry mode for path, used when a
// caller already knows the target mode (e.g. executable bit) ahead of
// writeTree running.
func (a *Accumulator) SetFileMode(path string, mode uint16) {
	a.fileMode[path] = mode
}
