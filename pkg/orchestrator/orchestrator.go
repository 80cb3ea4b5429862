// Package orchestrator wires the repository gateway, mechanical chunker,
// scope index, semantic grouper, filter chain, logical grouper, and commit
// strategy into the three run modes: commit, fix, and clean (§4.8 Run
// orchestration and mode dispatch).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codestory-dev/codestory/pkg/alg/mapx"
	"github.com/codestory-dev/codestory/pkg/alg/stats"
	"github.com/codestory-dev/codestory/pkg/cache"
	"github.com/codestory-dev/codestory/pkg/chunker"
	"github.com/codestory-dev/codestory/pkg/commitstrategy"
	"github.com/codestory-dev/codestory/pkg/config"
	"github.com/codestory-dev/codestory/pkg/errkind"
	"github.com/codestory-dev/codestory/pkg/filter"
	"github.com/codestory-dev/codestory/pkg/gitlib"
	"github.com/codestory-dev/codestory/pkg/logicalgroup"
	"github.com/codestory-dev/codestory/pkg/model"
	"github.com/codestory-dev/codestory/pkg/modelprovider"
	"github.com/codestory-dev/codestory/pkg/scope"
	"github.com/codestory-dev/codestory/pkg/semgroup"
)

// Mode selects which run the orchestrator performs.
type Mode int

const (
	// Commit decomposes the current working-tree delta against HEAD.
	Commit Mode = iota
	// Fix re-derives history for a single existing commit against its parent.
	Fix
	// Clean re-derives history across a commit range, stopping at the first
	// merge commit encountered while walking back from the range head.
	Clean
)

// Plan is the full set of ordered logical groups an orchestrator run has
// decided to materialize, pending user confirmation.
type Plan struct {
	Groups     []*model.LogicalGroup
	Rejections []filter.Rejection
	BaseTree   gitlib.Hash
	Parent     gitlib.Hash
}

// Options configures a single orchestrator run.
type Options struct {
	Mode   Mode
	Target string // revision for fix/clean; empty for commit.

	Config   config.Config
	Logger   *slog.Logger
	Provider modelprovider.Provider

	RunID string // used to scope the repository gateway's sandbox.
}

// ErrNoChanges is returned when there is nothing to decompose.
var ErrNoChanges = errors.New("orchestrator: no changes to decompose")

// ErrDestinationMoved wraps errkind.RefConflict when the destination branch
// moved between planning and finalize.
var ErrDestinationMoved = errors.New("orchestrator: destination ref moved during run")

// Orchestrator drives one decomposition/reconstruction run end to end.
type Orchestrator struct {
	repo      *gitlib.Repository
	blobCache *cache.LRUBlobCache
	opts      Options
}

// New creates an Orchestrator bound to repo. The blob cache's capacity comes
// from opts.Config.Cache.BlobCacheSize (e.g. "256MB"); a value that fails to
// parse falls back to cache.DefaultLRUCacheSize rather than failing
// construction, since config.LoadConfig already rejects bad values up front.
func New(repo *gitlib.Repository, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cacheSize := int64(cache.DefaultLRUCacheSize)

	if n, err := opts.Config.Cache.BlobCacheSizeBytes(); err == nil && n > 0 {
		cacheSize = n
	}

	return &Orchestrator{
		repo:      repo,
		blobCache: cache.NewLRUBlobCache(cacheSize),
		opts:      opts,
	}
}

// Plan resolves the base/target trees for the configured mode, runs the
// mechanical chunker, scope indexer, and semantic grouper over every
// changed file, applies the filter chain (commit mode only), and produces
// an ordered sequence of logical groups without writing anything.
func (o *Orchestrator) Plan(ctx context.Context) (*Plan, error) {
	baseTree, targetTree, parent, err := o.resolveTrees(ctx)
	if err != nil {
		return nil, err
	}

	deltas, err := o.diffTrees(baseTree, targetTree)
	if err != nil {
		return nil, err
	}

	if len(deltas) == 0 {
		return nil, errkind.New(errkind.RejectedGroup, ErrNoChanges)
	}

	chunks, files, deltaByPath, err := o.chunkAndIndex(ctx, deltas)
	if err != nil {
		return nil, err
	}

	o.logChunkSizeDistribution(chunks)

	semOpts := semgroup.Options{ShareTokensBetweenFiles: o.anyShareTokens()}

	semanticGroups, err := semgroup.Group(chunks, files, semOpts)
	if err != nil {
		return nil, errkind.New(errkind.InvariantViolated, fmt.Errorf("semantic grouping: %w", err))
	}

	var rejections []filter.Rejection

	if o.opts.Mode == Commit {
		semanticGroups, rejections = o.runFilterChain(ctx, semanticGroups, deltaByPath)

		if len(semanticGroups) == 0 {
			return nil, errkind.New(errkind.RejectedGroup, fmt.Errorf("%w: every candidate group was filtered out", ErrNoChanges))
		}
	}

	grouper := &logicalgroup.Grouper{
		Provider: o.opts.Provider,
		Options: logicalgroup.Options{
			Intent:            o.opts.Config.Model.Intent,
			ClusterStrictness: o.opts.Config.Grouping.ClusterStrictness,
			MaxTokens:         o.opts.Config.Model.MaxTokens,
			Batching:          logicalgroup.ParseBatchingStrategy(o.opts.Config.Grouping.BatchingStrategy),
			NumRetries:        o.opts.Config.Grouping.NumRetries,
		},
	}

	logicalGroups, err := grouper.Group(ctx, semanticGroups)
	if err != nil {
		return nil, errkind.New(errkind.ModelError, fmt.Errorf("logical grouping: %w", err))
	}

	return &Plan{
		Groups:     logicalGroups,
		Rejections: rejections,
		BaseTree:   baseTree,
		Parent:     parent,
	}, nil
}

// Apply materializes plan as a linear commit sequence and finalizes the
// destination ref under compare-and-swap, rolling back via the sandbox's
// Abort if the ref moved since Plan ran.
func (o *Orchestrator) Apply(ctx context.Context, plan *Plan, destRef string, author, committer gitlib.Signature) (gitlib.Hash, error) {
	sandbox, err := gitlib.OpenSandbox(o.repo, o.opts.RunID)
	if err != nil {
		return gitlib.Hash{}, errkind.New(errkind.GatewayError, err)
	}

	currentDest, resolveErr := o.repo.ResolveRef(destRef)

	acc := commitstrategy.NewAccumulator(o.repo, o.blobCache, commitstrategy.Options{
		Author:    author,
		Committer: committer,
		BaseTree:  plan.BaseTree,
		Parent:    plan.Parent,
		Deltas:    nil,
	})

	var finalCommit gitlib.Hash

	for _, g := range plan.Groups {
		step, applyErr := acc.Apply(ctx, g)
		if applyErr != nil {
			_ = sandbox.Abort()

			return gitlib.Hash{}, errkind.New(errkind.GatewayError, applyErr)
		}

		finalCommit = step.CommitHash
	}

	expected := plan.Parent
	if resolveErr == nil {
		expected = currentDest
	}

	if updateErr := o.repo.UpdateRef(destRef, expected, finalCommit); updateErr != nil {
		_ = sandbox.Abort()

		return gitlib.Hash{}, errkind.New(errkind.RefConflict, fmt.Errorf("%w: %w", ErrDestinationMoved, updateErr))
	}

	if finalizeErr := sandbox.Finalize(); finalizeErr != nil {
		return gitlib.Hash{}, errkind.New(errkind.GatewayError, finalizeErr)
	}

	return finalCommit, nil
}

// resolveTrees computes the base and target tree for the configured mode,
// along with the first synthesized commit's intended parent.
func (o *Orchestrator) resolveTrees(ctx context.Context) (base, target, parent gitlib.Hash, err error) {
	switch o.opts.Mode {
	case Commit:
		head, headErr := o.repo.Head()
		if headErr != nil {
			return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, headErr)
		}

		headCommit, lookupErr := o.repo.LookupCommit(ctx, head)
		if lookupErr != nil {
			return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, lookupErr)
		}
		defer headCommit.Free()

		headTree, treeErr := headCommit.Tree()
		if treeErr != nil {
			return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, treeErr)
		}
		defer headTree.Free()

		targetHash, writeErr := o.repo.WriteWorkdirTree()
		if writeErr != nil {
			return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, writeErr)
		}

		return headTree.Hash(), targetHash, head, nil

	case Fix:
		return o.resolveSingleCommit(ctx, o.opts.Target)

	case Clean:
		return o.resolveRange(ctx, o.opts.Target)

	default:
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, fmt.Errorf("orchestrator: unknown mode %d", o.opts.Mode)
	}
}

func (o *Orchestrator) resolveSingleCommit(ctx context.Context, rev string) (base, target, parent gitlib.Hash, err error) {
	hash, resolveErr := o.repo.ResolveRef(rev)
	if resolveErr != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, resolveErr)
	}

	commit, lookupErr := o.repo.LookupCommit(ctx, hash)
	if lookupErr != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, lookupErr)
	}
	defer commit.Free()

	targetTree, treeErr := commit.Tree()
	if treeErr != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, treeErr)
	}
	defer targetTree.Free()

	if commit.NumParents() == 0 {
		return gitlib.Hash{}, targetTree.Hash(), gitlib.Hash{}, nil
	}

	parentCommit, parentErr := commit.Parent(0)
	if parentErr != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, parentErr)
	}
	defer parentCommit.Free()

	parentTree, parentTreeErr := parentCommit.Tree()
	if parentTreeErr != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, parentTreeErr)
	}
	defer parentTree.Free()

	return parentTree.Hash(), targetTree.Hash(), parentCommit.Hash(), nil
}

// resolveRange walks back from rev (or HEAD if empty) to the first commit
// with more than one parent, treating that merge's tree as the base and
// rev's tree as the target. A clean run never crosses a merge boundary.
func (o *Orchestrator) resolveRange(ctx context.Context, rev string) (base, target, parent gitlib.Hash, err error) {
	headHash := gitlib.Hash{}

	if rev != "" {
		headHash, err = o.repo.ResolveRef(rev)
	} else {
		headHash, err = o.repo.Head()
	}

	if err != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, err)
	}

	headCommit, lookupErr := o.repo.LookupCommit(ctx, headHash)
	if lookupErr != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, lookupErr)
	}
	defer headCommit.Free()

	targetTree, treeErr := headCommit.Tree()
	if treeErr != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, treeErr)
	}
	defer targetTree.Free()

	cursor := headCommit

	for cursor.NumParents() == 1 {
		next, parentErr := cursor.Parent(0)
		if parentErr != nil {
			return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, parentErr)
		}

		if cursor != headCommit {
			cursor.Free()
		}

		cursor = next
	}

	baseTree, baseTreeErr := cursor.Tree()
	if baseTreeErr != nil {
		return gitlib.Hash{}, gitlib.Hash{}, gitlib.Hash{}, errkind.New(errkind.GatewayError, baseTreeErr)
	}
	defer baseTree.Free()

	baseHash := baseTree.Hash()
	parentHash := cursor.Hash()

	if cursor != headCommit {
		cursor.Free()
	}

	return baseHash, targetTree.Hash(), parentHash, nil
}

func (o *Orchestrator) diffTrees(baseHash, targetHash gitlib.Hash) ([]*model.FileDelta, error) {
	baseTree, baseErr := o.repo.LookupTree(baseHash)
	if baseErr != nil {
		return nil, errkind.New(errkind.GatewayError, baseErr)
	}
	defer baseTree.Free()

	targetTree, targetErr := o.repo.LookupTree(targetHash)
	if targetErr != nil {
		return nil, errkind.New(errkind.GatewayError, targetErr)
	}
	defer targetTree.Free()

	changes, diffErr := gitlib.TreeDiff(o.repo, baseTree, targetTree)
	if diffErr != nil {
		return nil, errkind.New(errkind.GatewayError, diffErr)
	}

	deltas := make([]*model.FileDelta, 0, len(changes))

	for _, c := range changes {
		deltas = append(deltas, changeToDelta(c))
	}

	return deltas, nil
}

func changeToDelta(c *gitlib.Change) *model.FileDelta {
	switch c.Action {
	case gitlib.Insert:
		h := c.To.Hash

		return &model.FileDelta{NewBlob: &h, Path: c.To.Name, Kind: model.Added}
	case gitlib.Delete:
		h := c.From.Hash

		return &model.FileDelta{OldBlob: &h, OldPath: c.From.Name, Path: c.From.Name, Kind: model.Deleted}
	default:
		oldH, newH := c.From.Hash, c.To.Hash
		kind := model.Modified

		if c.From.Name != c.To.Name {
			kind = model.Renamed
		}

		return &model.FileDelta{
			OldBlob: &oldH, NewBlob: &newH,
			OldPath: c.From.Name, Path: c.To.Name,
			Kind: kind, ModeChanged: c.From.Mode != c.To.Mode,
		}
	}
}

func (o *Orchestrator) chunkAndIndex(ctx context.Context, deltas []*model.FileDelta) ([]*model.Chunk, map[string]*semgroup.FileIndex, map[string]*model.FileDelta, error) {
	langConfig, err := o.languageConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	parser := scope.NewParser(langConfig)
	level, levelErr := chunker.ParseLevel(o.opts.Config.Chunking.Level)

	if levelErr != nil {
		return nil, nil, nil, errkind.New(errkind.InvariantViolated, levelErr)
	}

	var allChunks []*model.Chunk

	files := make(map[string]*semgroup.FileIndex)
	deltaByPath := make(map[string]*model.FileDelta, len(deltas))

	for _, d := range deltas {
		deltaByPath[d.Path] = d

		oldContent, newContent, blobErr := o.blobContents(d)
		if blobErr != nil {
			return nil, nil, nil, blobErr
		}

		diff, diffErr := o.lineDiff(d, oldContent, newContent)
		if diffErr != nil {
			return nil, nil, nil, diffErr
		}

		chunks, chunkErr := chunker.ChunkFile(d.Path, diff, oldContent, newContent, level)
		if chunkErr != nil {
			return nil, nil, nil, errkind.New(errkind.InvariantViolated, chunkErr)
		}

		allChunks = append(allChunks, chunks...)

		files[d.Path] = o.indexFile(ctx, parser, d.Path, newContent)
	}

	return allChunks, files, deltaByPath, nil
}

func (o *Orchestrator) languageConfig() (*scope.Config, error) {
	builtin := scope.DefaultConfig()

	if o.opts.Config.Languages.CustomConfigPath == "" {
		return builtin, nil
	}

	custom, err := scope.LoadConfig(o.opts.Config.Languages.CustomConfigPath)
	if err != nil {
		return nil, errkind.New(errkind.GatewayError, err)
	}

	return builtin.Merge(custom), nil
}

func (o *Orchestrator) blobContents(d *model.FileDelta) (old, next []byte, err error) {
	if d.OldBlob != nil {
		blob, blobErr := o.cachedBlob(*d.OldBlob)
		if blobErr != nil {
			return nil, nil, blobErr
		}

		old = blob.Data
	}

	if d.NewBlob != nil {
		blob, blobErr := o.cachedBlob(*d.NewBlob)
		if blobErr != nil {
			return nil, nil, blobErr
		}

		next = blob.Data
	}

	return old, next, nil
}

func (o *Orchestrator) cachedBlob(hash gitlib.Hash) (*gitlib.CachedBlob, error) {
	if cached := o.blobCache.Get(hash); cached != nil {
		return cached, nil
	}

	blob, err := gitlib.NewCachedBlobFromRepo(o.repo, hash)
	if err != nil {
		return nil, errkind.New(errkind.GatewayError, err)
	}

	o.blobCache.Put(hash, blob)

	return blob, nil
}

func (o *Orchestrator) lineDiff(d *model.FileDelta, oldContent, newContent []byte) (*gitlib.BlobDiffResult, error) {
	var oldBlob, newBlob *gitlib.Blob

	if d.OldBlob != nil {
		b, err := o.repo.LookupBlob(context.Background(), *d.OldBlob)
		if err != nil {
			return nil, errkind.New(errkind.GatewayError, err)
		}
		defer b.Free()

		oldBlob = b
	}

	if d.NewBlob != nil {
		b, err := o.repo.LookupBlob(context.Background(), *d.NewBlob)
		if err != nil {
			return nil, errkind.New(errkind.GatewayError, err)
		}
		defer b.Free()

		newBlob = b
	}

	result, err := gitlib.DiffBlobs(oldBlob, newBlob, d.OldPath, d.Path)
	if err != nil {
		return nil, errkind.New(errkind.GatewayError, err)
	}

	return result, nil
}

func (o *Orchestrator) indexFile(ctx context.Context, parser *scope.Parser, path string, content []byte) *semgroup.FileIndex {
	if !parser.IsSupported(path) {
		strategy := scope.ParseFallbackGroupingStrategy(o.opts.Config.Grouping.FallbackStrategy)
		lineCount := countLines(content)

		return &semgroup.FileIndex{
			Path:   path,
			Scopes: []*model.ScopeNode{scope.WholeFileScope(path, lineCount, strategy)},
		}
	}

	tree, err := parser.Parse(ctx, path, content)
	if err != nil {
		return &semgroup.FileIndex{Path: path}
	}
	defer tree.Close()

	return &semgroup.FileIndex{
		Path:        path,
		Scopes:      tree.Scopes(),
		Identifiers: tree.Identifiers(),
	}
}

func (o *Orchestrator) runFilterChain(ctx context.Context, groups []*model.SemanticGroup, deltas map[string]*model.FileDelta) ([]*model.SemanticGroup, []filter.Rejection) {
	secretScanner := filter.NewSecretScanner(filter.ParseSecretAggression(o.opts.Config.Filter.SecretAggression), defaultBloomCapacity)

	relevance := &filter.RelevanceFilter{
		Enabled:   o.opts.Config.Filter.RelevanceFiltering,
		Intent:    o.opts.Config.Model.Intent,
		Threshold: o.opts.Config.Filter.RelevanceThreshold,
	}

	langConfig, langErr := o.languageConfig()

	var parser *scope.Parser
	if langErr == nil {
		parser = scope.NewParser(langConfig)
	}

	syntax := &filter.SyntaxValidator{
		Enabled:      parser != nil,
		FailOnErrors: o.opts.Config.Filter.FailOnSyntaxErrors,
		Parser:       parser,
	}

	chain := &filter.Chain{
		Secrets:   secretScanner,
		Relevance: relevance,
		Syntax:    syntax,
		ApplyTentative: func(g *model.SemanticGroup, path string) ([]byte, error) {
			delta, ok := deltas[path]
			if !ok {
				return nil, fmt.Errorf("no delta for %s", path)
			}

			old, _, blobErr := o.blobContents(delta)
			if blobErr != nil {
				return nil, blobErr
			}

			var pathChunks []*model.Chunk

			for _, c := range g.Chunks {
				if c.FilePath == path {
					pathChunks = append(pathChunks, c)
				}
			}

			return chunker.ComposeText(old, pathChunks), nil
		},
	}

	return chain.Run(ctx, groups)
}

// logChunkSizeDistribution reports the median and p90 chunk size (in new
// lines touched) across a planned run, to size interactive review effort.
func (o *Orchestrator) logChunkSizeDistribution(chunks []*model.Chunk) {
	if len(chunks) == 0 {
		return
	}

	sizes := make([]float64, len(chunks))
	for i, c := range chunks {
		sizes[i] = float64(len(c.NewLines))
	}

	o.opts.Logger.Debug("chunk size distribution",
		"count", len(chunks),
		"median", stats.Median(sizes),
		"p90", stats.Percentile(sizes, p90),
		"files", len(mapx.Unique(chunkFilePaths(chunks))),
	)
}

// p90 is the percentile reported alongside the median in chunk size diagnostics.
const p90 = 0.9

func chunkFilePaths(chunks []*model.Chunk) []string {
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = c.FilePath
	}

	return paths
}

func (o *Orchestrator) anyShareTokens() bool {
	cfg, err := o.languageConfig()
	if err != nil {
		return false
	}

	for _, lang := range cfg.Languages {
		if lang.ShareTokensBetweenFiles {
			return true
		}
	}

	return false
}

// defaultBloomCapacity sizes the secret scanner's duplicate-match filter
// for a typical multi-thousand-chunk run.
const defaultBloomCapacity = 100000

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}

	count := 1
	for _, b := range content {
		if b == '\n' {
			count++
		}
	}

	return count
}
