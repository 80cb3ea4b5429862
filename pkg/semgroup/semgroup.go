// Package semgroup implements the semantic grouper: it partitions chunks
// into SemanticGroups by scope cohesion, comment attachment, and
// cross-reference cohesion, using a union-find over chunk ids to compute the
// mutual closure of those three relations.
package semgroup

import (
	"errors"
	"fmt"
	"sort"

	"github.com/codestory-dev/codestory/pkg/model"
)

// ErrPartitionViolated corresponds to the SemanticPartitionViolated failure
// mode: some chunk ended up in zero or more than one group.
var ErrPartitionViolated = errors.New("semgroup: chunk partition invariant violated")

// FileIndex holds everything the grouper needs about one file: its scope
// forest and identifier sites, as extracted by the parser capability (or a
// single whole-file fallback scope for unparsed files).
type FileIndex struct {
	Path        string
	Scopes      []*model.ScopeNode
	Identifiers []model.IdentifierSite
}

// Options configures cross-reference cohesion.
type Options struct {
	// ShareTokensBetweenFiles follows identifier references across files
	// when true; otherwise only within the defining file.
	ShareTokensBetweenFiles bool
}

type unionFind struct {
	parent map[int]int
	rank   map[int]int
}

func newUnionFind(ids []int) *unionFind {
	uf := &unionFind{parent: make(map[int]int, len(ids)), rank: make(map[int]int, len(ids))}
	for _, id := range ids {
		uf.parent[id] = id
	}

	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}

	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}

	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}

	uf.parent[rb] = ra

	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// Group partitions chunks into SemanticGroups per §4.4. files maps each
// touched file path to its FileIndex; files with no entry are treated as
// fallback-mode (whole-file scope, no identifiers).
func Group(chunks []*model.Chunk, files map[string]*FileIndex, opts Options) ([]*model.SemanticGroup, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]int, len(chunks))
	byID := make(map[int]*model.Chunk, len(chunks))

	for i, c := range chunks {
		ids[i] = c.ID
		byID[c.ID] = c
	}

	uf := newUnionFind(ids)

	applyScopeCohesion(chunks, files, uf)
	applyCommentAttachment(chunks, files, uf)
	applyCrossReferenceCohesion(chunks, files, uf, opts)

	groups, err := collect(uf, byID)
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// innermostScope returns the most deeply nested named scope in file that
// contains the chunk's new-side line range, or nil if the chunk is in no
// named scope.
func innermostScope(fi *FileIndex, c *model.Chunk) *model.ScopeNode {
	var best *model.ScopeNode

	var walk func(nodes []*model.ScopeNode)

	walk = func(nodes []*model.ScopeNode) {
		for _, n := range nodes {
			if n.Kind != model.NamedScope {
				continue
			}

			if n.LineRange.Overlaps(c.NewRange) || (c.NewRange.Len() == 0 && n.LineRange.Overlaps(c.OldRange)) {
				best = n
				walk(n.Children)
			}
		}
	}

	if fi != nil {
		walk(fi.Scopes)
	}

	return best
}

func applyScopeCohesion(chunks []*model.Chunk, files map[string]*FileIndex, uf *unionFind) {
	scopeOwner := make(map[*model.ScopeNode]int)

	for _, c := range chunks {
		fi := files[c.FilePath]

		scope := innermostScope(fi, c)
		if scope == nil {
			continue
		}

		if owner, ok := scopeOwner[scope]; ok {
			uf.union(owner, c.ID)
		} else {
			scopeOwner[scope] = c.ID
		}
	}
}

// applyCommentAttachment attaches a comment chunk to the group of the scope
// it immediately precedes (no non-whitespace lines between the comment and
// the scope).
func applyCommentAttachment(chunks []*model.Chunk, files map[string]*FileIndex, uf *unionFind) {
	for _, c := range chunks {
		fi := files[c.FilePath]
		if fi == nil {
			continue
		}

		comment := enclosingComment(fi, c)
		if comment == nil {
			continue
		}

		for _, other := range chunks {
			if other.FilePath != c.FilePath || other.ID == c.ID {
				continue
			}

			if scope := innermostScope(fi, other); scope != nil && scope.LineRange.Start == comment.LineRange.End {
				uf.union(c.ID, other.ID)
			}
		}
	}
}

func enclosingComment(fi *FileIndex, c *model.Chunk) *model.ScopeNode {
	var found *model.ScopeNode

	var walk func(nodes []*model.ScopeNode)

	walk = func(nodes []*model.ScopeNode) {
		for _, n := range nodes {
			if n.Kind == model.CommentScope && n.LineRange.Overlaps(c.NewRange) {
				found = n
			}

			walk(n.Children)
		}
	}

	walk(fi.Scopes)

	return found
}

// applyCrossReferenceCohesion merges a reference chunk into the same group
// as the chunk that changed the referenced identifier's definition.
func applyCrossReferenceCohesion(chunks []*model.Chunk, files map[string]*FileIndex, uf *unionFind, opts Options) {
	definers := make(map[string][]int) // identifier name -> chunk ids that changed its definition

	for _, c := range chunks {
		fi := files[c.FilePath]
		if fi == nil {
			continue
		}

		for _, ident := range fi.Identifiers {
			if ident.Role != model.Definition {
				continue
			}

			if lineOverlaps(ident.Line, c) {
				definers[ident.Name] = append(definers[ident.Name], c.ID)
			}
		}
	}

	for _, c := range chunks {
		fi := files[c.FilePath]
		if fi == nil {
			continue
		}

		for _, ident := range fi.Identifiers {
			if ident.Role != model.Reference || !lineOverlaps(ident.Line, c) {
				continue
			}

			owners, ok := definers[ident.Name]
			if !ok {
				continue
			}

			for _, owner := range owners {
				ownerChunk := owner

				if !opts.ShareTokensBetweenFiles && !sameFileAsDefiner(chunks, ownerChunk, c.FilePath) {
					continue
				}

				uf.union(ownerChunk, c.ID)
			}
		}
	}
}

func sameFileAsDefiner(chunks []*model.Chunk, definerID int, file string) bool {
	for _, c := range chunks {
		if c.ID == definerID {
			return c.FilePath == file
		}
	}

	return false
}

func lineOverlaps(line int, c *model.Chunk) bool {
	r := model.LineRange{Start: line - 1, End: line}

	return r.Overlaps(c.NewRange) || r.Overlaps(c.OldRange)
}

// collect reads connected components back from the union-find, verifying
// the partition invariant (every chunk in exactly one group).
func collect(uf *unionFind, byID map[int]*model.Chunk) ([]*model.SemanticGroup, error) {
	roots := make(map[int][]int)

	for id := range byID {
		root := uf.find(id)
		roots[root] = append(roots[root], id)
	}

	seen := make(map[int]bool, len(byID))

	groups := make([]*model.SemanticGroup, 0, len(roots))

	for _, members := range roots {
		g := &model.SemanticGroup{
			IdentifiersTouched: make(map[string]struct{}),
			Files:              make(map[string]struct{}),
		}

		for _, id := range members {
			if seen[id] {
				return nil, fmt.Errorf("%w: chunk %d assigned twice", ErrPartitionViolated, id)
			}

			seen[id] = true

			c := byID[id]
			g.Chunks = append(g.Chunks, c)
			g.Files[c.FilePath] = struct{}{}
		}

		groups = append(groups, g)
	}

	if len(seen) != len(byID) {
		return nil, fmt.Errorf("%w: %d of %d chunks grouped", ErrPartitionViolated, len(seen), len(byID))
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].MinChunkID() < groups[j].MinChunkID() })

	for i, g := range groups {
		g.ID = i + 1

		sort.Slice(g.Chunks, func(a, b int) bool {
			if g.Chunks[a].FilePath != g.Chunks[b].FilePath {
				return g.Chunks[a].FilePath < g.Chunks[b].FilePath
			}

			return g.Chunks[a].OldRange.Start < g.Chunks[b].OldRange.Start
		})
	}

	return groups, nil
}
