// Package model defines the shared data types that flow through the
// decomposition and history-reconstruction pipeline: deltas, hunks,
// chunks, scopes, identifiers, and the semantic/logical groupings built
// from them.
package model

import "github.com/codestory-dev/codestory/pkg/gitlib"

// ChangeKind classifies how a path changed between the base and target trees.
type ChangeKind int

const (
	// Added means the path exists only in the target tree.
	Added ChangeKind = iota
	// Deleted means the path exists only in the base tree.
	Deleted
	// Modified means the path exists in both trees with different content.
	Modified
	// Renamed means the path was moved, possibly with content changes.
	Renamed
)

// String renders the change kind for diagnostics and reports.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileDelta is a per-path record of a change between the base and target trees.
type FileDelta struct {
	OldBlob     *gitlib.Hash
	NewBlob     *gitlib.Hash
	OldPath     string
	Path        string
	Kind        ChangeKind
	ModeChanged bool
}

// LineRange is a half-open range of line indices [Start, End).
type LineRange struct {
	Start int
	End   int
}

// Len returns the number of lines covered by the range.
func (r LineRange) Len() int {
	return r.End - r.Start
}

// Overlaps reports whether r and other share at least one line.
func (r LineRange) Overlaps(other LineRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// Hunk is a contiguous line-range edit within one FileDelta. Adjacent hunks
// never share a boundary line.
type Hunk struct {
	OldRange LineRange
	NewRange LineRange
	OldLines []string
	NewLines []string
}

// Chunk is the atomic post-split unit of change produced by the mechanical
// chunker. Chunks for the same file are pairwise disjoint on both the old
// and new side, exhaustive, independently applicable, and order-free.
type Chunk struct {
	ID       int
	FilePath string
	OldRange LineRange
	NewRange LineRange
	OldLines []string
	NewLines []string
}

// ScopeKind classifies a ScopeNode.
type ScopeKind int

const (
	// NamedScope is a function, method, class, or similarly named construct.
	NamedScope ScopeKind = iota
	// AnonymousScope is a block without its own name (if-body, loop-body).
	AnonymousScope
	// CommentScope is a comment or docstring.
	CommentScope
)

// ScopeNode is a syntactic region extracted from a file's syntax tree.
// Scopes nest strictly: siblings never overlap.
type ScopeNode struct {
	Parent    *ScopeNode
	Name      string
	FilePath  string
	Kind      ScopeKind
	ByteRange LineRange
	LineRange LineRange
	Children  []*ScopeNode
}

// IdentifierRole classifies an IdentifierSite.
type IdentifierRole int

const (
	// Definition marks where an identifier's value or signature is declared.
	Definition IdentifierRole = iota
	// Reference marks a use of an already-declared identifier.
	Reference
)

// IdentifierSite is an occurrence of a name in a file's syntax tree.
type IdentifierSite struct {
	FilePath  string
	Name      string
	Role      IdentifierRole
	Line      int
	ByteRange LineRange
}

// SemanticGroup is a set of chunks unified by shared scope, comment
// attachment, or cross-reference cohesion. No two groups share a chunk,
// and every chunk belongs to exactly one group.
type SemanticGroup struct {
	ID                 int
	Chunks             []*Chunk
	Scopes             []*ScopeNode
	IdentifiersTouched map[string]struct{}
	Files              map[string]struct{}
}

// MinChunkID returns the smallest chunk id in the group, used for
// canonical ordering. Returns -1 for an empty group.
func (g *SemanticGroup) MinChunkID() int {
	min := -1
	for _, c := range g.Chunks {
		if min == -1 || c.ID < min {
			min = c.ID
		}
	}

	return min
}

// LogicalGroup is one commit's worth of semantic groups with a message.
// Every accepted semantic group appears in exactly one logical group.
type LogicalGroup struct {
	Members   []*SemanticGroup
	Message   string
	Rationale string
}

// Files returns the union of file paths touched by the logical group's members.
func (g *LogicalGroup) Files() []string {
	seen := make(map[string]struct{})

	var out []string

	for _, member := range g.Members {
		for path := range member.Files {
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				out = append(out, path)
			}
		}
	}

	return out
}
