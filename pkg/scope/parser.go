package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"

	forest "github.com/alexaandru/go-sitter-forest"
	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/codestory-dev/codestory/pkg/model"
)

// Sentinel errors for parser capability operations.
var (
	errNoParser    = errors.New("scope: no parser available for language")
	errNoRootNode  = errors.New("scope: parse produced no root node")
	errPoolType    = errors.New("scope: parser pool returned unexpected type")
	errBadLanguage = errors.New("scope: tree-sitter grammar not available")
)

// ParseError wraps a language's parse failure. Per §4.3 it does not abort
// the pipeline unless fail_on_syntax_errors is set; otherwise the file
// enters fallback mode.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("scope: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser evaluates per-language scope, identifier, and comment extraction
// against a file's syntax tree, using the predicate tables in Config rather
// than a compiled tree-query program.
type Parser struct {
	config *Config
	pools  sync.Map // language name -> *sync.Pool of *sitter.Parser
}

// NewParser constructs a Parser bound to the given language configuration.
func NewParser(cfg *Config) *Parser {
	return &Parser{config: cfg}
}

// IsSupported reports whether the file's extension resolves to a configured
// language with an available tree-sitter grammar.
func (p *Parser) IsSupported(path string) bool {
	lang, ok := p.config.ForExtension(path)
	if !ok {
		return false
	}

	return grammarAvailable(lang.Name)
}

func grammarAvailable(name string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	return forest.GetLanguage(name) != nil
}

func (p *Parser) poolFor(lang *Language) (*sync.Pool, error) {
	if existing, ok := p.pools.Load(lang.Name); ok {
		pool, ok := existing.(*sync.Pool)
		if !ok {
			return nil, errPoolType
		}

		return pool, nil
	}

	tsLang, err := safeGetLanguage(lang.Name)
	if err != nil {
		return nil, err
	}

	pool := &sync.Pool{
		New: func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(tsLang)

			return parser
		},
	}

	actual, _ := p.pools.LoadOrStore(lang.Name, pool)

	stored, ok := actual.(*sync.Pool)
	if !ok {
		return nil, errPoolType
	}

	return stored, nil
}

func safeGetLanguage(name string) (lang *sitter.Language, err error) {
	defer func() {
		if recover() != nil {
			lang = nil
			err = fmt.Errorf("%w: %s", errBadLanguage, name)
		}
	}()

	lang = forest.GetLanguage(name)
	if lang == nil {
		return nil, fmt.Errorf("%w: %s", errBadLanguage, name)
	}

	return lang, nil
}

// Tree is a parsed file's syntax tree plus the content it was parsed from,
// scoped to a single file.
type Tree struct {
	path    string
	lang    *Language
	content []byte
	root    sitter.Node
	native  *sitter.Tree
}

// Close releases the underlying tree-sitter tree.
func (t *Tree) Close() {
	if t.native != nil {
		t.native.Close()
	}
}

// Parse parses a file's content under its resolved language. Returns a
// *ParseError (non-fatal by default) when the language has no grammar or the
// parse otherwise fails.
func (p *Parser) Parse(ctx context.Context, path string, content []byte) (*Tree, error) {
	lang, ok := p.config.ForExtension(path)
	if !ok {
		return nil, &ParseError{Path: path, Err: errNoParser}
	}

	pool, err := p.poolFor(lang)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	tsParser, ok := pool.Get().(*sitter.Parser)
	if !ok {
		return nil, &ParseError{Path: path, Err: errPoolType}
	}

	defer pool.Put(tsParser)

	tree, err := tsParser.ParseString(ctx, nil, content)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	root := tree.RootNode()
	if root.IsNull() {
		tree.Close()

		return nil, &ParseError{Path: path, Err: errNoRootNode}
	}

	return &Tree{path: path, lang: lang, content: content, root: root, native: tree}, nil
}

// Scopes evaluates the language's scope_node_types predicate table over the
// parsed tree, returning a strictly-nested ScopeNode forest.
func (t *Tree) Scopes() []*model.ScopeNode {
	var roots []*model.ScopeNode

	walkScopes(t.root, t.content, t.path, t.lang, nil, &roots)

	return roots
}

func walkScopes(n sitter.Node, content []byte, path string, lang *Language, parent *model.ScopeNode, roots *[]*model.ScopeNode) {
	var current *model.ScopeNode

	if matchesAny(n.Type(), lang.ScopeTypes) {
		current = &model.ScopeNode{
			Parent:    parent,
			Name:      extractName(n, content, lang),
			FilePath:  path,
			Kind:      model.NamedScope,
			ByteRange: model.LineRange{Start: int(n.StartByte()), End: int(n.EndByte())},
			LineRange: model.LineRange{Start: int(n.StartPoint().Row) + 1, End: int(n.EndPoint().Row) + 1},
		}

		if parent != nil {
			parent.Children = append(parent.Children, current)
		} else {
			*roots = append(*roots, current)
		}
	}

	if matchesAny(n.Type(), lang.CommentType) {
		comment := &model.ScopeNode{
			Parent:    parent,
			FilePath:  path,
			Kind:      model.CommentScope,
			ByteRange: model.LineRange{Start: int(n.StartByte()), End: int(n.EndByte())},
			LineRange: model.LineRange{Start: int(n.StartPoint().Row) + 1, End: int(n.EndPoint().Row) + 1},
		}

		if parent != nil {
			parent.Children = append(parent.Children, comment)
		} else {
			*roots = append(*roots, comment)
		}
	}

	next := parent
	if current != nil {
		next = current
	}

	count := n.NamedChildCount()
	for i := range count {
		child := n.NamedChild(i)
		if child.IsNull() {
			continue
		}

		walkScopes(child, content, path, lang, next, roots)
	}
}

// Identifiers evaluates the definition_node_types and reference_node_types
// predicate tables, returning all IdentifierSites found in the tree.
func (t *Tree) Identifiers() []model.IdentifierSite {
	var out []model.IdentifierSite

	walkIdentifiers(t.root, t.content, t.path, t.lang, &out)

	return out
}

func walkIdentifiers(n sitter.Node, content []byte, path string, lang *Language, out *[]model.IdentifierSite) {
	switch {
	case matchesAny(n.Type(), lang.DefTypes):
		if name := extractName(n, content, lang); name != "" {
			*out = append(*out, model.IdentifierSite{
				FilePath:  path,
				Name:      name,
				Role:      model.Definition,
				Line:      int(n.StartPoint().Row) + 1,
				ByteRange: model.LineRange{Start: int(n.StartByte()), End: int(n.EndByte())},
			})
		}
	case matchesAny(n.Type(), lang.RefTypes):
		if name := extractName(n, content, lang); name != "" {
			*out = append(*out, model.IdentifierSite{
				FilePath:  path,
				Name:      name,
				Role:      model.Reference,
				Line:      int(n.StartPoint().Row) + 1,
				ByteRange: model.LineRange{Start: int(n.StartByte()), End: int(n.EndByte())},
			})
		}
	}

	count := n.NamedChildCount()
	for i := range count {
		child := n.NamedChild(i)
		if child.IsNull() {
			continue
		}

		walkIdentifiers(child, content, path, lang, out)
	}
}

// extractName resolves an identifier's name sub-node via the language's
// configured name field, falling back to the node's own text.
func extractName(n sitter.Node, content []byte, lang *Language) string {
	if lang.NameField != "" {
		if field := n.ChildByFieldName(lang.NameField); !field.IsNull() {
			return nodeText(field, content)
		}
	}

	if n.Type() == "identifier" {
		return nodeText(n, content)
	}

	return ""
}

func nodeText(n sitter.Node, content []byte) string {
	start, end := n.StartByte(), n.EndByte()
	if int(end) > len(content) || start > end {
		return ""
	}

	return string(content[start:end])
}

func matchesAny(nodeType string, types []string) bool {
	for _, t := range types {
		if t == nodeType {
			return true
		}
	}

	return false
}
