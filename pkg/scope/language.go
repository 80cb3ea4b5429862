// Package scope provides the parser capability: it turns file content into
// a syntax tree and evaluates that tree for ScopeNodes and IdentifierSites
// per a data-driven, per-language configuration rather than compiled
// tree-query programs.
package scope

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed language_schema.json
var languageSchemaJSON []byte

// ErrInvalidLanguageConfig wraps schema validation failures for a
// --custom-language-config document.
var ErrInvalidLanguageConfig = errors.New("scope: invalid language config")

// Language describes how to extract scopes, identifiers, and comments from
// one language's syntax tree using node-type predicate tables rather than
// compiled tree-sitter queries.
type Language struct {
	Name        string   `json:"-"`
	Extensions  []string `json:"extensions"`
	RootNode    string   `json:"root_node_name"`
	ScopeTypes  []string `json:"scope_node_types"`
	NamedScope  []string `json:"named_scope_types"`
	DefTypes    []string `json:"definition_node_types"`
	RefTypes    []string `json:"reference_node_types"`
	CommentType []string `json:"comment_node_types"`
	// NameField is the child field holding an identifier's name sub-node,
	// e.g. "name" for most grammars' function_definition/call_expression nodes.
	NameField string `json:"name_field"`
	// ShareTokensBetweenFiles controls whether cross-reference cohesion in
	// the semantic grouper follows identifier references across files.
	ShareTokensBetweenFiles bool `json:"share_tokens_between_files"`
}

// Config is the JSON-keyed-by-language-name configuration document described
// by the language-config file format.
type Config struct {
	Languages map[string]*Language
}

// UnmarshalJSON fills in each Language's Name field from its map key, since
// the file format keys languages by name rather than embedding it.
func (c *Config) UnmarshalJSON(data []byte) error {
	raw := make(map[string]*Language)

	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("scope: unmarshal language config: %w", err)
	}

	for name, lang := range raw {
		lang.Name = name
	}

	c.Languages = raw

	return nil
}

// LoadConfig reads, schema-validates, and parses a custom language-config
// JSON file. Validation runs before Unmarshal so a malformed document (a
// typo'd key, a string where an array belongs) fails with the offending
// field rather than silently producing a zero-value Language.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scope: read language config: %w", err)
	}

	if err := validateAgainstSchema(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validateAgainstSchema(data []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(languageSchemaJSON)
	docLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("scope: validate language config: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidLanguageConfig, strings.Join(msgs, "; "))
	}

	return nil
}

// Merge overlays other's languages on top of c, with other taking priority.
// Used to let a --custom-language-config file extend the built-in defaults.
func (c *Config) Merge(other *Config) *Config {
	merged := &Config{Languages: make(map[string]*Language, len(c.Languages))}

	for name, lang := range c.Languages {
		merged.Languages[name] = lang
	}

	if other != nil {
		for name, lang := range other.Languages {
			merged.Languages[name] = lang
		}
	}

	return merged
}

// ForExtension resolves a language by the file's extension. Returns nil, false
// when no configured language claims the extension — the caller then enters
// fallback mode (§4.3).
func (c *Config) ForExtension(path string) (*Language, bool) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return nil, false
	}

	for _, lang := range c.Languages {
		for _, e := range lang.Extensions {
			if strings.EqualFold(e, ext) {
				return lang, true
			}
		}
	}

	return nil, false
}

// DefaultConfig returns the built-in language configuration covering a small
// set of common languages. A --custom-language-config file is merged on top
// of this at configuration-resolution time.
func DefaultConfig() *Config {
	return &Config{Languages: map[string]*Language{
		"go": {
			Name:        "go",
			Extensions:  []string{"go"},
			RootNode:    "source_file",
			ScopeTypes:  []string{"function_declaration", "method_declaration", "func_literal"},
			DefTypes:    []string{"function_declaration", "method_declaration"},
			RefTypes:    []string{"call_expression", "identifier"},
			CommentType: []string{"comment"},
			NameField:   "name",
		},
		"python": {
			Name:                    "python",
			Extensions:              []string{"py"},
			RootNode:                "module",
			ScopeTypes:              []string{"function_definition", "class_definition"},
			DefTypes:                []string{"function_definition", "class_definition"},
			RefTypes:                []string{"call", "identifier"},
			CommentType:             []string{"comment"},
			NameField:               "name",
			ShareTokensBetweenFiles: true,
		},
		"javascript": {
			Name:        "javascript",
			Extensions:  []string{"js", "jsx", "mjs"},
			RootNode:    "program",
			ScopeTypes:  []string{"function_declaration", "method_definition", "arrow_function", "class_declaration"},
			DefTypes:    []string{"function_declaration", "method_definition", "class_declaration"},
			RefTypes:    []string{"call_expression", "identifier"},
			CommentType: []string{"comment"},
			NameField:   "name",
		},
		"typescript": {
			Name:        "typescript",
			Extensions:  []string{"ts", "tsx"},
			RootNode:    "program",
			ScopeTypes:  []string{"function_declaration", "method_definition", "arrow_function", "class_declaration", "interface_declaration"},
			DefTypes:    []string{"function_declaration", "method_definition", "class_declaration", "interface_declaration"},
			RefTypes:    []string{"call_expression", "identifier"},
			CommentType: []string{"comment"},
			NameField:   "name",
		},
		"rust": {
			Name:        "rust",
			Extensions:  []string{"rs"},
			RootNode:    "source_file",
			ScopeTypes:  []string{"function_item", "impl_item", "mod_item"},
			DefTypes:    []string{"function_item"},
			RefTypes:    []string{"call_expression", "identifier"},
			CommentType: []string{"line_comment", "block_comment"},
			NameField:   "name",
		},
	}}
}
