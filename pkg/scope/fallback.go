package scope

import (
	"strings"

	enry "github.com/src-d/enry/v2"

	"github.com/codestory-dev/codestory/pkg/model"
)

// FallbackGroupingStrategy controls how files without a usable syntax tree
// are joined into semantic groups.
type FallbackGroupingStrategy int

const (
	// ByExtension groups fallback files sharing a file extension.
	ByExtension FallbackGroupingStrategy = iota
	// ByFile groups each fallback file on its own.
	ByFile
	// AllTogether joins every fallback file into one group.
	AllTogether
)

// ParseFallbackGroupingStrategy parses the --fallback-grouping-strategy flag.
func ParseFallbackGroupingStrategy(s string) FallbackGroupingStrategy {
	switch s {
	case "all_together":
		return AllTogether
	case "by_extension":
		return ByExtension
	default:
		return ByFile
	}
}

// DetectLanguage falls back to content-based language detection (via enry)
// when a file's extension is ambiguous or unlisted in the language config.
func DetectLanguage(path string, content []byte) string {
	return enry.GetLanguage(path, content)
}

// FallbackKey groups a file that has no usable syntax tree according to the
// configured strategy.
func FallbackKey(path string, strategy FallbackGroupingStrategy) string {
	switch strategy {
	case AllTogether:
		return "*"
	case ByExtension:
		if idx := strings.LastIndexByte(path, '.'); idx >= 0 {
			return path[idx+1:]
		}

		return path
	case ByFile:
		return path
	default:
		return path
	}
}

// WholeFileScope builds the single scope a fallback-mode file is collapsed
// into: the entire file, as a named scope keyed by its fallback grouping key.
func WholeFileScope(path string, lineCount int, strategy FallbackGroupingStrategy) *model.ScopeNode {
	return &model.ScopeNode{
		Name:      FallbackKey(path, strategy),
		FilePath:  path,
		Kind:      model.NamedScope,
		LineRange: model.LineRange{Start: 0, End: lineCount},
	}
}
