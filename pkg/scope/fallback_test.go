package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codestory-dev/codestory/pkg/model"
)

func TestParseFallbackGroupingStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		expected FallbackGroupingStrategy
	}{
		{name: "all_together", in: "all_together", expected: AllTogether},
		{name: "by_extension", in: "by_extension", expected: ByExtension},
		{name: "by_file_explicit", in: "by_file", expected: ByFile},
		{name: "unknown_defaults_to_by_file", in: "bogus", expected: ByFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, ParseFallbackGroupingStrategy(tt.in))
		})
	}
}

func TestFallbackKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		strategy FallbackGroupingStrategy
		expected string
	}{
		{name: "all_together_collapses", path: "a/b.xyz", strategy: AllTogether, expected: "*"},
		{name: "by_extension_uses_suffix", path: "a/b.proto", strategy: ByExtension, expected: "proto"},
		{name: "by_extension_no_dot_uses_path", path: "Makefile", strategy: ByExtension, expected: "Makefile"},
		{name: "by_file_uses_full_path", path: "a/b.proto", strategy: ByFile, expected: "a/b.proto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, FallbackKey(tt.path, tt.strategy))
		})
	}
}

func TestWholeFileScope(t *testing.T) {
	t.Parallel()

	got := WholeFileScope("a/b.proto", 42, ByExtension)

	assert.Equal(t, "proto", got.Name)
	assert.Equal(t, "a/b.proto", got.FilePath)
	assert.Equal(t, model.NamedScope, got.Kind)
	assert.Equal(t, model.LineRange{Start: 0, End: 42}, got.LineRange)
}

func TestDetectLanguageFallsBackToContent(t *testing.T) {
	t.Parallel()

	lang := DetectLanguage("main.go", []byte("package main\n\nfunc main() {}\n"))
	assert.Equal(t, "Go", lang)
}
