package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codestory-dev/codestory/pkg/model"
)

func sampleGroup() *model.LogicalGroup {
	return &model.LogicalGroup{
		Message: "tighten retry bound",
		Members: []*model.SemanticGroup{
			{
				Chunks: []*model.Chunk{
					{
						FilePath: "pkg/retry/retry.go",
						OldLines: []string{"const maxAttempts = 3"},
						NewLines: []string{"const maxAttempts = 5"},
					},
				},
			},
		},
	}
}

func TestRenderGroupDiffUnified(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderGroupDiff(&buf, sampleGroup(), "unified")

	out := buf.String()
	assert.Contains(t, out, "-const maxAttempts = 3")
	assert.Contains(t, out, "+const maxAttempts = 5")
}

func TestRenderGroupDiffWordLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderGroupDiff(&buf, sampleGroup(), "word")

	out := buf.String()
	assert.Contains(t, out, "maxAttempts")
}

func TestRenderGroupDiffSkipsEmptyLines(t *testing.T) {
	t.Parallel()

	g := &model.LogicalGroup{
		Members: []*model.SemanticGroup{
			{Chunks: []*model.Chunk{{FilePath: "a.go"}}},
		},
	}

	var buf bytes.Buffer
	renderGroupDiff(&buf, g, "unified")

	assert.Contains(t, buf.String(), "a.go")
}
