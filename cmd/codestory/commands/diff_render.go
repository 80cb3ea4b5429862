package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/codestory-dev/codestory/pkg/model"
)

// diffTimeout bounds how long a single chunk's word-level diff computation
// may run before diffmatchpatch gives up and returns its best-effort result.
const diffTimeout = 500 * time.Millisecond

// renderGroupDiff writes every member chunk of g to w, in the style named by
// diffType: "unified" prints plain -/+ prefixed lines; anything else renders
// a word/line-level diff via diffmatchpatch, highlighting only the changed
// spans instead of whole replaced lines.
func renderGroupDiff(w io.Writer, g *model.LogicalGroup, diffType string) {
	for _, member := range g.Members {
		for _, chunk := range member.Chunks {
			fmt.Fprintf(w, "  --- %s (hunk)\n", chunk.FilePath)

			if diffType == "unified" {
				renderUnifiedChunk(w, chunk)
			} else {
				renderWordChunk(w, chunk)
			}
		}
	}
}

func renderUnifiedChunk(w io.Writer, chunk *model.Chunk) {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)

	for _, line := range chunk.OldLines {
		red.Fprintf(w, "  -%s\n", line)
	}

	for _, line := range chunk.NewLines {
		green.Fprintf(w, "  +%s\n", line)
	}
}

// renderWordChunk diffs the chunk's old and new sides line-by-line using
// diffmatchpatch's line-to-rune encoding, then highlights inserted spans in
// green and deleted spans in red within a single merged rendering.
func renderWordChunk(w io.Writer, chunk *model.Chunk) {
	oldText := strings.Join(chunk.OldLines, "\n")
	newText := strings.Join(chunk.NewLines, "\n")

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout

	src, dst, lines := dmp.DiffLinesToRunes(oldText, newText)

	diffs := dmp.DiffMainRunes(src, dst, false)
	diffs = dmp.DiffCleanupMerge(dmp.DiffCleanupSemanticLossless(diffs))
	diffs = dmp.DiffCharsToLines(diffs, lines)

	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" {
			continue
		}

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			color.New(color.FgRed).Fprintf(w, "  -%s\n", text)
		case diffmatchpatch.DiffInsert:
			color.New(color.FgGreen).Fprintf(w, "  +%s\n", text)
		case diffmatchpatch.DiffEqual:
			fmt.Fprintf(w, "   %s\n", text)
		}
	}
}
