// Package chunker implements the mechanical chunker: it splits a file's
// line-level diff into the finest set of pairwise-disjoint, independently
// applicable Chunks, and provides the composition arithmetic that
// reconstructs text from any subset of chunks.
package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/codestory-dev/codestory/pkg/alg/interval"
	"github.com/codestory-dev/codestory/pkg/gitlib"
	"github.com/codestory-dev/codestory/pkg/model"
)

// Level controls how aggressively hunks are split into chunks.
type Level int

const (
	// LevelNone emits one chunk per maximal non-equal diff run.
	LevelNone Level = iota
	// LevelFullFiles additionally splits full-file add/delete hunks at blank-line boundaries.
	LevelFullFiles
	// LevelAllFiles splits every add-only or delete-only hunk at blank-line boundaries. Default.
	LevelAllFiles
)

// ParseLevel parses the --chunking-level configuration value.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "all_files":
		return LevelAllFiles, nil
	case "none":
		return LevelNone, nil
	case "full_files":
		return LevelFullFiles, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// ErrUnknownLevel is returned by ParseLevel for an unrecognized value.
var ErrUnknownLevel = errors.New("chunker: unknown chunking level")

// ErrInvariantViolated is raised when the emitted chunks for a file fail to
// satisfy the pairwise-disjointness or exhaustiveness invariants.
// Corresponds to the orchestrator's ChunkingInvariantViolated error kind.
var ErrInvariantViolated = errors.New("chunker: chunk invariant violated")

var idCounter int

func nextID() int {
	idCounter++
	return idCounter
}

// ResetIDs resets the package-wide chunk id counter. Intended for tests that
// need deterministic ids across runs.
func ResetIDs() {
	idCounter = 0
}

// ChunkFile splits a single file's diff into chunks at the given level and
// verifies the pairwise-disjointness invariant with an interval tree.
func ChunkFile(path string, diff *gitlib.BlobDiffResult, oldContent, newContent []byte, level Level) ([]*model.Chunk, error) {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	hunks := buildHunks(diff, oldLines, newLines)

	var chunks []*model.Chunk

	for _, h := range hunks {
		chunks = append(chunks, splitHunk(path, h, level)...)
	}

	if err := verifyDisjoint(path, chunks); err != nil {
		return nil, err
	}

	return chunks, nil
}

// splitLines splits byte content into lines without the trailing newline,
// matching the line count convention used by the gateway's blob diff.
func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}

	text := string(content)
	text = strings.TrimSuffix(text, "\n")

	return strings.Split(text, "\n")
}

// buildHunks groups the coalesced equal/insert/delete diff spans into
// model.Hunk values, one per maximal run of non-equal spans. Equal spans are
// consumed to advance the line cursors but are not themselves emitted.
func buildHunks(diff *gitlib.BlobDiffResult, oldLines, newLines []string) []model.Hunk {
	var hunks []model.Hunk

	oldPos, newPos := 0, 0

	var cur *model.Hunk

	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}

	for _, d := range diff.Diffs {
		switch d.Type {
		case gitlib.LineDiffEqual:
			flush()
			oldPos += d.LineCount
			newPos += d.LineCount
		case gitlib.LineDiffDelete:
			if cur == nil {
				cur = &model.Hunk{OldRange: model.LineRange{Start: oldPos, End: oldPos}, NewRange: model.LineRange{Start: newPos, End: newPos}}
			}

			end := oldPos + d.LineCount
			cur.OldLines = append(cur.OldLines, sliceLines(oldLines, oldPos, end)...)
			cur.OldRange.End = end
			oldPos = end
		case gitlib.LineDiffInsert:
			if cur == nil {
				cur = &model.Hunk{OldRange: model.LineRange{Start: oldPos, End: oldPos}, NewRange: model.LineRange{Start: newPos, End: newPos}}
			}

			end := newPos + d.LineCount
			cur.NewLines = append(cur.NewLines, sliceLines(newLines, newPos, end)...)
			cur.NewRange.End = end
			newPos = end
		}
	}

	flush()

	return hunks
}

func sliceLines(lines []string, start, end int) []string {
	if start < 0 {
		start = 0
	}

	if end > len(lines) {
		end = len(lines)
	}

	if start >= end {
		return nil
	}

	return lines[start:end]
}

// splitHunk turns a single hunk into one or more chunks depending on the
// configured granularity. A hunk containing both deletions and insertions
// (a replace) is never split further: subdividing it would require
// re-running a diff on its sub-content, outside the mechanical chunker's
// line-level granularity.
func splitHunk(path string, h model.Hunk, level Level) []*model.Chunk {
	pureAdd := len(h.OldLines) == 0 && len(h.NewLines) > 0
	pureDelete := len(h.NewLines) == 0 && len(h.OldLines) > 0

	if level == LevelNone || (!pureAdd && !pureDelete) {
		return []*model.Chunk{newChunk(path, h)}
	}

	if level == LevelFullFiles && !(h.OldRange.Start == 0 && h.NewRange.Start == 0) {
		// Only whole-file add/delete hunks are split at this level; this
		// hunk is a sub-region of a modified file, so pass through.
		return []*model.Chunk{newChunk(path, h)}
	}

	if pureAdd {
		return splitByBlankLines(path, h, false)
	}

	return splitByBlankLines(path, h, true)
}

// splitByBlankLines splits a pure-add or pure-delete hunk into sub-chunks at
// blank-line boundaries, one chunk per maximal non-blank region.
func splitByBlankLines(path string, h model.Hunk, deleting bool) []*model.Chunk {
	lines := h.NewLines
	rangeBase := h.NewRange.Start

	if deleting {
		lines = h.OldLines
		rangeBase = h.OldRange.Start
	}

	var chunks []*model.Chunk

	start := -1

	flush := func(end int) {
		if start < 0 {
			return
		}

		sub := model.Hunk{}
		if deleting {
			sub.OldRange = model.LineRange{Start: rangeBase + start, End: rangeBase + end}
			sub.NewRange = model.LineRange{Start: h.NewRange.Start, End: h.NewRange.Start}
			sub.OldLines = lines[start:end]
		} else {
			sub.NewRange = model.LineRange{Start: rangeBase + start, End: rangeBase + end}
			sub.OldRange = model.LineRange{Start: h.OldRange.Start, End: h.OldRange.Start}
			sub.NewLines = lines[start:end]
		}

		chunks = append(chunks, newChunk(path, sub))
		start = -1
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i)

			continue
		}

		if start < 0 {
			start = i
		}
	}

	flush(len(lines))

	if len(chunks) == 0 {
		return []*model.Chunk{newChunk(path, h)}
	}

	return chunks
}

func newChunk(path string, h model.Hunk) *model.Chunk {
	return &model.Chunk{
		ID:       nextID(),
		FilePath: path,
		OldRange: h.OldRange,
		NewRange: h.NewRange,
		OldLines: h.OldLines,
		NewLines: h.NewLines,
	}
}

// verifyDisjoint checks invariants 1 and 2 (pairwise disjointness on both
// sides) using an augmented interval tree per side.
func verifyDisjoint(path string, chunks []*model.Chunk) error {
	oldTree := interval.New[int, int]()
	newTree := interval.New[int, int]()

	for _, c := range chunks {
		if c.OldRange.Len() > 0 {
			if overlapsExisting(oldTree, c.OldRange) {
				return fmt.Errorf("%w: file %s chunk %d overlaps on old range", ErrInvariantViolated, path, c.ID)
			}

			oldTree.Insert(c.OldRange.Start, c.OldRange.End, c.ID)
		}

		if c.NewRange.Len() > 0 {
			if overlapsExisting(newTree, c.NewRange) {
				return fmt.Errorf("%w: file %s chunk %d overlaps on new range", ErrInvariantViolated, path, c.ID)
			}

			newTree.Insert(c.NewRange.Start, c.NewRange.End, c.ID)
		}
	}

	return nil
}

func overlapsExisting(tree *interval.Tree[int, int], r model.LineRange) bool {
	// QueryOverlap uses an inclusive-high convention; half-open ranges are
	// adjacent (not overlapping) when End == other.Start, so probe with the
	// last contained line rather than the exclusive end.
	if r.Len() == 0 {
		return false
	}

	hits := tree.QueryOverlap(r.Start, r.End-1)

	return len(hits) > 0
}

// ComposeText applies a subset of chunks to base content, in old-offset
// order, and returns the resulting text. Because chunks are disjoint on both
// sides this is total and order-free: applying the same subset in any order
// of iteration yields the same result, since the procedure itself sorts by
// OldRange.Start before substituting.
func ComposeText(baseContent []byte, chunks []*model.Chunk) []byte {
	lines := splitLines(baseContent)

	ordered := make([]*model.Chunk, len(chunks))
	copy(ordered, chunks)
	sortByOldStart(ordered)

	var out []string

	cursor := 0

	for _, c := range ordered {
		out = append(out, lines[cursor:min(c.OldRange.Start, len(lines))]...)
		out = append(out, c.NewLines...)
		cursor = c.OldRange.End
	}

	out = append(out, lines[min(cursor, len(lines)):]...)

	if len(out) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for i, l := range out {
		if i > 0 {
			buf.WriteByte('\n')
		}

		buf.WriteString(l)
	}

	if len(baseContent) == 0 || baseContent[len(baseContent)-1] == '\n' || len(chunks) > 0 {
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

func sortByOldStart(chunks []*model.Chunk) {
	for i := 1; i < len(chunks); i++ {
		j := i
		for j > 0 && chunks[j-1].OldRange.Start > chunks[j].OldRange.Start {
			chunks[j-1], chunks[j] = chunks[j], chunks[j-1]
			j--
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}
