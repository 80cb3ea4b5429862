// Package logicalgroup implements the logical grouper: it aggregates
// accepted SemanticGroups into an ordered sequence of LogicalGroups using a
// model capability, with deterministic batching, bounded retries, a
// heuristic fallback, and dependency-respecting ordering.
package logicalgroup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/codestory-dev/codestory/pkg/model"
	"github.com/codestory-dev/codestory/pkg/modelprovider"
)

// BatchingStrategy controls how semantic groups are packed into model
// requests when their combined rendering exceeds the model's context.
type BatchingStrategy int

const (
	// Auto picks a strategy based on total input size. Default.
	Auto BatchingStrategy = iota
	// Requests sends one semantic group per request, then merges results
	// by transitive union of the model's member associations.
	Requests
	// Prompt packs groups into prompt-size-limited batches.
	Prompt
)

// ParseBatchingStrategy parses the --batching-strategy flag.
func ParseBatchingStrategy(s string) BatchingStrategy {
	switch s {
	case "requests":
		return Requests
	case "prompt":
		return Prompt
	default:
		return Auto
	}
}

// autoBatchThreshold is the group count above which Auto switches from a
// single request to per-group (Requests) batching.
const autoBatchThreshold = 40

// promptBatchSize is the number of groups packed per request under Prompt
// batching.
const promptBatchSize = 10

// Options configures a single logical-grouper run.
type Options struct {
	Intent            string
	ClusterStrictness float64
	MaxTokens         int
	Batching          BatchingStrategy
	NumRetries        int
}

// Grouper aggregates accepted semantic groups with a model provider.
type Grouper struct {
	Provider modelprovider.Provider
	Options  Options
}

// Group runs the full logical-grouping procedure: batch, call the model
// with bounded retries (falling back to heuristic grouping on exhaustion),
// merge batch results, then order the resulting logical groups.
func (g *Grouper) Group(ctx context.Context, groups []*model.SemanticGroup) ([]*model.LogicalGroup, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	byID := make(map[string]*model.SemanticGroup, len(groups))
	inputs := make([]modelprovider.GroupInput, 0, len(groups))

	for _, sg := range groups {
		id := fmt.Sprintf("g%d", sg.ID)
		byID[id] = sg
		inputs = append(inputs, renderGroup(id, sg))
	}

	batches := batch(inputs, g.Options.Batching)

	var decisions []modelprovider.LogicalGroupDecision

	for _, b := range batches {
		resp, err := g.analyzeWithRetries(ctx, b)
		if err != nil {
			// Stage cannot proceed for this batch: fall back to heuristic
			// grouping, one logical group per remaining semantic group.
			decisions = append(decisions, heuristicDecisions(b)...)

			continue
		}

		decisions = append(decisions, resp.LogicalGroups...)
	}

	logicalGroups, err := merge(decisions, byID)
	if err != nil {
		return nil, err
	}

	return order(logicalGroups), nil
}

func renderGroup(id string, sg *model.SemanticGroup) modelprovider.GroupInput {
	var files []string
	for f := range sg.Files {
		files = append(files, f)
	}

	sort.Strings(files)

	var idents []string
	for name := range sg.IdentifiersTouched {
		idents = append(idents, name)
	}

	sort.Strings(idents)

	var frags []string

	for _, c := range sg.Chunks {
		frags = append(frags, fmt.Sprintf("%s old[%d,%d) new[%d,%d)\n+%s\n-%s",
			c.FilePath, c.OldRange.Start, c.OldRange.End, c.NewRange.Start, c.NewRange.End,
			strings.Join(c.NewLines, "\n+"), strings.Join(c.OldLines, "\n-")))
	}

	return modelprovider.GroupInput{
		ID:            id,
		Files:         files,
		Identifiers:   idents,
		DiffFragments: frags,
		Fingerprint:   fingerprint(files, idents),
	}
}

func fingerprint(files, idents []string) string {
	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f))
	}

	for _, i := range idents {
		h.Write([]byte(i))
	}

	return hex.EncodeToString(h.Sum(nil))[:16] //nolint:mnd // short fingerprint is sufficient for logging
}

func batch(inputs []modelprovider.GroupInput, strategy BatchingStrategy) [][]modelprovider.GroupInput {
	resolved := strategy
	if strategy == Auto {
		if len(inputs) > autoBatchThreshold {
			resolved = Requests
		} else {
			return [][]modelprovider.GroupInput{inputs}
		}
	}

	switch resolved {
	case Requests:
		batches := make([][]modelprovider.GroupInput, len(inputs))
		for i, in := range inputs {
			batches[i] = []modelprovider.GroupInput{in}
		}

		return batches
	case Prompt:
		var batches [][]modelprovider.GroupInput

		for i := 0; i < len(inputs); i += promptBatchSize {
			end := min(i+promptBatchSize, len(inputs))
			batches = append(batches, inputs[i:end])
		}

		return batches
	default:
		return [][]modelprovider.GroupInput{inputs}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}

func (g *Grouper) analyzeWithRetries(ctx context.Context, batch []modelprovider.GroupInput) (modelprovider.AnalyzeResponse, error) {
	req := modelprovider.AnalyzeRequest{
		Groups:            batch,
		Intent:            g.Options.Intent,
		ClusterStrictness: g.Options.ClusterStrictness,
		MaxTokens:         g.Options.MaxTokens,
		BatchingStrategy:  strategyName(g.Options.Batching),
	}

	var lastErr error

	for attempt := 0; attempt <= g.Options.NumRetries; attempt++ {
		resp, err := g.Provider.Analyze(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return modelprovider.AnalyzeResponse{}, lastErr
}

func strategyName(s BatchingStrategy) string {
	switch s {
	case Requests:
		return "requests"
	case Prompt:
		return "prompt"
	default:
		return "auto"
	}
}

// heuristicDecisions builds the fallback decision set for a batch that
// could not be analyzed: one logical group per semantic group, each
// with a message built from its touched files.
func heuristicDecisions(batch []modelprovider.GroupInput) []modelprovider.LogicalGroupDecision {
	out := make([]modelprovider.LogicalGroupDecision, 0, len(batch))

	for _, in := range batch {
		out = append(out, modelprovider.LogicalGroupDecision{
			ID:        "lg-" + in.ID,
			MemberIDs: []string{in.ID},
			Message:   "files touched: " + strings.Join(in.Files, ", "),
		})
	}

	return out
}

func merge(decisions []modelprovider.LogicalGroupDecision, byID map[string]*model.SemanticGroup) ([]*model.LogicalGroup, error) {
	assigned := make(map[string]bool, len(byID))

	var groups []*model.LogicalGroup

	for _, d := range decisions {
		lg := &model.LogicalGroup{Message: d.Message}

		for _, memberID := range d.MemberIDs {
			sg, ok := byID[memberID]
			if !ok || assigned[memberID] {
				continue
			}

			assigned[memberID] = true

			lg.Members = append(lg.Members, sg)
		}

		if len(lg.Members) == 0 {
			continue
		}

		if lg.Message == "" {
			lg.Message = heuristicMessage(lg)
		}

		groups = append(groups, lg)
	}

	// Any semantic group the model silently dropped still needs a home:
	// every accepted semantic group must appear in exactly one logical
	// group (§4.6 output invariants).
	for id, sg := range byID {
		if !assigned[id] {
			groups = append(groups, &model.LogicalGroup{
				Members: []*model.SemanticGroup{sg},
				Message: heuristicMessage(&model.LogicalGroup{Members: []*model.SemanticGroup{sg}}),
			})
		}
	}

	return groups, nil
}

func heuristicMessage(lg *model.LogicalGroup) string {
	return "files touched: " + strings.Join(lg.Files(), ", ")
}

// order sorts logical groups so that a group which only references
// identifiers defined in another group comes after the defining group,
// breaking cycles by alphabetic message order.
func order(groups []*model.LogicalGroup) []*model.LogicalGroup {
	n := len(groups)
	defines := make([]map[string]bool, n)
	references := make([]map[string]bool, n)

	for i, g := range groups {
		defines[i] = make(map[string]bool)
		references[i] = make(map[string]bool)

		for _, sg := range g.Members {
			for name := range sg.IdentifiersTouched {
				defines[i][name] = true
				references[i][name] = true
			}
		}
	}

	indegree := make([]int, n)
	edges := make([][]int, n)

	for i := range n {
		for j := range n {
			if i == j {
				continue
			}

			if dependsOn(references[i], defines[j]) {
				edges[j] = append(edges[j], i)
				indegree[i]++
			}
		}
	}

	order := make([]int, 0, n)
	visited := make([]bool, n)

	for len(order) < n {
		candidates := make([]int, 0)

		for i := range n {
			if !visited[i] && indegree[i] == 0 {
				candidates = append(candidates, i)
			}
		}

		if len(candidates) == 0 {
			// Cycle: break by alphabetic message order among the remaining.
			for i := range n {
				if !visited[i] {
					candidates = append(candidates, i)
				}
			}
		}

		sort.Slice(candidates, func(a, b int) bool { return groups[candidates[a]].Message < groups[candidates[b]].Message })

		next := candidates[0]
		order = append(order, next)
		visited[next] = true

		for _, dependent := range edges[next] {
			indegree[dependent]--
		}
	}

	out := make([]*model.LogicalGroup, n)
	for i, idx := range order {
		out[i] = groups[idx]
	}

	return out
}

func dependsOn(refs, defs map[string]bool) bool {
	for name := range refs {
		if defs[name] {
			return true
		}
	}

	return false
}
