package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/codestory-dev/codestory/pkg/model"
	"github.com/codestory-dev/codestory/pkg/scope"
)

// RejectReason identifies which filter rejected a group.
type RejectReason string

// Rejection reasons, matching §4.5's reject-reason vocabulary.
const (
	ReasonSecretDetected RejectReason = "secret_detected"
	ReasonBelowRelevance RejectReason = "below_relevance_threshold"
	ReasonSyntaxError    RejectReason = "syntax_error"
)

// Rejection records why a group was dropped.
type Rejection struct {
	Group  *model.SemanticGroup
	Reason RejectReason
	Detail string
}

// SyntaxValidator re-parses files touched by a tentatively-applied group and
// flags newly broken syntax. Opt-in via Enabled; FailOnErrors upgrades a
// detected break from a warning to a rejection.
type SyntaxValidator struct {
	Enabled       bool
	FailOnErrors  bool
	Parser        *scope.Parser
	CleanBaseline map[string]bool // path -> true if the base version parsed cleanly
}

// Check re-parses the post-group content for each touched file and reports
// whether a previously-clean file now fails to parse.
func (v *SyntaxValidator) Check(ctx context.Context, path string, postGroupContent []byte) (brokeParsing bool, warning error) {
	if !v.Enabled || !v.Parser.IsSupported(path) {
		return false, nil
	}

	wasClean := v.CleanBaseline[path]

	tree, err := v.Parser.Parse(ctx, path, postGroupContent)
	if err != nil {
		if wasClean {
			return true, err
		}

		return false, err
	}

	tree.Close()

	return false, nil
}

// Chain runs the secret scanner, relevance filter, and syntax validator in
// order against each accepted semantic group, producing the accepted subset
// and a rejection report. Applied only in commit mode; fix/clean skip the
// chain entirely since dropping changes would desync later commits from the
// target tree.
type Chain struct {
	Secrets   *SecretScanner
	Relevance *RelevanceFilter
	Syntax    *SyntaxValidator
	// ApplyTentative renders a group's effect on its touched files, used by
	// the syntax validator to re-parse post-group content. Supplied by the
	// commit strategy, which owns tree materialization.
	ApplyTentative func(group *model.SemanticGroup, path string) ([]byte, error)
}

// ErrGroupRenderFailed wraps a failure to render a group's tentative content
// for syntax validation.
var ErrGroupRenderFailed = errors.New("filter: failed to render group for syntax validation")

// Run filters groups in order, returning the accepted groups and a report of
// every rejection with its reason.
func (c *Chain) Run(ctx context.Context, groups []*model.SemanticGroup) ([]*model.SemanticGroup, []Rejection) {
	var accepted []*model.SemanticGroup

	var rejections []Rejection

	for _, g := range groups {
		if c.Secrets != nil {
			if match, found := c.Secrets.Scan(g); found {
				rejections = append(rejections, Rejection{Group: g, Reason: ReasonSecretDetected, Detail: match})

				continue
			}
		}

		if c.Relevance != nil && c.Relevance.Enabled && c.Relevance.Intent != "" {
			score, err := c.Relevance.Score(ctx, g)
			if err == nil && score < c.Relevance.Threshold {
				rejections = append(rejections, Rejection{Group: g, Reason: ReasonBelowRelevance, Detail: fmt.Sprintf("score=%.3f", score)})

				continue
			}
		}

		if rejected, ok := c.checkSyntax(ctx, g); ok {
			rejections = append(rejections, rejected)

			continue
		}

		accepted = append(accepted, g)
	}

	return accepted, rejections
}

func (c *Chain) checkSyntax(ctx context.Context, g *model.SemanticGroup) (Rejection, bool) {
	if c.Syntax == nil || !c.Syntax.Enabled || c.ApplyTentative == nil {
		return Rejection{}, false
	}

	for path := range g.Files {
		content, err := c.ApplyTentative(g, path)
		if err != nil {
			continue
		}

		broke, warnErr := c.Syntax.Check(ctx, path, content)
		if broke && c.Syntax.FailOnErrors {
			return Rejection{Group: g, Reason: ReasonSyntaxError, Detail: warnErr.Error()}, true
		}
	}

	return Rejection{}, false
}
